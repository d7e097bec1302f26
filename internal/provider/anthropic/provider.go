// Package anthropic implements domain.Provider over the Anthropic Messages
// API, normalizing responses to the gateway's completion shape.
package anthropic

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	anthropicapi "github.com/metergate/metergate/internal/api/anthropic"
	"github.com/metergate/metergate/internal/domain"
)

// The Messages API requires max_tokens; used when the caller leaves it
// unset.
const defaultMaxTokens = 1024

// ProviderOption configures the provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = httpClient
	}
}

// Provider implements domain.Provider using the Anthropic Messages client.
type Provider struct {
	client     *anthropicapi.Client
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// New creates an Anthropic provider authenticated with apiKey.
func New(apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{now: time.Now}

	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []anthropicapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, anthropicapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, anthropicapi.WithHTTPClient(p.httpClient))
	}

	p.client = anthropicapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return "anthropic"
}

func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	resp, err := p.client.CreateMessage(ctx, toAPIRequest(req), &anthropicapi.RequestOptions{UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}

	return p.toCompletionResponse(resp), nil
}

func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	stream, err := p.client.StreamMessage(ctx, toAPIRequest(req), &anthropicapi.RequestOptions{UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		send := func(e domain.StreamEvent) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for result := range stream {
			if result.Err != nil {
				send(domain.StreamEvent{Err: result.Err})
				return
			}

			event := result.Event
			switch event.Type {
			case "message_start":
				if event.Message != nil && !send(domain.StreamEvent{Role: event.Message.Role}) {
					return
				}
			case "content_block_delta":
				if event.Delta.Text != "" && !send(domain.StreamEvent{ContentDelta: event.Delta.Text}) {
					return
				}
			case "message_delta":
				if event.Usage != nil && event.Usage.OutputTokens > 0 {
					usage := domain.StreamEvent{
						Usage: &domain.Usage{CompletionTokens: event.Usage.OutputTokens},
					}
					if !send(usage) {
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func toAPIRequest(req *domain.CompletionRequest) *anthropicapi.MessagesRequest {
	apiReq := &anthropicapi.MessagesRequest{
		Model:         req.Model,
		MaxTokens:     defaultMaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if req.MaxTokens != nil {
		apiReq.MaxTokens = *req.MaxTokens
	}

	// System messages travel in a dedicated field on this API.
	for _, m := range req.Messages {
		if m.Role == "system" {
			apiReq.System = m.Content
			continue
		}
		apiReq.Messages = append(apiReq.Messages, anthropicapi.Message{Role: m.Role, Content: m.Content})
	}

	return apiReq
}

func (p *Provider) toCompletionResponse(resp *anthropicapi.MessagesResponse) *domain.CompletionResponse {
	id := resp.ID
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}

	return &domain.CompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: p.now().Unix(),
		Model:   resp.Model,
		Choices: []domain.Choice{
			{
				Index:        0,
				Message:      domain.Message{Role: resp.Role, Content: resp.Text()},
				FinishReason: resp.StopReason,
			},
		},
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

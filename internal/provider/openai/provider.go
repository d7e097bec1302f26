// Package openai implements domain.Provider over the OpenAI-compatible chat
// completions wire format. Several upstream families (OpenAI, Mistral,
// Google's compatibility endpoint) share this implementation and differ only
// in name and base URL.
package openai

import (
	"context"
	"net/http"

	openaiapi "github.com/metergate/metergate/internal/api/openai"
	"github.com/metergate/metergate/internal/domain"
)

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

// Provider implements domain.Provider using the OpenAI-compatible client.
type Provider struct {
	name       string
	client     *openaiapi.Client
	baseURL    string
	httpClient *http.Client
}

// New creates a provider named name authenticated with apiKey.
func New(name, apiKey string, opts ...ProviderOption) *Provider {
	p := &Provider{name: name}

	for _, opt := range opts {
		opt(p)
	}

	var clientOpts []openaiapi.ClientOption
	if p.baseURL != "" {
		clientOpts = append(clientOpts, openaiapi.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, openaiapi.WithHTTPClient(p.httpClient))
	}

	p.client = openaiapi.NewClient(apiKey, clientOpts...)
	return p
}

func (p *Provider) Name() string {
	return p.name
}

func (p *Provider) Complete(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, toAPIRequest(req), &openaiapi.RequestOptions{UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}

	return toCompletionResponse(resp), nil
}

func (p *Provider) Stream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	stream, err := p.client.StreamChatCompletion(ctx, toAPIRequest(req), &openaiapi.RequestOptions{UserAgent: req.UserAgent})
	if err != nil {
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer close(out)
		for result := range stream {
			if result.Err != nil {
				select {
				case out <- domain.StreamEvent{Err: result.Err}:
				case <-ctx.Done():
				}
				return
			}

			chunk := result.Chunk
			if len(chunk.Choices) > 0 {
				choice := chunk.Choices[0]
				event := domain.StreamEvent{
					Role:         choice.Delta.Role,
					ContentDelta: choice.Delta.Content,
				}
				if choice.FinishReason != nil {
					event.FinishReason = *choice.FinishReason
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}

			if chunk.Usage != nil {
				usage := domain.StreamEvent{
					Usage: &domain.Usage{
						PromptTokens:     chunk.Usage.PromptTokens,
						CompletionTokens: chunk.Usage.CompletionTokens,
						TotalTokens:      chunk.Usage.TotalTokens,
					},
				}
				select {
				case out <- usage:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func toAPIRequest(req *domain.CompletionRequest) *openaiapi.ChatCompletionRequest {
	messages := make([]openaiapi.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openaiapi.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return &openaiapi.ChatCompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		Temperature:      req.Temperature,
		MaxTokens:        req.MaxTokens,
		TopP:             req.TopP,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stop:             req.Stop,
		Stream:           req.Stream,
	}
}

func toCompletionResponse(resp *openaiapi.ChatCompletionResponse) *domain.CompletionResponse {
	choices := make([]domain.Choice, len(resp.Choices))
	for i, c := range resp.Choices {
		choices[i] = domain.Choice{
			Index:        c.Index,
			Message:      domain.Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: c.FinishReason,
		}
	}

	return &domain.CompletionResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: domain.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

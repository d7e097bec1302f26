package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/metergate/metergate/internal/domain"
)

// Relay forwards raw requests to an upstream family's REST surface,
// preserving method, query, headers, and body. Only the Host header is
// stripped and the Authorization header replaced with the gateway's own
// upstream credential.
type Relay struct {
	registry   *Registry
	httpClient *http.Client
}

// NewRelay creates a relay over the registry. The client's timeout (set by
// the gateway) bounds every upstream call.
func NewRelay(registry *Registry, httpClient *http.Client) *Relay {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Relay{registry: registry, httpClient: httpClient}
}

// Forward sends the raw request upstream and returns the response with its
// body still streaming from the upstream connection. The caller must close
// the body.
func (r *Relay) Forward(ctx context.Context, req *domain.RelayRequest) (*domain.RelayResponse, error) {
	f, ok := r.registry.Family(req.Provider)
	if !ok {
		return nil, domain.ErrUpstream("unsupported provider: %s", req.Provider)
	}

	apiKey, err := r.registry.Credential(f)
	if err != nil {
		return nil, err
	}

	// OpenAI-wire base URLs carry their version prefix; the anthropic base
	// does not, so the relay restores it.
	path := strings.TrimPrefix(req.Path, "/")
	if f.Wire == WireAnthropic {
		path = "v1/" + path
	}

	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(f.BaseURL, "/"), path)
	if req.Query != "" {
		url += "?" + req.Query
	}

	var body *bytes.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	} else {
		body = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, domain.ErrUpstream("failed to create request: %v", err)
	}

	for name, values := range req.Header {
		// Host conflicts with the upstream's virtual hosting; the caller's
		// Authorization never leaves the gateway.
		if strings.EqualFold(name, "Host") || strings.EqualFold(name, "Authorization") {
			continue
		}
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	setRelayAuth(httpReq, f, apiKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrTimeout("upstream request timed out")
		}
		return nil, domain.ErrUpstream("request failed: %v", err)
	}

	return &domain.RelayResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

func setRelayAuth(req *http.Request, f Family, apiKey string) {
	switch f.Wire {
	case WireAnthropic:
		req.Header.Set("x-api-key", apiKey)
		if req.Header.Get("anthropic-version") == "" {
			req.Header.Set("anthropic-version", "2023-06-01")
		}
	default:
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

package domain

import (
	"context"
	"io"
	"net/http"
)

// Provider defines the interface for structured upstream LLM providers.
// The request's Model carries the bare upstream model name, already stripped
// of its provider prefix by the router.
type Provider interface {
	Name() string

	// Complete handles unary (non-streaming) requests.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Stream returns a channel of events. The channel is closed by the
	// provider when the upstream stream completes or the context is
	// cancelled.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamEvent, error)
}

// RelayRequest describes a raw request to forward verbatim to an upstream
// provider's REST surface.
type RelayRequest struct {
	Provider string
	Method   string
	Path     string
	Query    string
	Header   http.Header
	Body     []byte
}

// RelayResponse carries the upstream status, headers, and body unmodified.
// Body streams directly from the upstream connection; the caller must close
// it.
type RelayResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

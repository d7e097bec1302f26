// Package gateway is the forwarding layer: it routes validated completion
// requests to upstream providers and relays raw requests for unmapped
// endpoints.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/metergate/metergate/internal/domain"
	"github.com/metergate/metergate/internal/metrics"
	"github.com/metergate/metergate/internal/provider"
	"github.com/metergate/metergate/internal/router"
)

// DefaultUpstreamTimeout bounds every upstream call.
const DefaultUpstreamTimeout = 60 * time.Second

// Option configures the gateway.
type Option func(*Gateway)

// WithUpstreamTimeout overrides the upstream call timeout.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(g *Gateway) {
		g.metrics = collector
	}
}

// Gateway dispatches completion requests and raw relays. Each upstream call
// is independent and bounded by the configured timeout; a hung upstream
// cannot stall unrelated requests.
type Gateway struct {
	router    *router.Router
	providers *provider.Registry
	relay     *provider.Relay
	logger    *slog.Logger
	metrics   *metrics.Collector
	timeout   time.Duration
}

// New creates a gateway over the given router and provider registry.
func New(rt *router.Router, providers *provider.Registry, relay *provider.Relay, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		router:    rt,
		providers: providers,
		relay:     relay,
		logger:    logger,
		timeout:   DefaultUpstreamTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// resolve applies defaults, resolves the canonical model identifier, and
// selects the provider implementation.
func (g *Gateway) resolve(req *domain.CompletionRequest) (domain.Provider, *domain.CompletionRequest, error) {
	req.ApplyDefaults()

	canonical := g.router.Resolve(req.Provider, req.Model)
	providerName, model := router.Split(canonical)

	p, err := g.providers.Get(providerName)
	if err != nil {
		return nil, nil, err
	}

	routed := *req
	routed.Provider = providerName
	routed.Model = model
	return p, &routed, nil
}

// Dispatch forwards a unary completion request to the resolved provider.
func (g *Gateway) Dispatch(ctx context.Context, req *domain.CompletionRequest) (*domain.CompletionResponse, error) {
	p, routed, err := g.resolve(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(ctx, routed)
	g.observe(p.Name(), start, err)
	if err != nil {
		g.logger.Warn("upstream completion failed",
			slog.String("provider", p.Name()),
			slog.String("model", routed.Model),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return resp, nil
}

// DispatchStream forwards a streaming completion request. Events are relayed
// in order without buffering; cancelling the returned context tears down the
// upstream connection.
func (g *Gateway) DispatchStream(ctx context.Context, req *domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	p, routed, err := g.resolve(req)
	if err != nil {
		return nil, err
	}

	// The timeout context must outlive this call: it is released when the
	// upstream stream drains or the caller goes away.
	streamCtx, cancel := context.WithTimeout(ctx, g.timeout)

	start := time.Now()
	events, err := p.Stream(streamCtx, routed)
	if err != nil {
		cancel()
		g.observe(p.Name(), start, err)
		g.logger.Warn("upstream stream failed",
			slog.String("provider", p.Name()),
			slog.String("model", routed.Model),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	out := make(chan domain.StreamEvent)
	go func() {
		defer cancel()
		defer close(out)
		for event := range events {
			select {
			case out <- event:
			case <-ctx.Done():
				// Caller went away; cancel() propagates to the upstream
				// connection via streamCtx.
				return
			}
		}
		g.observe(p.Name(), start, nil)
	}()

	return out, nil
}

// Relay forwards a raw request to the upstream provider's REST surface. The
// response body streams from the upstream; closing it releases the
// connection and the timeout.
func (g *Gateway) Relay(ctx context.Context, req *domain.RelayRequest) (*domain.RelayResponse, error) {
	if req.Provider == "" {
		req.Provider = router.DefaultProvider
	}

	relayCtx, cancel := context.WithTimeout(ctx, g.timeout)

	start := time.Now()
	resp, err := g.relay.Forward(relayCtx, req)
	g.observe(req.Provider, start, err)
	if err != nil {
		cancel()
		g.logger.Warn("raw relay failed",
			slog.String("provider", req.Provider),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (g *Gateway) observe(providerName string, start time.Time, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordUpstreamLatency(providerName, time.Since(start))
	if err != nil {
		g.metrics.RecordUpstreamError(providerName)
	}
}

// cancelReadCloser ties a context cancel to body close so the relay's
// timeout context is released exactly when the caller finishes reading.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

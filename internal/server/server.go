// Package server exposes the gateway's HTTP surface: signup and session
// endpoints, key management, and the metered proxy routes.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/metergate/metergate/internal/apikey"
	"github.com/metergate/metergate/internal/gateway"
	"github.com/metergate/metergate/internal/identity"
	"github.com/metergate/metergate/internal/metrics"
	"github.com/metergate/metergate/internal/session"
)

// managementTimeout bounds key-management and session requests. Proxy routes
// are exempt; their upstream deadline lives in the gateway.
const managementTimeout = 30 * time.Second

// Deps are the services the HTTP surface exposes.
type Deps struct {
	Identity *identity.Service
	Sessions *session.Issuer
	Keys     *apikey.Registry
	Gateway  *gateway.Gateway
	Metrics  *metrics.Collector
}

// handlers binds the services to their HTTP endpoints.
type handlers struct {
	identity *identity.Service
	sessions *session.Issuer
	keys     *apikey.Registry
	gateway  *gateway.Gateway
	metrics  *metrics.Collector
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
}

// New builds the router with the full middleware chain and all routes
// mounted.
func New(port int, logger *slog.Logger, deps Deps) *Server {
	h := &handlers{
		identity: deps.Identity,
		sessions: deps.Sessions,
		keys:     deps.Keys,
		gateway:  deps.Gateway,
		metrics:  deps.Metrics,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "metergate")
	})

	// Management surface: session-token auth, bounded handling time.
	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(managementTimeout))

		r.Post("/signup", h.handleSignup)
		r.Post("/token", h.handleToken)

		r.Group(func(r chi.Router) {
			r.Use(h.sessionAuth)
			r.Get("/users/me", h.handleMe)
			r.Post("/api-keys", h.handleCreateKey)
			r.Get("/api-keys", h.handleListKeys)
			r.Delete("/api-keys/{key}", h.handleRevokeKey)
		})
	})

	// Proxy surface: access-key auth, one consumed use per request.
	r.Group(func(r chi.Router) {
		r.Use(h.requireAccessKey)
		r.Post("/v1/chat/completions", h.handleChatCompletion)
		r.HandleFunc("/v1/*", h.handleRelay)
	})

	r.Get("/healthz", h.handleHealthz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	return &Server{
		Router: r,
		Port:   port,
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	return http.ListenAndServe(fmt.Sprintf(":%d", s.Port), s.Router)
}

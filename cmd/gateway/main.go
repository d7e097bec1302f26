package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/metergate/metergate/internal/apikey"
	"github.com/metergate/metergate/internal/config"
	"github.com/metergate/metergate/internal/gateway"
	"github.com/metergate/metergate/internal/identity"
	"github.com/metergate/metergate/internal/metrics"
	"github.com/metergate/metergate/internal/provider"
	"github.com/metergate/metergate/internal/router"
	"github.com/metergate/metergate/internal/server"
	"github.com/metergate/metergate/internal/session"
	"github.com/metergate/metergate/internal/storage"
	"github.com/metergate/metergate/internal/storage/memory"
	"github.com/metergate/metergate/internal/storage/sqlite"
	"github.com/metergate/metergate/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdown, err := telemetry.InitTracer("metergate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	sessions, err := session.NewIssuer(cfg.Auth.Secret, cfg.Auth.SessionTTL)
	if err != nil {
		log.Fatalf("Failed to create session issuer: %v", err)
	}

	families := make([]provider.Family, len(cfg.Providers))
	for i, p := range cfg.Providers {
		families[i] = provider.Family{
			Name:          p.Name,
			Wire:          provider.Wire(p.Wire),
			BaseURL:       p.BaseURL,
			CredentialEnv: p.CredentialEnv,
		}
	}
	registry := provider.NewRegistry(families)

	collector := metrics.NewCollector()

	upstreamTimeout := cfg.Gateway.UpstreamTimeout
	if upstreamTimeout <= 0 {
		upstreamTimeout = gateway.DefaultUpstreamTimeout
	}
	relay := provider.NewRelay(registry, &http.Client{Timeout: upstreamTimeout})

	gw := gateway.New(
		router.New(cfg.Routing),
		registry,
		relay,
		logger,
		gateway.WithUpstreamTimeout(upstreamTimeout),
		gateway.WithMetrics(collector),
	)

	srv := server.New(cfg.Server.Port, logger, server.Deps{
		Identity: identity.NewService(store),
		Sessions: sessions,
		Keys:     apikey.NewRegistry(store),
		Gateway:  gw,
		Metrics:  collector,
	})

	logger.Info("gateway configured",
		slog.String("storage", cfg.Storage.Type),
		slog.Duration("upstream_timeout", upstreamTimeout),
	)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "sqlite":
		return sqlite.New(cfg.Storage.Path)
	default:
		return memory.New(), nil
	}
}

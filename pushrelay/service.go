// Package pushrelay assembles the relay's HTTP service on a microservice BaseServer.
package pushrelay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/analytics"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/platform"
	"github.com/tinywideclouds/go-push-relay/internal/ratelimit"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// Dependencies are the collaborators built by the caller from configuration.
type Dependencies struct {
	Store    dispatch.Store
	Resolver *platform.Resolver
	// Exporter may be nil.
	Exporter analytics.Exporter
	// RelayKeys may be nil only when signature validation is disabled.
	RelayKeys api.RelayKeySource
	// Identity may be nil, disabling bearer token checks on registration.
	Identity api.IdentityDecoder
	// Limiter may be nil, disabling rate limiting.
	Limiter ratelimit.Limiter
	// ManagementAuth may be nil only when management auth is disabled.
	ManagementAuth func(http.Handler) http.Handler
}

type Wrapper struct {
	*microservice.BaseServer
	exporter analytics.Exporter
	logger   *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if cfg.ValidateSignatures && deps.RelayKeys == nil {
		return nil, errors.New("signature validation is enabled but no relay key source was provided")
	}
	if cfg.ManagementAuth.Enabled && deps.ManagementAuth == nil {
		return nil, errors.New("management auth is enabled but no auth middleware was provided")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	exporter := deps.Exporter
	if exporter == nil {
		exporter = analytics.NoopExporter{}
	}
	processor := pipeline.NewProcessor(deps.Store, deps.Resolver, exporter, logger)

	// 3. API
	relayKeys := deps.RelayKeys
	if !cfg.ValidateSignatures {
		relayKeys = nil
	}
	managementAuth := deps.ManagementAuth
	if !cfg.ManagementAuth.Enabled {
		managementAuth = nil
	}
	api.RegisterRoutes(baseServer.Mux(), api.RouteConfig{
		Clients:              api.NewClientAPI(deps.Store, processor, deps.Identity, cfg.DefaultTenant.ID, logger),
		Tenants:              api.NewTenantAPI(deps.Store, deps.Resolver, deps.Resolver.AllowNoop(), logger),
		RelayKeys:            relayKeys,
		ManagementAuth:       managementAuth,
		Limiter:              deps.Limiter,
		RateLimitFallbackKey: cfg.RateLimit.FallbackKey,
		Cors:                 middleware.NewCorsMiddleware(cfg.CorsConfig, logger),
		SingleTenant:         cfg.DefaultTenant.ID != "",
		Logger:               logger,
	})

	return &Wrapper{
		BaseServer: baseServer,
		exporter:   exporter,
		logger:     logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	if stopper, ok := w.exporter.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}

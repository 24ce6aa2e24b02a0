package api

import (
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-push-relay/internal/ratelimit"
)

// RouteConfig collects the handlers and middleware mounted by RegisterRoutes.
type RouteConfig struct {
	Clients *ClientAPI
	Tenants *TenantAPI
	// RelayKeys verifies push webhooks. Nil mounts the push routes unsigned.
	RelayKeys RelayKeySource
	// ManagementAuth guards tenant administration and client deletion. Nil
	// leaves those routes open.
	ManagementAuth func(http.Handler) http.Handler
	// Limiter throttles every route. Nil disables rate limiting.
	Limiter              ratelimit.Limiter
	RateLimitFallbackKey string
	// Cors wraps every route. Nil leaves responses without CORS headers.
	Cors func(http.Handler) http.Handler
	// SingleTenant mounts the /clients aliases bound to the client API's default tenant.
	SingleTenant bool
	Logger       *slog.Logger
}

// Router is the subset of *http.ServeMux the routes are mounted on.
type Router interface {
	Handle(pattern string, handler http.Handler)
}

func RegisterRoutes(mux Router, cfg RouteConfig) {
	wrap := func(h http.Handler) http.Handler {
		if cfg.Limiter != nil {
			h = RateLimitMiddleware(cfg.Limiter, cfg.RateLimitFallbackKey, cfg.Logger)(h)
		}
		if cfg.Cors != nil {
			h = cfg.Cors(h)
		}
		return h
	}
	signed := func(h http.Handler) http.Handler {
		if cfg.RelayKeys == nil {
			cfg.Logger.Warn("Webhook signature verification disabled")
			return h
		}
		return SignatureMiddleware(cfg.RelayKeys, cfg.Logger)(h)
	}
	if cfg.ManagementAuth == nil {
		cfg.Logger.Warn("Management routes mounted without authentication")
	}
	managed := func(h http.HandlerFunc) http.Handler {
		if cfg.ManagementAuth == nil {
			return wrap(h)
		}
		return wrap(cfg.ManagementAuth(h))
	}

	mux.Handle("GET /health", wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))
	preflight := wrap(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for _, path := range []string{"/tenants", "/tenants/", "/clients", "/clients/"} {
		mux.Handle("OPTIONS "+path, preflight)
	}

	// Tenants
	mux.Handle("POST /tenants", managed(cfg.Tenants.Create))
	mux.Handle("GET /tenants/{tenant_id}", managed(cfg.Tenants.Get))
	mux.Handle("DELETE /tenants/{tenant_id}", managed(cfg.Tenants.Delete))
	mux.Handle("POST /tenants/{tenant_id}/apns", managed(cfg.Tenants.UpdateAPNs))
	mux.Handle("POST /tenants/{tenant_id}/fcm", managed(cfg.Tenants.UpdateFCM))
	mux.Handle("POST /tenants/{tenant_id}/fcm_v1", managed(cfg.Tenants.UpdateFCMV1))

	// Clients
	push := signed(http.HandlerFunc(cfg.Clients.Push))
	mux.Handle("POST /tenants/{tenant_id}/clients", wrap(http.HandlerFunc(cfg.Clients.Register)))
	mux.Handle("DELETE /tenants/{tenant_id}/clients/{client_id}", managed(cfg.Clients.Delete))
	mux.Handle("POST /tenants/{tenant_id}/clients/{client_id}", wrap(push))

	if cfg.SingleTenant {
		mux.Handle("POST /clients", wrap(http.HandlerFunc(cfg.Clients.Register)))
		mux.Handle("DELETE /clients/{client_id}", managed(cfg.Clients.Delete))
		mux.Handle("POST /clients/{client_id}", wrap(push))
	}
}

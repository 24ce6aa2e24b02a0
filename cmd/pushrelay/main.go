package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/joho/godotenv"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-relay/internal/analytics"
	"github.com/tinywideclouds/go-push-relay/internal/auth"
	"github.com/tinywideclouds/go-push-relay/internal/platform"
	"github.com/tinywideclouds/go-push-relay/internal/ratelimit"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-relay/internal/storage/postgres/migrations"
	"github.com/tinywideclouds/go-push-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Storage (Decorated) ---
	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Error("Store initialization failed", "err", err)
		os.Exit(1)
	}

	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err = cache.NewRedisClient(cache.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		store = cache.WrapStore(store, redisClient, cfg.TenantCacheTTL)
		logger.Info("Tenant store upgraded", "type", "redis_cached", "ttl", cfg.TenantCacheTTL)
	}

	// --- Rate Limiting ---
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limitCfg := ratelimit.Config{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window}
		switch cfg.RateLimit.Backend {
		case config.RateLimitBackendRedis:
			limiter = ratelimit.NewRedisLimiter(redisClient.Redis(), limitCfg, nil)
		default:
			limiter = ratelimit.NewMemoryLimiter(limitCfg, nil)
		}
		logger.Info("Rate limiting enabled", "backend", cfg.RateLimit.Backend)
	}

	// --- Providers ---
	resolver := platform.NewResolver(platform.Options{AllowNoop: cfg.DebugProviders}, logger)
	if cfg.DebugProviders {
		logger.Warn("Debug providers enabled: every tenant accepts noop clients")
	}

	if cfg.DefaultTenant.ID != "" {
		creds, err := cfg.DefaultTenant.LoadCredentials()
		if err != nil {
			logger.Error("Failed to load default tenant credentials", "err", err)
			os.Exit(1)
		}
		if err := pushrelay.ProvisionDefaultTenant(ctx, store, cfg.DefaultTenant.ID, creds, logger); err != nil {
			logger.Error("Failed to provision default tenant", "err", err)
			os.Exit(1)
		}
	}

	// --- Auth ---
	deps := pushrelay.Dependencies{
		Store:    store,
		Resolver: resolver,
		Limiter:  limiter,
	}
	if cfg.ValidateSignatures {
		deps.RelayKeys = auth.NewRelayKeyCache(cfg.RelayURL, logger)
	}
	if cfg.ManagementAuth.Enabled {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(cfg.ManagementAuth.IdentityServiceURL, middleware.RSA256, logger)
		if err != nil {
			logger.Error("Failed to discover identity service JWKS", "err", err)
			os.Exit(1)
		}
		deps.ManagementAuth, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			logger.Error("Failed to create management auth middleware", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("Management auth disabled; tenant administration routes are open")
	}
	if len(cfg.IdentityAudiences) > 0 {
		deps.Identity = auth.NewIdentityVerifier(cfg.IdentityAudiences, time.Now)
	} else {
		logger.Warn("No identity audiences configured; client bearer tokens are not checked")
	}

	// --- Analytics ---
	if cfg.Analytics.Enabled {
		psClient, err := pubsub.NewClient(ctx, cfg.Analytics.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()
		deps.Exporter, err = analytics.NewPubsubExporter(ctx, psClient, cfg.Analytics.ProjectID, cfg.Analytics.TopicID, logger)
		if err != nil {
			logger.Error("Analytics exporter failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Service ---
	service, err := pushrelay.New(cfg, deps, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr)
		if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", "err", err)
	}
}

// newStore opens postgres when a database URL is configured and falls back to
// the in-process store otherwise.
func newStore(cfg *config.Config, logger *slog.Logger) (dispatch.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("No database_url configured; using the in-memory store")
		return memory.NewStore(nil), nil
	}

	if err := migrations.Run(cfg.DatabaseURL, logger); err != nil {
		return nil, err
	}
	gormLogger := gormlogger.Default.LogMode(gormlogger.Warn)
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		gormLogger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	db, err := gorm.Open(gormpostgres.Open(cfg.DatabaseURL), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	logger.Info("Store initialized", "type", "postgres")
	return postgres.NewStore(db), nil
}

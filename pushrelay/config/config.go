package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type RateLimitConfig struct {
	Enabled     bool
	MaxRequests int
	Window      time.Duration
	Backend     string
	// FallbackKey is shared by requests whose client address is unknown.
	FallbackKey string
}

type AnalyticsConfig struct {
	Enabled   bool
	ProjectID string
	TopicID   string
}

// ManagementAuthConfig locates the identity service whose JWKS signs the
// bearer tokens accepted on tenant administration routes.
type ManagementAuthConfig struct {
	Enabled            bool
	IdentityServiceURL string
}

// APNsConfig points at the default tenant's APNs credential files.
type APNsConfig struct {
	CertificateFile     string
	CertificatePassword string
	PrivateKeyFile      string
	KeyID               string
	TeamID              string
	Topic               string
	Sandbox             bool
}

// DefaultTenantConfig describes the tenant served by the /clients routes.
type DefaultTenantConfig struct {
	ID                   string
	FCMAPIKey            string
	FCMV1CredentialsFile string
	APNs                 APNsConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr  string
	DatabaseURL string

	RelayURL           string
	ValidateSignatures bool
	IdentityAudiences  []string
	DebugProviders     bool
	TenantCacheTTL     time.Duration

	DefaultTenant  DefaultTenantConfig
	ManagementAuth ManagementAuthConfig
	CorsConfig     middleware.CorsConfig
	Redis          RedisConfig
	RateLimit      RateLimitConfig
	Analytics      AnalyticsConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	overrideString("DATABASE_URL", &cfg.DatabaseURL, logger)
	overrideString("RELAY_URL", &cfg.RelayURL, logger)
	overrideBool("VALIDATE_SIGNATURES", &cfg.ValidateSignatures, logger)
	overrideBool("DEBUG_PROVIDERS", &cfg.DebugProviders, logger)
	overrideDuration("TENANT_CACHE_TTL", &cfg.TenantCacheTTL, logger)
	if val := os.Getenv("IDENTITY_AUDIENCES"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_AUDIENCES", "source", "env")
		cfg.IdentityAudiences = splitList(val)
	}

	// Default tenant
	overrideString("DEFAULT_TENANT_ID", &cfg.DefaultTenant.ID, logger)
	overrideString("FCM_API_KEY", &cfg.DefaultTenant.FCMAPIKey, logger)
	overrideString("FCM_V1_CREDENTIALS_FILE", &cfg.DefaultTenant.FCMV1CredentialsFile, logger)
	overrideString("APNS_CERTIFICATE_FILE", &cfg.DefaultTenant.APNs.CertificateFile, logger)
	overrideString("APNS_CERTIFICATE_PASSWORD", &cfg.DefaultTenant.APNs.CertificatePassword, logger)
	overrideString("APNS_PRIVATE_KEY_FILE", &cfg.DefaultTenant.APNs.PrivateKeyFile, logger)
	overrideString("APNS_KEY_ID", &cfg.DefaultTenant.APNs.KeyID, logger)
	overrideString("APNS_TEAM_ID", &cfg.DefaultTenant.APNs.TeamID, logger)
	overrideString("APNS_TOPIC", &cfg.DefaultTenant.APNs.Topic, logger)
	overrideBool("APNS_SANDBOX", &cfg.DefaultTenant.APNs.Sandbox, logger)

	// Management auth
	overrideBool("MANAGEMENT_AUTH_ENABLED", &cfg.ManagementAuth.Enabled, logger)
	overrideString("IDENTITY_SERVICE_URL", &cfg.ManagementAuth.IdentityServiceURL, logger)

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Rate limiting
	overrideBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled, logger)
	if val := os.Getenv("RATE_LIMIT_MAX"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil && limit > 0 {
			logger.Debug("Overriding config value", "key", "RATE_LIMIT_MAX", "source", "env")
			cfg.RateLimit.MaxRequests = limit
		}
	}
	overrideDuration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window, logger)
	overrideString("RATE_LIMIT_BACKEND", &cfg.RateLimit.Backend, logger)

	// Analytics
	overrideBool("ANALYTICS_ENABLED", &cfg.Analytics.Enabled, logger)
	overrideString("PROJECT_ID", &cfg.Analytics.ProjectID, logger)
	overrideString("ANALYTICS_TOPIC_ID", &cfg.Analytics.TopicID, logger)

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		cfg.CorsConfig.AllowedOrigins = splitList(corsOrigins)
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.TenantCacheTTL <= 0 {
		cfg.TenantCacheTTL = time.Minute
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = RateLimitBackendMemory
	}
	if cfg.RateLimit.FallbackKey == "" {
		cfg.RateLimit.FallbackKey = "unknown"
	}

	// 3. Final Validation
	if cfg.ValidateSignatures && cfg.RelayURL == "" {
		return nil, fmt.Errorf("relay_url is required when signatures are validated (set via YAML or RELAY_URL env var)")
	}
	if cfg.ManagementAuth.Enabled && cfg.ManagementAuth.IdentityServiceURL == "" {
		return nil, fmt.Errorf("management_auth requires identity_service_url (set via YAML or IDENTITY_SERVICE_URL env var)")
	}
	switch cfg.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if cfg.RateLimit.Enabled && !cfg.Redis.Enabled {
			return nil, fmt.Errorf("rate_limit.backend redis requires redis to be enabled")
		}
	default:
		return nil, fmt.Errorf("unknown rate_limit.backend %q", cfg.RateLimit.Backend)
	}
	if cfg.Analytics.Enabled && (cfg.Analytics.ProjectID == "" || cfg.Analytics.TopicID == "") {
		return nil, fmt.Errorf("analytics requires project_id and topic_id (set via YAML or PROJECT_ID/ANALYTICS_TOPIC_ID env vars)")
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func overrideString(key string, dst *string, logger *slog.Logger) {
	if val := os.Getenv(key); val != "" {
		logger.Debug("Overriding config value", "key", key, "source", "env")
		*dst = val
	}
}

func overrideBool(key string, dst *bool, logger *slog.Logger) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		logger.Warn("Ignoring invalid boolean env var", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = b
}

func overrideDuration(key string, dst *time.Duration, logger *slog.Logger) {
	val := os.Getenv(key)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		logger.Warn("Ignoring invalid duration env var", "key", key, "value", val)
		return
	}
	logger.Debug("Overriding config value", "key", key, "source", "env")
	*dst = d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

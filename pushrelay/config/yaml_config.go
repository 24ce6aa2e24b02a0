package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlRateLimitConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MaxRequests int    `yaml:"max_requests"`
	Window      string `yaml:"window"`
	Backend     string `yaml:"backend"`
	FallbackKey string `yaml:"fallback_key"`
}

type YamlAnalyticsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
}

type YamlManagementAuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	IdentityServiceURL string `yaml:"identity_service_url"`
}

type YamlAPNsConfig struct {
	CertificateFile     string `yaml:"certificate_file"`
	CertificatePassword string `yaml:"certificate_password"`
	PrivateKeyFile      string `yaml:"private_key_file"`
	KeyID               string `yaml:"key_id"`
	TeamID              string `yaml:"team_id"`
	Topic               string `yaml:"topic"`
	Sandbox             bool   `yaml:"sandbox"`
}

type YamlDefaultTenantConfig struct {
	ID                   string         `yaml:"id"`
	FCMAPIKey            string         `yaml:"fcm_api_key"`
	FCMV1CredentialsFile string         `yaml:"fcm_v1_credentials_file"`
	APNs                 YamlAPNsConfig `yaml:"apns"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ListenAddr         string                   `yaml:"listen_addr"`
	DatabaseURL        string                   `yaml:"database_url"`
	RelayURL           string                   `yaml:"relay_url"`
	ValidateSignatures bool                     `yaml:"validate_signatures"`
	IdentityAudiences  []string                 `yaml:"identity_audiences"`
	DebugProviders     bool                     `yaml:"debug_providers"`
	TenantCacheTTL     string                   `yaml:"tenant_cache_ttl"`
	DefaultTenant      YamlDefaultTenantConfig  `yaml:"default_tenant"`
	ManagementAuth     YamlManagementAuthConfig `yaml:"management_auth"`
	CorsConfig         YamlCorsConfig           `yaml:"cors"`
	RedisConfig        YamlRedisConfig          `yaml:"redis"`
	RateLimit          YamlRateLimitConfig      `yaml:"rate_limit"`
	Analytics          YamlAnalyticsConfig      `yaml:"analytics"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	window, err := parseOptionalDuration("rate_limit.window", baseCfg.RateLimit.Window)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseOptionalDuration("tenant_cache_ttl", baseCfg.TenantCacheTTL)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:         baseCfg.ListenAddr,
		DatabaseURL:        baseCfg.DatabaseURL,
		RelayURL:           baseCfg.RelayURL,
		ValidateSignatures: baseCfg.ValidateSignatures,
		IdentityAudiences:  baseCfg.IdentityAudiences,
		DebugProviders:     baseCfg.DebugProviders,
		TenantCacheTTL:     cacheTTL,
		DefaultTenant: DefaultTenantConfig{
			ID:                   baseCfg.DefaultTenant.ID,
			FCMAPIKey:            baseCfg.DefaultTenant.FCMAPIKey,
			FCMV1CredentialsFile: baseCfg.DefaultTenant.FCMV1CredentialsFile,
			APNs: APNsConfig{
				CertificateFile:     baseCfg.DefaultTenant.APNs.CertificateFile,
				CertificatePassword: baseCfg.DefaultTenant.APNs.CertificatePassword,
				PrivateKeyFile:      baseCfg.DefaultTenant.APNs.PrivateKeyFile,
				KeyID:               baseCfg.DefaultTenant.APNs.KeyID,
				TeamID:              baseCfg.DefaultTenant.APNs.TeamID,
				Topic:               baseCfg.DefaultTenant.APNs.Topic,
				Sandbox:             baseCfg.DefaultTenant.APNs.Sandbox,
			},
		},
		ManagementAuth: ManagementAuthConfig{
			Enabled:            baseCfg.ManagementAuth.Enabled,
			IdentityServiceURL: baseCfg.ManagementAuth.IdentityServiceURL,
		},
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		RateLimit: RateLimitConfig{
			Enabled:     baseCfg.RateLimit.Enabled,
			MaxRequests: baseCfg.RateLimit.MaxRequests,
			Window:      window,
			Backend:     baseCfg.RateLimit.Backend,
			FallbackKey: baseCfg.RateLimit.FallbackKey,
		},
		Analytics: AnalyticsConfig{
			Enabled:   baseCfg.Analytics.Enabled,
			ProjectID: baseCfg.Analytics.ProjectID,
			TopicID:   baseCfg.Analytics.TopicID,
		},
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"validate_signatures", cfg.ValidateSignatures,
		"default_tenant", cfg.DefaultTenant.ID,
	)

	return cfg, nil
}

func parseOptionalDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

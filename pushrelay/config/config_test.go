package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-relay/pkg/notification"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ListenAddr:         ":8080",
			RelayURL:           "https://relay.example",
			ValidateSignatures: true,
			RateLimit: config.RateLimitConfig{
				Enabled:     true,
				MaxRequests: 10,
				Window:      time.Second,
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PORT", "9090")
		t.Setenv("DATABASE_URL", "postgres://relay@db/relay")
		t.Setenv("RELAY_URL", "https://other.example")
		t.Setenv("DEFAULT_TENANT_ID", "solo")
		t.Setenv("APNS_SANDBOX", "true")
		t.Setenv("IDENTITY_AUDIENCES", "aud-a, aud-b,")
		t.Setenv("REDIS_ADDR", "localhost:6379")
		t.Setenv("RATE_LIMIT_BACKEND", "redis")
		t.Setenv("RATE_LIMIT_WINDOW", "2s")
		t.Setenv("RATE_LIMIT_MAX", "50")
		t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.com, http://b.com")
		t.Setenv("MANAGEMENT_AUTH_ENABLED", "true")
		t.Setenv("IDENTITY_SERVICE_URL", "https://identity.example")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "postgres://relay@db/relay", finalCfg.DatabaseURL)
		assert.Equal(t, "https://other.example", finalCfg.RelayURL)
		assert.Equal(t, "solo", finalCfg.DefaultTenant.ID)
		assert.True(t, finalCfg.DefaultTenant.APNs.Sandbox)
		assert.Equal(t, []string{"aud-a", "aud-b"}, finalCfg.IdentityAudiences)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, config.RateLimitBackendRedis, finalCfg.RateLimit.Backend)
		assert.Equal(t, 2*time.Second, finalCfg.RateLimit.Window)
		assert.Equal(t, 50, finalCfg.RateLimit.MaxRequests)
		assert.Equal(t, []string{"http://a.com", "http://b.com"}, finalCfg.CorsConfig.AllowedOrigins)
		assert.True(t, finalCfg.ManagementAuth.Enabled)
		assert.Equal(t, "https://identity.example", finalCfg.ManagementAuth.IdentityServiceURL)
	})

	t.Run("Success - Defaults filled", func(t *testing.T) {
		finalCfg, err := config.UpdateConfigWithEnvOverrides(&config.Config{}, logger)
		require.NoError(t, err)

		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, config.RateLimitBackendMemory, finalCfg.RateLimit.Backend)
		assert.Equal(t, "unknown", finalCfg.RateLimit.FallbackKey)
		assert.Equal(t, time.Minute, finalCfg.TenantCacheTTL)
	})

	t.Run("Invalid env values are ignored", func(t *testing.T) {
		t.Setenv("VALIDATE_SIGNATURES", "maybe")
		t.Setenv("RATE_LIMIT_WINDOW", "soon")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(baseConfig(), logger)
		require.NoError(t, err)
		assert.True(t, finalCfg.ValidateSignatures)
		assert.Equal(t, time.Second, finalCfg.RateLimit.Window)
	})

	t.Run("Validation Failure - Signatures without relay", func(t *testing.T) {
		cfg := baseConfig()
		cfg.RelayURL = ""
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Redis limiter without redis", func(t *testing.T) {
		cfg := baseConfig()
		cfg.RateLimit.Backend = config.RateLimitBackendRedis
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Unknown limiter backend", func(t *testing.T) {
		cfg := baseConfig()
		cfg.RateLimit.Backend = "etcd"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Management auth without identity service", func(t *testing.T) {
		cfg := baseConfig()
		cfg.ManagementAuth = config.ManagementAuthConfig{Enabled: true}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Analytics without topic", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Analytics = config.AnalyticsConfig{Enabled: true, ProjectID: "p"}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}

func TestDefaultTenantConfig_LoadCredentials(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "AuthKey.p8")
	require.NoError(t, os.WriteFile(keyPath, []byte("pem"), 0o600))
	saPath := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(saPath, []byte(`{"project_id":"demo"}`), 0o600))

	t.Run("Token mode and FCM v1", func(t *testing.T) {
		cfg := config.DefaultTenantConfig{
			ID:                   "solo",
			FCMAPIKey:            "server-key",
			FCMV1CredentialsFile: saPath,
			APNs: config.APNsConfig{
				PrivateKeyFile: keyPath,
				KeyID:          "K",
				TeamID:         "T",
				Topic:          "com.test",
			},
		}

		creds, err := cfg.LoadCredentials()

		require.NoError(t, err)
		assert.Equal(t, "server-key", creds.FCMAPIKey)
		assert.JSONEq(t, `{"project_id":"demo"}`, string(creds.FCMV1Credentials))
		require.NotNil(t, creds.APNs)
		assert.Equal(t, notification.APNsAuthToken, creds.APNs.Type)
		assert.Equal(t, []byte("pem"), creds.APNs.PKCS8PEM)
	})

	t.Run("No APNs files", func(t *testing.T) {
		creds, err := config.DefaultTenantConfig{ID: "solo"}.LoadCredentials()
		require.NoError(t, err)
		assert.Nil(t, creds.APNs)
	})

	t.Run("Both APNs modes", func(t *testing.T) {
		_, err := config.DefaultTenantConfig{APNs: config.APNsConfig{
			CertificateFile: keyPath, PrivateKeyFile: keyPath, Topic: "t",
		}}.LoadCredentials()
		assert.Error(t, err)
	})

	t.Run("Incomplete token set", func(t *testing.T) {
		_, err := config.DefaultTenantConfig{APNs: config.APNsConfig{
			PrivateKeyFile: keyPath, Topic: "com.test",
		}}.LoadCredentials()
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := config.DefaultTenantConfig{FCMV1CredentialsFile: filepath.Join(dir, "absent.json")}.LoadCredentials()
		assert.Error(t, err)
	})
}

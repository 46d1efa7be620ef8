package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/storefront-session/internal/config"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "DEV", cfg.GetEnv())
	require.Equal(t, "http://localhost:8080", cfg.GetAPIBaseURL())
	require.Equal(t, 10*time.Second, cfg.GetHTTPTimeout())
	require.Equal(t, ":8080", cfg.GetStubAddr())
	require.Equal(t, "/login", cfg.GetLoginPath())
	require.Equal(t, 5*time.Minute, cfg.GetRefreshThreshold())
	require.Equal(t, 6, cfg.GetMinPasswordLength())
	require.False(t, cfg.GetDeriveExpiryFromJWT())
	require.Equal(t, storage.DriverMemory, cfg.GetStorageOptions().Driver)
	require.False(t, cfg.GetOIDCEnabled())
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://shop.example"))
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("STOREFRONT_API_BASE_URL", "https://api.shop.example/")
	t.Setenv("STOREFRONT_REFRESH_THRESHOLD", "90s")
	t.Setenv("STOREFRONT_JWT_EXPIRY", "true")
	t.Setenv("STOREFRONT_STUB_ADDR", "127.0.0.1:9000")
	t.Setenv("STOREFRONT_STORAGE", "redis")
	t.Setenv("STOREFRONT_REDIS_DB", "3")
	t.Setenv("STOREFRONT_ALLOWED_ORIGINS", "https://shop.example,https://admin.shop.example")
	t.Setenv("STOREFRONT_OIDC_ISSUER", "https://accounts.google.com")
	t.Setenv("STOREFRONT_OIDC_CLIENT_ID", "storefront")

	cfg, err := config.New()
	require.NoError(t, err)

	require.Equal(t, "https://api.shop.example", cfg.GetAPIBaseURL())
	require.Equal(t, 90*time.Second, cfg.GetRefreshThreshold())
	require.True(t, cfg.GetDeriveExpiryFromJWT())
	require.Equal(t, "127.0.0.1:9000", cfg.GetStubAddr())
	opts := cfg.GetStorageOptions()
	require.Equal(t, storage.DriverRedis, opts.Driver)
	require.Equal(t, 3, opts.RedisDB)
	require.True(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://admin.shop.example"))
	require.False(t, cfg.GetAllowedOrigins().IsAllowedOrigin("https://evil.example"))
	require.True(t, cfg.GetOIDCEnabled())
	require.Equal(t, "storefront", cfg.GetOIDC().ClientID)
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "bad duration", key: "STOREFRONT_REFRESH_THRESHOLD", value: "soon"},
		{name: "relative base url", key: "STOREFRONT_API_BASE_URL", value: "/api"},
		{name: "unknown driver", key: "STOREFRONT_STORAGE", value: "cookies"},
		{name: "short sealing key", key: "STOREFRONT_STORAGE_KEY", value: "abcd"},
		{name: "zero password length", key: "STOREFRONT_MIN_PASSWORD_LENGTH", value: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.New()
			require.Error(t, err)
		})
	}
}

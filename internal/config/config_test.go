package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "HTTP_PORT", "STORE_BACKEND", "SCAN_TIMEOUT", "CORS_ORIGINS", "BRIDGE_PORT"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 30*time.Second, cfg.ScanTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.BridgePort)
	assert.False(t, cfg.Production())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("SCAN_TIMEOUT", "5s")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("LATE_CHECKOUT_POLICY", "flag")

	cfg := Load()

	assert.True(t, cfg.Production())
	assert.Equal(t, 5*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "flag", cfg.LateCheckoutPolicy)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("ACCESS_TTL", "soon")
	t.Setenv("BRIDGE_BAUD", "fast")

	cfg := Load()

	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 9600, cfg.BridgeBaud)
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("QUEUE_KEY=from-file\nBRIDGE_SOURCE=nfc\n"), 0o600))
	t.Setenv("QUEUE_KEY", "from-env")
	t.Setenv("BRIDGE_SOURCE", "")
	require.NoError(t, os.Unsetenv("BRIDGE_SOURCE"))

	LoadDotEnv(path)

	assert.Equal(t, "from-env", os.Getenv("QUEUE_KEY"))
	assert.Equal(t, "nfc", os.Getenv("BRIDGE_SOURCE"))
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	assert.NotPanics(t, func() { LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")) })
}

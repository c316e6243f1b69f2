package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "JWT_TTL", "DEPOSIT_TOLERANCE", "GENERAL_FUND_PER_CHURCH", "RECONCILE_INTERVAL", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "tesoreria.db", cfg.DBPath)
	assert.Equal(t, 12*time.Hour, cfg.JWTTTL)
	assert.Equal(t, "100", cfg.DepositTolerance.String())
	assert.False(t, cfg.GeneralFundPerChurch)
	assert.Zero(t, cfg.ReconcileInterval)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DEPOSIT_TOLERANCE", "50.5")
	t.Setenv("GENERAL_FUND_PER_CHURCH", "true")
	t.Setenv("RECONCILE_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "50.5", cfg.DepositTolerance.String())
	assert.True(t, cfg.GeneralFundPerChurch)
	assert.Equal(t, 15*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "abc")
	t.Setenv("JWT_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 12*time.Hour, cfg.JWTTTL)
}

func TestValidateRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	assert.Error(t, Load().Validate())
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	// GIVEN: a .env file and one variable already set
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DB_PATH=from-file.db\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("DB_PATH", "from-env.db")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	// WHEN
	require.NoError(t, LoadDotEnv(path))
	t.Cleanup(func() { os.Unsetenv("LOG_LEVEL") })

	// THEN
	assert.Equal(t, "from-env.db", os.Getenv("DB_PATH"))
	assert.Equal(t, "debug", os.Getenv("LOG_LEVEL"))
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

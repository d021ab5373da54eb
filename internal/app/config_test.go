package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://test@localhost/test")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 10*time.Minute, cfg.CatalogCacheTTL)
	require.Equal(t, 5*time.Second, cfg.NumberLockTTL)
	require.Equal(t, "@every 1h", cfg.ReconcileCron)
	require.False(t, cfg.OrderHardDelete)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ORDER_HARD_DELETE", "true")
	t.Setenv("NUMBER_LOCK_TTL", "2s")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.OrderHardDelete)
	require.Equal(t, 2*time.Second, cfg.NumberLockTTL)
}

func TestLoadConfigRejectsEmptyDSN(t *testing.T) {
	t.Setenv("PG_DSN", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}

package app

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	unsetEnv(t, "LEDGER_STORE", "APP_ENV", "APP_ADDR", "DASHBOARD_CACHE_TTL", "RATE_LIMIT_PER_MINUTE", "MIGRATE_ON_START", "PG_DSN", "ACCESS_KEYS", "LEDGER_TX_TIMEOUT")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.LedgerStore)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 5*time.Minute, cfg.DashboardCacheTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, 10*time.Second, cfg.LedgerTxTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigAccessKeysList(t *testing.T) {
	unsetEnv(t, "APP_ENV", "RATE_LIMIT_PER_MINUTE")
	t.Setenv("LEDGER_STORE", StoreMemory)
	t.Setenv("ACCESS_KEYS", "ops:all:hash1,mobile:personal:hash2")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"ops:all:hash1", "mobile:personal:hash2"}, cfg.AccessKeys)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		cfg     Config
		wantErr string
	}{
		"unknown store":         {Config{LedgerStore: "mongo"}, "unknown LEDGER_STORE"},
		"memory in production":  {Config{LedgerStore: StoreMemory, AppEnv: "production", AccessKeys: []string{"k"}}, "not durable"},
		"production needs keys": {Config{LedgerStore: StoreSQLite, SQLitePath: "x.db", AppEnv: "production"}, "ACCESS_KEYS"},
		"sqlite path":           {Config{LedgerStore: StoreSQLite}, "SQLITE_PATH"},
		"negative rate limit":   {Config{LedgerStore: StoreMemory, RateLimitPerMinute: -1}, "RATE_LIMIT_PER_MINUTE"},
		"negative tx timeout":   {Config{LedgerStore: StoreMemory, LedgerTxTimeout: -time.Second}, "LEDGER_TX_TIMEOUT"},
		"ok":                    {Config{LedgerStore: StoreMemory}, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestInTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	assert.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	assert.False(t, InTestMode())
}

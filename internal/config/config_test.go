package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BINANCE_API_KEY", "BINANCE_API_SECRET", "USE_TESTNET", "HTTP_HOST",
		"HTTP_PORT", "LOG_LEVEL", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID",
		"STRATEGY_DATA_DIR",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsAndReadOnly(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "./data", cfg.StrategyDataDir)
	assert.True(t, cfg.ReadOnly)
}

func TestLoad_CredentialsDisableReadOnly(t *testing.T) {
	clearEnv(t)
	os.Setenv("BINANCE_API_KEY", "k")
	os.Setenv("BINANCE_API_SECRET", "s")
	defer clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.ReadOnly)
}

func TestLoad_RejectsInvalidLogLevel(t *testing.T) {
	clearEnv(t)
	os.Setenv("LOG_LEVEL", "VERBOSE")
	defer clearEnv(t)

	_, err := Load()
	assert.Error(t, err)
}

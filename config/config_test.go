package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data/trading_bot.db", cfg.Database.Path)
	assert.InDelta(t, 1000.0, cfg.Trading.InitialBalance, 1e-9)
	assert.InDelta(t, 20.0, cfg.Trading.DefaultLeverage, 1e-9)
	assert.InDelta(t, 50.0, cfg.Trading.DefaultRisk, 1e-9)
	assert.Equal(t, "USDT", cfg.Trading.QuoteSuffix)
	assert.Equal(t, 3*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Cooldown)
	assert.Equal(t, 3, cfg.Monitor.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Monitor.RetryDelay)
	assert.Equal(t, time.Hour, cfg.Monitor.StaleConfirmAge)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Binance.UseTestnet)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLL_INTERVAL", "10s")
	t.Setenv("DEFAULT_LEVERAGE", "5")
	t.Setenv("SYMBOL_BLACKLIST", "DOGEUSDT,SHIBUSDT")
	t.Setenv("BINANCE_USE_TESTNET", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Monitor.PollInterval)
	assert.InDelta(t, 5.0, cfg.Trading.DefaultLeverage, 1e-9)
	assert.Equal(t, []string{"DOGEUSDT", "SHIBUSDT"}, cfg.Trading.Blacklist)
	assert.True(t, cfg.Binance.UseTestnet)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DEFAULT_LEVERAGE", "500")
	t.Setenv("POLL_INTERVAL", "100ms")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEFAULT_LEVERAGE")
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

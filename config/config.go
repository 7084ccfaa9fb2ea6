package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration, loaded from the environment
// with an optional .env file.
type Config struct {
	Telegram struct {
		Token  string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
		ChatID string `envconfig:"TELEGRAM_CHAT_ID" required:"true"`
	}

	Binance struct {
		APIKey     string `envconfig:"BINANCE_API_KEY"`
		SecretKey  string `envconfig:"BINANCE_SECRET_KEY"`
		UseTestnet bool   `envconfig:"BINANCE_USE_TESTNET" default:"false"`
	}

	Database struct {
		Path string `envconfig:"DB_PATH" default:"./data/trading_bot.db"`
	}

	Trading struct {
		InitialBalance  float64  `envconfig:"INITIAL_BALANCE" default:"1000"`
		DefaultLeverage float64  `envconfig:"DEFAULT_LEVERAGE" default:"20"`
		DefaultRisk     float64  `envconfig:"DEFAULT_RISK" default:"50"`
		Blacklist       []string `envconfig:"SYMBOL_BLACKLIST"`
		QuoteSuffix     string   `envconfig:"QUOTE_SUFFIX" default:"USDT"`
	}

	Monitor struct {
		PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`
		Cooldown        time.Duration `envconfig:"ERROR_COOLDOWN" default:"15s"`
		RetryAttempts   int           `envconfig:"FETCH_RETRY_ATTEMPTS" default:"3"`
		RetryDelay      time.Duration `envconfig:"FETCH_RETRY_DELAY" default:"5s"`
		StaleConfirmAge time.Duration `envconfig:"STALE_CONFIRM_AGE" default:"1h"`
	}

	OCR struct {
		Language string `envconfig:"OCR_LANGUAGE" default:"eng"`
	}

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment. A missing .env file is not
// an error; explicit environment variables always win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// validate collects every problem instead of failing on the first one, so
// a misconfigured deployment reports all issues at once.
func (c *Config) validate() error {
	var errs []string

	if c.Trading.InitialBalance <= 0 {
		errs = append(errs, fmt.Sprintf("INITIAL_BALANCE must be positive, got %.2f", c.Trading.InitialBalance))
	}
	if c.Trading.DefaultLeverage < 1 || c.Trading.DefaultLeverage > 125 {
		errs = append(errs, fmt.Sprintf("DEFAULT_LEVERAGE must be in [1, 125], got %.2f", c.Trading.DefaultLeverage))
	}
	if c.Trading.DefaultRisk <= 0 {
		errs = append(errs, fmt.Sprintf("DEFAULT_RISK must be positive, got %.2f", c.Trading.DefaultRisk))
	}
	if c.Monitor.PollInterval < time.Second {
		errs = append(errs, fmt.Sprintf("POLL_INTERVAL must be at least 1s, got %s", c.Monitor.PollInterval))
	}
	if c.Monitor.RetryAttempts < 1 {
		errs = append(errs, fmt.Sprintf("FETCH_RETRY_ATTEMPTS must be at least 1, got %d", c.Monitor.RetryAttempts))
	}
	if c.Monitor.RetryDelay <= 0 {
		errs = append(errs, fmt.Sprintf("FETCH_RETRY_DELAY must be positive, got %s", c.Monitor.RetryDelay))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

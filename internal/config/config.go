// Package config loads the process's environment-variable configuration.
// Strategy definitions themselves are data (persisted JSON under
// STRATEGY_DATA_DIR), not process config — this package only covers the §6
// environment table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process-wide environment configuration.
type Config struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	UseTestnet       bool

	HTTPHost string
	HTTPPort int

	LogLevel string

	TelegramBotToken string
	TelegramChatID   string

	StrategyDataDir string

	// ReadOnly is true when no exchange credentials are configured. It is
	// informational only: nothing suppresses order actions, which then fail
	// at the exchange.
	ReadOnly bool
}

// Load reads an optional .env file (ignored if absent) then the process
// environment, applying defaults for anything unset.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		UseTestnet:       envBool("USE_TESTNET", false),
		HTTPHost:         envOr("HTTP_HOST", "0.0.0.0"),
		HTTPPort:         envInt("HTTP_PORT", 8080),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		StrategyDataDir:  envOr("STRATEGY_DATA_DIR", "./data"),
	}
	cfg.ReadOnly = cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == ""

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		return fmt.Errorf("invalid LOG_LEVEL %q", c.LogLevel)
	}
	if c.StrategyDataDir == "" {
		return fmt.Errorf("STRATEGY_DATA_DIR must not be empty")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

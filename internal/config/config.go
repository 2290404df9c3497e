package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Development bool
	// API configuration
	APIPort int
	// Ledger configuration
	WalletRPCURL string
	MonitorWSURL string
	// Currency configuration
	CurrencySymbol   string
	CurrencyDecimals int
	// Charge processing configuration
	StorePath           string
	PrimaryAccountIndex uint32
	InitialChargeIndex  uint32
	AutoSweep           bool
	DefaultChargeTTL    time.Duration
	ExpiryInterval      time.Duration
	SaveDebounce        time.Duration
	// Notification configuration
	TelegramBotToken string
	TelegramChatID   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	primaryIndex := getEnvAsInt("PRIMARY_ACCOUNT_INDEX", 0)
	if primaryIndex < 0 {
		return nil, fmt.Errorf("PRIMARY_ACCOUNT_INDEX cannot be negative, got %d", primaryIndex)
	}
	initialIndex := getEnvAsInt("INITIAL_CHARGE_INDEX", 1000)
	if initialIndex < 0 {
		return nil, fmt.Errorf("INITIAL_CHARGE_INDEX cannot be negative, got %d", initialIndex)
	}

	cfg := &Config{
		Development:         getEnvAsBool("DEVELOPMENT", false),
		APIPort:             getEnvAsInt("API_PORT", 6580),
		WalletRPCURL:        getEnv("WALLET_RPC_URL", "http://localhost:7076"),
		MonitorWSURL:        getEnv("MONITOR_WS_URL", "ws://localhost:7078"),
		CurrencySymbol:      getEnv("CURRENCY_SYMBOL", "BRY"),
		CurrencyDecimals:    getEnvAsInt("CURRENCY_DECIMALS", 30),
		StorePath:           getEnv("STORE_PATH", "berrypay.db"),
		PrimaryAccountIndex: uint32(primaryIndex),
		InitialChargeIndex:  uint32(initialIndex),
		AutoSweep:           getEnvAsBool("AUTO_SWEEP", true),
		DefaultChargeTTL:    getEnvAsDuration("DEFAULT_CHARGE_TTL", 15*time.Minute),
		ExpiryInterval:      getEnvAsDuration("EXPIRY_INTERVAL", 10*time.Second),
		SaveDebounce:        getEnvAsDuration("SAVE_DEBOUNCE", 500*time.Millisecond),
		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:      getEnv("TELEGRAM_CHAT_ID", ""),
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are properly set
func (c *Config) Validate() error {
	if c.WalletRPCURL == "" {
		return fmt.Errorf("WALLET_RPC_URL is required")
	}
	if _, err := url.Parse(c.WalletRPCURL); err != nil {
		return fmt.Errorf("invalid WALLET_RPC_URL: %w", err)
	}

	if c.MonitorWSURL == "" {
		return fmt.Errorf("MONITOR_WS_URL is required")
	}
	if u, err := url.Parse(c.MonitorWSURL); err != nil {
		return fmt.Errorf("invalid MONITOR_WS_URL: %w", err)
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("MONITOR_WS_URL must use the ws or wss scheme, got %q", u.Scheme)
	}

	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}

	if c.CurrencyDecimals < 0 || c.CurrencyDecimals > 39 {
		return fmt.Errorf("CURRENCY_DECIMALS must be between 0 and 39, got %d", c.CurrencyDecimals)
	}

	if c.InitialChargeIndex <= c.PrimaryAccountIndex {
		return fmt.Errorf("INITIAL_CHARGE_INDEX (%d) must be greater than PRIMARY_ACCOUNT_INDEX (%d)",
			c.InitialChargeIndex, c.PrimaryAccountIndex)
	}

	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return fmt.Errorf("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}

	return nil
}

// Helper functions to read environment variables
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(name string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsBool(name string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvAsDuration(name string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(name); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AdapterMode selects how the scoring adapter is chosen at startup.
type AdapterMode string

const (
	// ModeAuto prefers the remote model when credentials are configured,
	// else silently uses the offline rule engine.
	ModeAuto AdapterMode = "auto"
	// ModeExternal requires remote credentials; falls back to offline with a
	// configuration warning when they are absent.
	ModeExternal AdapterMode = "external"
	// ModeOffline always uses the offline rule engine.
	ModeOffline AdapterMode = "offline"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Chain ingestion
	RPCURL       string
	ChainID      int64
	PollInterval time.Duration
	StartBlock   uint64 // 0 = latest

	// Base token used for route summaries when the native asset appears
	BaseTokenSymbol   string
	BaseTokenDecimals int

	// AI risk scoring
	ScoringEnabled bool
	FeatureVersion string
	AdapterMode    AdapterMode
	ModelBaseURL   string
	ModelName      string
	ModelAPIKey    string
	ModelOrg       string
	ModelTimeout   time.Duration
}

// Defaults
const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultChainID        = 1
	DefaultPollInterval   = 15 * time.Second
	DefaultFeatureVersion = "tx-risk-features/poc-v1"
	DefaultModelBaseURL   = "https://api.openai.com/v1"
	DefaultModelName      = "gpt-4o-mini"
	DefaultModelTimeout   = 15 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:            os.Getenv("RPC_URL"),      // Required
		ChainID:           getEnvInt64("CHAIN_ID", DefaultChainID),
		PollInterval:      getEnvDuration("POLL_INTERVAL_MS", DefaultPollInterval),
		StartBlock:        uint64(getEnvInt64("START_BLOCK", 0)),
		BaseTokenSymbol:   getEnv("BASE_TOKEN_SYMBOL", "ETH"),
		BaseTokenDecimals: int(getEnvInt64("BASE_TOKEN_DECIMALS", 18)),
		ScoringEnabled:    getEnvBool("AI_SCORING_ENABLED", false),
		FeatureVersion:    getEnv("AI_FEATURE_VERSION", DefaultFeatureVersion),
		AdapterMode:       AdapterMode(getEnv("AI_ADAPTER_MODE", string(ModeAuto))),
		ModelBaseURL:      getEnv("AI_MODEL_BASE_URL", DefaultModelBaseURL),
		ModelName:         getEnv("AI_MODEL_NAME", DefaultModelName),
		ModelAPIKey:       os.Getenv("AI_API_KEY"),
		ModelOrg:          os.Getenv("AI_ORGANIZATION"),
		ModelTimeout:      getEnvDuration("AI_REQUEST_TIMEOUT_MS", DefaultModelTimeout),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	switch c.AdapterMode {
	case ModeAuto, ModeExternal, ModeOffline:
	default:
		return fmt.Errorf("AI_ADAPTER_MODE must be one of auto, external, offline (got %q)", c.AdapterMode)
	}

	return nil
}

// HasModelCredentials reports whether the remote adapter can be constructed.
func (c *Config) HasModelCredentials() bool {
	return c.ModelAPIKey != "" && c.ModelName != ""
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

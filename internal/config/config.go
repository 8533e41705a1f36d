package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database
	DatabaseDSN string

	// Bank gateways
	Banks map[string]BankConfig

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Sync
	LookbackDays int
	AccountDelay time.Duration
	SyncInterval time.Duration

	// Reconciliation
	MatchWindowDays    int
	AmountTolerance    float64 // fraction, 0.01 = 1%
	ReconcileInterval  time.Duration

	// Rates
	RatesURL string
	RatesTTL time.Duration

	// Observability
	OTLPEndpoint string
}

// BankConfig holds per-bank gateway credentials and the sandbox switch.
type BankConfig struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	RequestQuota int // requests per minute
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8090),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseDSN: getEnv("DATABASE_DSN",
			"host=localhost user=faktura password=faktura dbname=faktura port=5432 sslmode=disable"),

		Banks: map[string]BankConfig{
			"komercijalna": loadBank("KOMERCIJALNA"),
			"stopanska":    loadBank("STOPANSKA"),
			"nlb":          loadBank("NLB"),
		},

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 4),

		LookbackDays: getEnvInt("SYNC_LOOKBACK_DAYS", 30),
		AccountDelay: getEnvDuration("SYNC_ACCOUNT_DELAY", 4*time.Second),
		SyncInterval: getEnvDuration("SYNC_INTERVAL", 6*time.Hour),

		MatchWindowDays:   getEnvInt("MATCH_WINDOW_DAYS", 7),
		AmountTolerance:   getEnvFloat("MATCH_AMOUNT_TOLERANCE", 0.01),
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", time.Hour),

		RatesURL: getEnv("RATES_URL", ""),
		RatesTTL: getEnvDuration("RATES_TTL", time.Hour),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func loadBank(prefix string) BankConfig {
	return BankConfig{
		ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
		ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
		Sandbox:      getEnv(prefix+"_SANDBOX", "true") == "true",
		RequestQuota: getEnvInt(prefix+"_REQUEST_QUOTA", 15),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

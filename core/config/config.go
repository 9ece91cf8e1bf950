package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the ledger core consumes. All values are
// loaded from environment variables; see consentchain.env for names and
// dummy values.
type Config struct {
	// Ledger bounds
	MaxBatchSize       int   // bound on |dataTypes| x |purposes| per record
	MaxStringLength    int   // bound on a single data-type/purpose label
	MaxEventRangeWidth int   // bound on a single event replay query
	MaxExpirationUnix  int64 // highest expiresAt representable in the encoding

	// Projection engine
	ProjectionBatch int           // events consumed per tick
	TickInterval    time.Duration // scheduler interval in consentchaind

	// Node wiring
	DBPath    string
	APIAddr   string
	JWTSecret string
}

// Defaults mirrors the limits the hosted deployment runs with.
func Defaults() Config {
	return Config{
		MaxBatchSize:       25,
		MaxStringLength:    64,
		MaxEventRangeWidth: 10000,
		MaxExpirationUnix:  1<<53 - 1,
		ProjectionBatch:    500,
		TickInterval:       2 * time.Second,
		DBPath:             "./consentchain_db",
		APIAddr:            ":8080",
	}
}

// Load reads configuration from the environment, falling back to
// Defaults for anything unset. A .env file in the working directory is
// honored for local/dev runs.
func Load() Config {
	godotenv.Load("consentchain.env")

	cfg := Defaults()
	cfg.MaxBatchSize = envInt("CONSENT_MAX_BATCH_SIZE", cfg.MaxBatchSize)
	cfg.MaxStringLength = envInt("CONSENT_MAX_STRING_LENGTH", cfg.MaxStringLength)
	cfg.MaxEventRangeWidth = envInt("CONSENT_MAX_EVENT_RANGE_WIDTH", cfg.MaxEventRangeWidth)
	cfg.MaxExpirationUnix = envInt64("CONSENT_MAX_EXPIRATION_UNIX", cfg.MaxExpirationUnix)
	cfg.ProjectionBatch = envInt("CONSENT_PROJECTION_BATCH", cfg.ProjectionBatch)
	if ms := envInt("CONSENT_TICK_INTERVAL_MS", 0); ms > 0 {
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CONSENT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONSENT_API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	cfg.JWTSecret = os.Getenv("CONSENT_JWT_SECRET")
	return cfg
}

func envInt(name string, fallback int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envInt64(name string, fallback int64) int64 {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

package config

import (
	"os"
	"strconv"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate.
type Config struct {
	// DatabaseURL selects the backing store: a postgres:// URL or a
	// path to a SQLite database file.
	DatabaseURL string

	ListenAddr string

	// AuthEnabled gates every mutating API operation behind a valid
	// API key. Read endpoints stay open unless GateReads is also set.
	AuthEnabled bool

	// GateReads extends the API-key requirement to read endpoints
	// (bucket listing, event queries). Only meaningful with AuthEnabled.
	GateReads bool

	// RetentionDays is how long events are kept before the retention
	// worker prunes them. Zero disables pruning.
	RetentionDays int

	// AdminUser/AdminPassword guard the API key management endpoints
	// via HTTP basic auth. Key management is unavailable over HTTP if
	// either is empty (the CLI can still issue keys locally).
	AdminUser     string
	AdminPassword string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:   getenv("PT_DATABASE_URL", "pulsetrack.db"),
		ListenAddr:    getenv("PT_LISTEN_ADDR", ":5600"),
		AuthEnabled:   getenv("PT_AUTH_ENABLED", "false") == "true",
		GateReads:     getenv("PT_GATE_READS", "false") == "true",
		RetentionDays: 0,
		AdminUser:     getenv("PT_ADMIN_USER", ""),
		AdminPassword: getenv("PT_ADMIN_PASSWORD", ""),
	}

	if v := os.Getenv("PT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.RetentionDays = days
		}
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

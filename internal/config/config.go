/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Scheduling behavior
	LookaheadWindows []time.Duration // horizons tried in order until one yields slots
	CalendarCacheTTL time.Duration
	DefaultTimezone  string

	// Redis settings cache
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ALMANAC_ENV", "development"),
		HTTPBind:    getEnv("ALMANAC_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("ALMANAC_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("ALMANAC_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("ALMANAC_DB_DSN", ""),

		LookaheadWindows: parseWindowDays(getEnv("ALMANAC_LOOKAHEAD_WINDOW_DAYS", "7")),
		CalendarCacheTTL: time.Duration(getEnvInt("ALMANAC_CALENDAR_CACHE_TTL_MINUTES", 30)) * time.Minute,
		DefaultTimezone:  getEnv("ALMANAC_DEFAULT_TIMEZONE", "UTC"),

		RedisAddr:     getEnv("ALMANAC_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("ALMANAC_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("ALMANAC_REDIS_DB", 0),

		TracingEnabled:    getEnvBool("ALMANAC_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("ALMANAC_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("ALMANAC_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("ALMANAC_DB_DSN must be provided")
	}

	if len(cfg.LookaheadWindows) == 0 {
		cfg.LookaheadWindows = []time.Duration{7 * 24 * time.Hour}
	}

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid ALMANAC_DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	return cfg, nil
}

// parseWindowDays turns a comma separated day list ("7,14,30") into durations.
// Invalid or non-positive entries are dropped.
func parseWindowDays(raw string) []time.Duration {
	parts := strings.Split(raw, ",")
	windows := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		days, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || days <= 0 {
			continue
		}
		windows = append(windows, time.Duration(days)*24*time.Hour)
	}
	return windows
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

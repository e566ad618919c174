/*
Package config loads server configuration from the environment.

A .env file in the working directory is loaded first when present, so
development setups need no exported variables. Every value has a default
that yields a working single-node server with a local SQLite file.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string

	// DatabaseURL selects PostgreSQL when set; otherwise SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	// JWTSecret empty selects header-based identity (development only).
	JWTSecret string

	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		Addr:            getEnv("LEAVE_ADDR", ":8080"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("LEAVE_SQLITE_PATH", "leave.db"),
		JWTSecret:       getEnv("LEAVE_JWT_SECRET", ""),
		AllowedOrigins:  splitEnv("LEAVE_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080"),
		ShutdownTimeout: getDuration("LEAVE_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("either DATABASE_URL or LEAVE_SQLITE_PATH must be set")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

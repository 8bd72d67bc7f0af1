// Package config loads service and CLI configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application level configuration loaded from environment variables.
type Config struct {
	Port             string
	DatabaseURL      string
	RedisURL         string
	CacheTTL         time.Duration
	Environment      string
	StrictValidation bool
	BatchConcurrency int // 0: GOMAXPROCS
}

// UseInMemoryStore reports whether no database is configured.
func (c Config) UseInMemoryStore() bool {
	return c.DatabaseURL == ""
}

// Load reads configuration from environment variables. A .env file next to
// the binary or in the working directory is loaded first if present; real
// environment variables always win.
func Load() Config {
	loadDotEnv()

	return Config{
		Port:             getString("PORT", "8080"),
		DatabaseURL:      getString("DATABASE_URL", ""),
		RedisURL:         getString("REDIS_URL", ""),
		CacheTTL:         getDurationSeconds("CACHE_TTL_SECONDS", 30),
		Environment:      getString("ENVIRONMENT", "local"),
		StrictValidation: getBool("STRICT_VALIDATION", false),
		BatchConcurrency: getInt("BATCH_CONCURRENCY", 0),
	}
}

func loadDotEnv() {
	candidates := []string{".env"}

	if exePath, err := os.Executable(); err == nil {
		candidates = append([]string{filepath.Join(filepath.Dir(exePath), ".env")}, candidates...)
	}

	for _, path := range candidates {
		if err := godotenv.Load(path); err == nil {
			return
		}
	}
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		slog.Warn("invalid integer in environment, using fallback", "key", key, "err", err)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		slog.Warn("invalid boolean in environment, using fallback", "key", key, "err", err)
		return fallback
	}
	return b
}

func getDurationSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

// Package config loads server settings from the environment. An optional
// .env file is read first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Addr               string
	Environment        string
	ServiceName        string
	Version            string
	StoreDriver        string
	SQLitePath         string
	DatabaseURL        string
	PolicyFile         string
	LogLevel           string
	LogFormat          string
	CORSAllowedOrigins []string
	MaxBodyBytes       int64
	ApplyRetries       int
	ShutdownTimeout    time.Duration
	SeedScenario       string
}

// Load reads envFile (if it exists) and then the process environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		Environment:        getEnv("APP_ENV", "development"),
		ServiceName:        getEnv("SERVICE_NAME", "performance-engine"),
		Version:            getEnv("SERVICE_VERSION", "dev"),
		StoreDriver:        getEnv("STORE_DRIVER", StoreSQLite),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/performance.db"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		PolicyFile:         getEnv("POLICY_FILE", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", ""),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		ApplyRetries:       getEnvInt("APPLY_RETRIES", 3),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		SeedScenario:       getEnv("SEED_SCENARIO", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
		if c.Environment == "production" {
			return fmt.Errorf("the memory store is not allowed in production")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of sqlite, postgres, memory (got %q)", c.StoreDriver)
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.ApplyRetries < 0 {
		return fmt.Errorf("APPLY_RETRIES must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

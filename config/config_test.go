package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err, "a missing .env file is not an error")

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, config.StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "./data/performance.db", cfg.SQLitePath)
	assert.Equal(t, int64(1048576), cfg.MaxBodyBytes)
	assert.Equal(t, 3, cfg.ApplyRetries)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("APP_ADDR", ":9090")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://perf@localhost/perf")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com,")
	t.Setenv("APPLY_RETRIES", "5")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("MAX_BODY_BYTES", "not-a-number")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, config.StorePostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, 5, cfg.ApplyRetries)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, int64(1048576), cfg.MaxBodyBytes, "unparseable values fall back")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_DotEnvFile_ProcessEnvWins(t *testing.T) {
	// GIVEN: A .env file setting the seed scenario and the log level
	// WHEN: LOG_LEVEL is also set in the process environment
	// THEN: The file fills gaps; the environment wins

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("SEED_SCENARIO=penalty\nLOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("SEED_SCENARIO") })

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "penalty", cfg.SeedScenario)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			StoreDriver:     config.StoreSQLite,
			SQLitePath:      "perf.db",
			MaxBodyBytes:    4096,
			ApplyRetries:    3,
			ShutdownTimeout: time.Second,
		}
	}
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"valid", func(*config.Config) {}, false},
		{"unknown driver", func(c *config.Config) { c.StoreDriver = "mongo" }, true},
		{"sqlite without path", func(c *config.Config) { c.SQLitePath = " " }, true},
		{"postgres without url", func(c *config.Config) { c.StoreDriver = config.StorePostgres }, true},
		{"memory in development", func(c *config.Config) { c.StoreDriver = config.StoreMemory; c.Environment = "development" }, false},
		{"memory in production", func(c *config.Config) { c.StoreDriver = config.StoreMemory; c.Environment = "production" }, true},
		{"tiny body limit", func(c *config.Config) { c.MaxBodyBytes = 10 }, true},
		{"negative retries", func(c *config.Config) { c.ApplyRetries = -1 }, true},
		{"zero timeout", func(c *config.Config) { c.ShutdownTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

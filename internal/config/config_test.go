package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/page-pipeline/internal/domain"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.OCR.MaxConcurrency)
	assert.Equal(t, 1, cfg.Translate.MaxConcurrency)
	assert.Equal(t, 30000, cfg.OCR.MaxTokens)
	assert.InDelta(t, 0.8, cfg.Translate.TopP, 1e-9)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Observability.LogToFile)
	assert.True(t, ForEnvironment(EnvProduction).Observability.LogToFile)
}

func TestForEnvironment_Paths(t *testing.T) {
	tests := []struct {
		env    Environment
		ocrDir string
	}{
		{EnvDevelopment, "uploads/ocr"},
		{EnvTest, "/tmp/page-pipeline-test/ocr"},
		{EnvProduction, "/opt/page-pipeline/data/ocr"},
		{EnvDocker, "/app/data/ocr"},
	}

	for _, tt := range tests {
		t.Run(string(tt.env), func(t *testing.T) {
			cfg := ForEnvironment(tt.env)
			assert.Equal(t, tt.env, cfg.Environment)
			assert.Equal(t, tt.ocrDir, cfg.Paths.OCRDir)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestDetectEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DOCKER_ENV", "")
	t.Setenv("IS_DOCKER", "")
	assert.Equal(t, EnvProduction, DetectEnvironment())

	t.Setenv("IS_DOCKER", "true")
	assert.Equal(t, EnvDocker, DetectEnvironment())

	t.Setenv("IS_DOCKER", "")
	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, EnvDevelopment, DetectEnvironment())
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DOCKER_ENV", "")
	t.Setenv("IS_DOCKER", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  port: 9100
ocr:
  endpoint: http://ocr.internal/v1
  max_concurrency: 3
  timeout: 45s
paths:
  ocr_dir: ~/ocr-out
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o644))

	t.Setenv("MAX_CONCURRENT_TRANSLATE", "4")
	t.Setenv("TRANSLATE_MODEL", "custom/model")
	t.Setenv("DATABASE_URL", "sqlite:/var/lib/pp.db")
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://ocr.internal/v1", cfg.OCR.Endpoint)
	assert.Equal(t, 3, cfg.OCR.MaxConcurrency)
	assert.Equal(t, 45*time.Second, cfg.OCR.Timeout)
	assert.Equal(t, 4, cfg.Translate.MaxConcurrency)
	assert.Equal(t, "custom/model", cfg.Translate.Model)
	assert.Equal(t, "/var/lib/pp.db", cfg.Database.SQLite.Path)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "ocr-out"), cfg.Paths.OCRDir)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_InvalidConfig(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DOCKER_ENV", "")
	t.Setenv("IS_DOCKER", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rasterizer:\n  quality: 150\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "rasterizer.quality")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "invalid database driver"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "requires database.postgres.dsn"},
		{"bad cache", func(c *Config) { c.Cache.Driver = "memcached" }, "invalid cache driver"},
		{"zero concurrency", func(c *Config) { c.Translate.MaxConcurrency = 0 }, "translate.max_concurrency"},
		{"quality", func(c *Config) { c.Rasterizer.Quality = 101 }, "rasterizer.quality"},
		{"missing dir", func(c *Config) { c.Paths.OCRZipDir = " " }, "paths.ocr_zip_dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "uploads/page-pipeline.db?_journal_mode=WAL&_busy_timeout=5000", cfg.DatabaseDSN())

	cfg.Database.Driver = "postgres"
	cfg.Database.Postgres.DSN = "postgres://u:p@db/pp"
	assert.Equal(t, "postgres://u:p@db/pp", cfg.DatabaseDSN())
}

// Package config provides configuration loading for the page pipeline.
// Values come from built-in defaults, an environment preset, an optional YAML file,
// .env files and finally individual environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/page-pipeline/internal/domain"
)

// Environment selects a preset of storage paths.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
	EnvDocker      Environment = "docker"
)

// Config holds all configuration for the page pipeline.
type Config struct {
	Environment   Environment         `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Paths         PathsConfig         `yaml:"paths"`
	OCR           StageConfig         `yaml:"ocr"`
	Translate     StageConfig         `yaml:"translate"`
	Rasterizer    RasterizerConfig    `yaml:"rasterizer"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// DatabaseConfig holds record store connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds prompt cache and progress channel settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// PathsConfig holds every directory the pipeline reads from or writes to.
type PathsConfig struct {
	UploadDir       string `yaml:"upload_dir"`
	ExportDir       string `yaml:"export_dir"`
	ImagesDir       string `yaml:"images_dir"`
	OCRDir          string `yaml:"ocr_dir"`
	TranslateDir    string `yaml:"translate_dir"`
	OCRZipDir       string `yaml:"ocr_zip_dir"`
	TranslateZipDir string `yaml:"translate_zip_dir"`
	LogDir          string `yaml:"log_dir"`
}

// StageConfig configures one inference service and its worker pool.
type StageConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	Temperature    float64       `yaml:"temperature"`
	TopP           float64       `yaml:"top_p"`
	TopK           int           `yaml:"top_k"`
	MaxTokens      int           `yaml:"max_tokens"`
	Stream         bool          `yaml:"stream"`
	MaxRetries     int           `yaml:"max_retries"`
}

// RasterizerConfig holds page image settings.
type RasterizerConfig struct {
	DPI     float64 `yaml:"dpi"`
	Quality int     `yaml:"quality"`
}

// PipelineConfig holds task scheduling settings.
type PipelineConfig struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks"`
	PersistRetries     int           `yaml:"persist_retries"`
	PersistBackoff     time.Duration `yaml:"persist_backoff"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	KeepImages         bool          `yaml:"keep_images"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ServiceName    string `yaml:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	// LogToFile also appends logs to {paths.log_dir}/page-pipeline.log.
	LogToFile      bool   `yaml:"log_to_file"`
}

// Load reads .env files, then the YAML file at path (if any), then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := ForEnvironment(DetectEnvironment())

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Paths = cfg.Paths.expanded()

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}

	return cfg, nil
}

// DetectEnvironment follows APP_ENV, with docker detection taking precedence.
func DetectEnvironment() Environment {
	if os.Getenv("DOCKER_ENV") == "true" || os.Getenv("IS_DOCKER") == "true" {
		return EnvDocker
	}

	switch env := Environment(os.Getenv("APP_ENV")); env {
	case EnvDevelopment, EnvTest, EnvProduction, EnvDocker:
		return env
	}

	return EnvDevelopment
}

// ForEnvironment returns the defaults with the path preset for env.
func ForEnvironment(env Environment) *Config {
	cfg := DefaultConfig()
	cfg.Environment = env

	switch env {
	case EnvTest:
		cfg.Paths = pathsUnder("/tmp/page-pipeline-test")
		cfg.Database.SQLite.Path = "/tmp/page-pipeline-test/page-pipeline.db"
	case EnvProduction:
		cfg.Paths = pathsUnder("/opt/page-pipeline/data")
		cfg.Paths.LogDir = "/var/log/page-pipeline"
		cfg.Observability.LogToFile = true
		cfg.Database.SQLite.Path = "/opt/page-pipeline/data/page-pipeline.db"
		cfg.Observability.LogLevel = "info"
		cfg.Observability.LogFormat = "json"
	case EnvDocker:
		cfg.Paths = pathsUnder("/app/data")
		cfg.Paths.LogDir = "/app/logs"
		cfg.Observability.LogToFile = true
		cfg.Database.SQLite.Path = "/app/data/page-pipeline.db"
		cfg.Observability.LogFormat = "json"
	}

	return cfg
}

// DefaultConfig returns a configuration with development defaults.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8090,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     5 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:         "uploads/page-pipeline.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			TTL:        10 * time.Minute,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
				Prefix:   "pp:",
			},
		},
		Paths: PathsConfig{
			UploadDir:       "uploads/files",
			ExportDir:       "uploads/pdf-split",
			ImagesDir:       "uploads/images",
			OCRDir:          "uploads/ocr",
			TranslateDir:    "uploads/translate",
			OCRZipDir:       "uploads/ocr-zip",
			TranslateZipDir: "uploads/translate-zip",
			LogDir:          "logs",
		},
		OCR: StageConfig{
			Endpoint:       "http://127.0.0.1:8002/v1",
			Model:          "Qwen/Qwen2.5-VL-7B-Instruct",
			APIKey:         "EMPTY",
			Timeout:        5 * time.Minute,
			MaxConcurrency: 1,
			Temperature:    0.01,
			MaxTokens:      30000,
			MaxRetries:     2,
		},
		Translate: StageConfig{
			Endpoint:       "http://127.0.0.1:8003/v1",
			Model:          "Qwen/Qwen3-14B-FP8",
			APIKey:         "EMPTY",
			Timeout:        3 * time.Minute,
			MaxConcurrency: 1,
			Temperature:    0.7,
			TopP:           0.8,
			TopK:           20,
			MaxTokens:      4096,
			MaxRetries:     2,
		},
		Rasterizer: RasterizerConfig{
			DPI:     150,
			Quality: 90,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentTasks: 1,
			PersistRetries:     1,
			PersistBackoff:     200 * time.Millisecond,
			SweepInterval:      30 * time.Second,
			KeepImages:         true,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "debug",
			LogFormat:      "console",
			ServiceName:    "page-pipeline",
			MetricsEnabled: true,
		},
	}
}

func pathsUnder(root string) PathsConfig {
	return PathsConfig{
		UploadDir:       filepath.Join(root, "uploads"),
		ExportDir:       filepath.Join(root, "pdf-split"),
		ImagesDir:       filepath.Join(root, "images"),
		OCRDir:          filepath.Join(root, "ocr"),
		TranslateDir:    filepath.Join(root, "translate"),
		OCRZipDir:       filepath.Join(root, "ocr-zip"),
		TranslateZipDir: filepath.Join(root, "translate-zip"),
		LogDir:          filepath.Join(root, "logs"),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres driver requires database.postgres.dsn")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	for name, stage := range map[string]StageConfig{"ocr": c.OCR, "translate": c.Translate} {
		if stage.Endpoint == "" {
			return fmt.Errorf("%s.endpoint is required", name)
		}
		if stage.MaxConcurrency < 1 {
			return fmt.Errorf("%s.max_concurrency must be at least 1, got %d", name, stage.MaxConcurrency)
		}
		if stage.Timeout <= 0 {
			return fmt.Errorf("%s.timeout must be positive", name)
		}
	}

	if c.Rasterizer.Quality < 1 || c.Rasterizer.Quality > 100 {
		return fmt.Errorf("rasterizer.quality must be between 1 and 100")
	}

	if c.Pipeline.MaxConcurrentTasks < 1 {
		return fmt.Errorf("pipeline.max_concurrent_tasks must be at least 1")
	}

	required := map[string]string{
		"paths.images_dir":        c.Paths.ImagesDir,
		"paths.ocr_dir":           c.Paths.OCRDir,
		"paths.translate_dir":     c.Paths.TranslateDir,
		"paths.ocr_zip_dir":       c.Paths.OCRZipDir,
		"paths.translate_zip_dir": c.Paths.TranslateZipDir,
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		dsn := c.Database.SQLite.Path
		if c.Database.SQLite.JournalMode != "" {
			dsn += "?_journal_mode=" + c.Database.SQLite.JournalMode + "&_busy_timeout=5000"
		}
		return dsn
	}
	return c.Database.Postgres.DSN
}

func (p PathsConfig) expanded() PathsConfig {
	return PathsConfig{
		UploadDir:       ExpandPath(p.UploadDir),
		ExportDir:       ExpandPath(p.ExportDir),
		ImagesDir:       ExpandPath(p.ImagesDir),
		OCRDir:          ExpandPath(p.OCRDir),
		TranslateDir:    ExpandPath(p.TranslateDir),
		OCRZipDir:       ExpandPath(p.OCRZipDir),
		TranslateZipDir: ExpandPath(p.TranslateZipDir),
		LogDir:          ExpandPath(p.LogDir),
	}
}

// ExpandPath replaces a leading "~/" with the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	stringOverrides := map[string]*string{
		"SERVER_HOST":              &cfg.Server.Host,
		"PDF_UPLOAD_DIR":           &cfg.Paths.UploadDir,
		"PDF_OUTPUT_DIR":           &cfg.Paths.ExportDir,
		"PDF_IMAGES_OUTPUT_DIR":    &cfg.Paths.ImagesDir,
		"PDF_OCR_OUTPUT_DIR":       &cfg.Paths.OCRDir,
		"PDF_TRANSLATE_OUTPUT_DIR": &cfg.Paths.TranslateDir,
		"PDF_OCR_ZIP_DIR":          &cfg.Paths.OCRZipDir,
		"PDF_TRANSLATE_ZIP_DIR":    &cfg.Paths.TranslateZipDir,
		"LOG_DIR":                  &cfg.Paths.LogDir,
		"OCR_ENDPOINT":             &cfg.OCR.Endpoint,
		"OCR_MODEL":                &cfg.OCR.Model,
		"OCR_API_KEY":              &cfg.OCR.APIKey,
		"TRANSLATE_ENDPOINT":       &cfg.Translate.Endpoint,
		"TRANSLATE_MODEL":          &cfg.Translate.Model,
		"TRANSLATE_API_KEY":        &cfg.Translate.APIKey,
		"LOG_LEVEL":                &cfg.Observability.LogLevel,
		"LOG_FORMAT":               &cfg.Observability.LogFormat,
	}
	for key, target := range stringOverrides {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}

	intOverrides := map[string]*int{
		"SERVER_PORT":              &cfg.Server.Port,
		"MAX_CONCURRENT_OCR":       &cfg.OCR.MaxConcurrency,
		"MAX_CONCURRENT_TRANSLATE": &cfg.Translate.MaxConcurrency,
		"MAX_CONCURRENT_TASKS":     &cfg.Pipeline.MaxConcurrentTasks,
	}
	for key, target := range intOverrides {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*target = n
			}
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
}

// Package config provides configuration management for the PII vault.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hfi/pii-vault/internal/audit"
	"github.com/hfi/pii-vault/internal/storage"
	"github.com/hfi/pii-vault/pkg/token"
)

// ErrPathTraversal is returned when a config path escapes its base directory
var ErrPathTraversal = errors.New("path traversal detected")

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Management ManagementConfig `yaml:"management"`
	Storage    StorageConfig    `yaml:"storage"`
	Token      TokenConfig      `yaml:"token"`
	Detection  DetectionConfig  `yaml:"detection"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains API server settings
type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	BodyLimit    string        `yaml:"body_limit"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ManagementConfig contains health and metrics server settings
type ManagementConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
	ReadyPath   string `yaml:"ready_path"`
	LivePath    string `yaml:"live_path"`
}

// StorageConfig contains mapping persistence settings
type StorageConfig struct {
	// Type is one of none, memory, redis, mongodb, postgresql, sqlite, bolt
	Type           string           `yaml:"type"`
	OpTimeout      time.Duration    `yaml:"op_timeout"`
	HealthInterval time.Duration    `yaml:"health_interval"`
	Redis          RedisConfig      `yaml:"redis"`
	MongoDB        MongoDBConfig    `yaml:"mongodb"`
	PostgreSQL     PostgreSQLConfig `yaml:"postgresql"`
	SQLite         PathConfig       `yaml:"sqlite"`
	Bolt           PathConfig       `yaml:"bolt"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	URL      string `yaml:"url"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MongoDBConfig contains MongoDB connection settings
type MongoDBConfig struct {
	URL        string `yaml:"url"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// PostgreSQLConfig contains PostgreSQL connection settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// PathConfig is used by the file backed stores
type PathConfig struct {
	Path string `yaml:"path"`
}

// TokenConfig contains token format settings
type TokenConfig struct {
	Length int `yaml:"length"`
}

// DetectionConfig contains detector settings
type DetectionConfig struct {
	// LenientNames is the default mode for /anonymize
	LenientNames bool `yaml:"lenient_names"`
	// Disabled lists detector names to switch off
	Disabled []string `yaml:"disabled"`
}

// LLMConfig contains completion provider settings
type LLMConfig struct {
	APIKey      string        `yaml:"api_key"` //#nosec G117 -- provider credential from config
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string       `yaml:"level"`
	Format string       `yaml:"format"` // "json" or "console"
	Audit  audit.Config `yaml:"audit"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":3000",
			BodyLimit:    "1M",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		Management: ManagementConfig{
			Enabled:     true,
			Addr:        ":9090",
			MetricsPath: "/metrics",
			HealthPath:  "/health",
			ReadyPath:   "/ready",
			LivePath:    "/live",
		},
		Storage: StorageConfig{
			Type:           storage.TypeMemory,
			OpTimeout:      3 * time.Second,
			HealthInterval: 30 * time.Second,
			Redis: RedisConfig{
				Address: "localhost:6379",
				Prefix:  "pii-vault:",
			},
			MongoDB: MongoDBConfig{
				URL:        "mongodb://localhost:27017",
				Database:   "pii_vault",
				Collection: "mappings",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 4,
			},
			SQLite: PathConfig{Path: "./data/pii-vault.db"},
			Bolt:   PathConfig{Path: "./data/pii-vault.bolt"},
		},
		Token: TokenConfig{
			Length: token.DefaultLength,
		},
		Detection: DetectionConfig{
			LenientNames: false,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
			MaxRetries:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Audit:  *audit.DefaultConfig(),
		},
	}
}

// Load loads the configuration from file and environment. The file path
// comes from CONFIG_PATH, falling back to config.yaml; a missing file means
// defaults. A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CONFIG_PATH"))
}

// LoadFile is Load with an explicit path. An empty path means config.yaml.
func LoadFile(path string) (*Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	baseDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	// absolute paths are trusted as set by the operator
	if filepath.IsAbs(path) {
		baseDir = filepath.Dir(path)
	}
	configPath, err := sanitizeConfigPath(path, baseDir)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath) //#nosec G304 -- config path is sanitized above
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// No config file, use defaults
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		c.Server.Listen = ":" + port
	}
	set(&c.Server.Listen, "PIIVAULT_LISTEN")
	set(&c.Storage.Type, "PIIVAULT_STORAGE_TYPE")
	set(&c.Storage.MongoDB.URL, "MONGODB_URI")
	set(&c.Storage.Redis.URL, "REDIS_URL")
	set(&c.Storage.PostgreSQL.URL, "DATABASE_URL")
	set(&c.Storage.SQLite.Path, "SQLITE_PATH")
	set(&c.Storage.Bolt.Path, "BOLT_PATH")
	set(&c.LLM.APIKey, "OPENAI_API_KEY")
	set(&c.LLM.BaseURL, "OPENAI_BASE_URL")
	set(&c.LLM.Model, "OPENAI_MODEL")
	set(&c.Logging.Level, "LOG_LEVEL")
	set(&c.Logging.Format, "LOG_FORMAT")

	if v := strings.TrimSpace(getenv("PIIVAULT_LENIENT_NAMES")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Detection.LenientNames = b
		}
	}
}

var validLogLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	if !slices.Contains(storage.Types, c.Storage.Type) {
		return fmt.Errorf("invalid storage type %q: must be one of %s", c.Storage.Type, strings.Join(storage.Types, ", "))
	}
	if c.Token.Length < token.MinLength || c.Token.Length > token.MaxLength {
		return fmt.Errorf("invalid token length %d: must be between %d and %d", c.Token.Length, token.MinLength, token.MaxLength)
	}
	if !slices.Contains(validLogLevels, strings.ToLower(c.Logging.Level)) {
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	if c.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}
	return nil
}

// StorageBackend converts the storage section into backend settings
func (c *Config) StorageBackend() storage.Config {
	s := c.Storage
	return storage.Config{
		Type: s.Type,
		Redis: storage.RedisConfig{
			URL:      s.Redis.URL,
			Address:  s.Redis.Address,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		},
		MongoDB: storage.MongoDBConfig{
			URL:        s.MongoDB.URL,
			Database:   s.MongoDB.Database,
			Collection: s.MongoDB.Collection,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      s.PostgreSQL.URL,
			MaxConns: s.PostgreSQL.MaxConns,
		},
		SQLite: storage.SQLiteConfig{Path: s.SQLite.Path},
		Bolt:   storage.BoltConfig{Path: s.Bolt.Path},
	}
}

// sanitizeConfigPath resolves path against baseDir and rejects anything
// that ends up outside it
func sanitizeConfigPath(path, baseDir string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(absBase, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(absBase, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, path)
	}
	return resolved, nil
}

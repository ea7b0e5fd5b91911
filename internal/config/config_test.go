package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeConfigPath(t *testing.T) {
	// Create a temporary base directory for testing
	baseDir := t.TempDir()

	// Create a subdirectory
	subDir := filepath.Join(baseDir, "subdir")
	if err := os.MkdirAll(subDir, 0750); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		baseDir     string
		wantErr     bool
		errContains string
	}{
		{
			name:    "simple filename in base dir",
			path:    "config.yaml",
			baseDir: baseDir,
			wantErr: false,
		},
		{
			name:    "file in subdirectory",
			path:    "subdir/config.yaml",
			baseDir: baseDir,
			wantErr: false,
		},
		{
			name:        "path traversal with ..",
			path:        "../etc/passwd",
			baseDir:     baseDir,
			wantErr:     true,
			errContains: "path traversal detected",
		},
		{
			name:        "path traversal multiple ..",
			path:        "../../etc/passwd",
			baseDir:     baseDir,
			wantErr:     true,
			errContains: "path traversal detected",
		},
		{
			name:        "path traversal hidden in path",
			path:        "subdir/../../etc/passwd",
			baseDir:     baseDir,
			wantErr:     true,
			errContains: "path traversal detected",
		},
		{
			name:        "absolute path outside base",
			path:        "/etc/passwd",
			baseDir:     baseDir,
			wantErr:     true,
			errContains: "path traversal detected",
		},
		{
			name:    "absolute path inside base",
			path:    filepath.Join(baseDir, "config.yaml"),
			baseDir: baseDir,
			wantErr: false,
		},
		{
			name:    "absolute path to subdirectory",
			path:    filepath.Join(subDir, "config.yaml"),
			baseDir: baseDir,
			wantErr: false,
		},
		{
			name:    "dot path stays in base",
			path:    "./config.yaml",
			baseDir: baseDir,
			wantErr: false,
		},
		{
			name:        "only dot dot",
			path:        "..",
			baseDir:     baseDir,
			wantErr:     true,
			errContains: "path traversal detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := sanitizeConfigPath(tt.path, tt.baseDir)

			if tt.wantErr {
				if err == nil {
					t.Errorf("sanitizeConfigPath(%q, %q) expected error containing %q, got nil",
						tt.path, tt.baseDir, tt.errContains)
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("sanitizeConfigPath(%q, %q) error = %q, want error containing %q",
						tt.path, tt.baseDir, err.Error(), tt.errContains)
				}
				if !errors.Is(err, ErrPathTraversal) {
					t.Errorf("sanitizeConfigPath(%q, %q) error = %v, want ErrPathTraversal", tt.path, tt.baseDir, err)
				}
				return
			}

			if err != nil {
				t.Errorf("sanitizeConfigPath(%q, %q) unexpected error: %v",
					tt.path, tt.baseDir, err)
				return
			}

			// Verify the result is within base directory
			absBase, _ := filepath.Abs(tt.baseDir)
			relPath, err := filepath.Rel(absBase, result)
			if err != nil || (len(relPath) >= 2 && relPath[:2] == "..") {
				t.Errorf("sanitizeConfigPath(%q, %q) = %q, which is outside base directory",
					tt.path, tt.baseDir, result)
			}
		})
	}
}

func TestSanitizeConfigPath_EdgeCases(t *testing.T) {
	baseDir := t.TempDir()

	// Test with trailing slashes
	t.Run("base dir with trailing slash", func(t *testing.T) {
		_, err := sanitizeConfigPath("config.yaml", baseDir+"/")
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	// Test with empty path
	t.Run("empty path", func(t *testing.T) {
		result, err := sanitizeConfigPath("", baseDir)
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		// Empty path should resolve to base directory
		absBase, _ := filepath.Abs(baseDir)
		if result != absBase {
			t.Errorf("expected %q, got %q", absBase, result)
		}
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Storage.Type != "memory" {
		t.Errorf("Storage.Type = %q, want memory", cfg.Storage.Type)
	}
	if cfg.Token.Length != 8 {
		t.Errorf("Token.Length = %d, want 8", cfg.Token.Length)
	}
	if cfg.Detection.LenientNames {
		t.Error("Detection.LenientNames should default to false")
	}
	if !cfg.Logging.Audit.Enabled {
		t.Error("audit should be enabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlContent := `
server:
  listen: ":4000"
storage:
  type: sqlite
  op_timeout: 2s
  sqlite:
    path: ./vault.db
token:
  length: 12
detection:
  lenient_names: true
  disabled: [lowercase_pair_name]
logging:
  level: debug
  audit:
    enabled: false
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlContent), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.Server.Listen != ":4000" {
		t.Errorf("Server.Listen = %q, want :4000", cfg.Server.Listen)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.SQLite.Path != "./vault.db" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Storage.OpTimeout != 2*time.Second {
		t.Errorf("Storage.OpTimeout = %v, want 2s", cfg.Storage.OpTimeout)
	}
	if cfg.Storage.HealthInterval != 30*time.Second {
		t.Errorf("unset fields should keep defaults, HealthInterval = %v", cfg.Storage.HealthInterval)
	}
	if cfg.Token.Length != 12 {
		t.Errorf("Token.Length = %d, want 12", cfg.Token.Length)
	}
	if !cfg.Detection.LenientNames || len(cfg.Detection.Disabled) != 1 {
		t.Errorf("Detection = %+v", cfg.Detection)
	}
	if cfg.Logging.Audit.Enabled {
		t.Error("audit should be disabled by file")
	}

	backend := cfg.StorageBackend()
	if backend.Type != "sqlite" || backend.SQLite.Path != "./vault.db" {
		t.Errorf("StorageBackend() = %+v", backend)
	}
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadFile("does-not-exist.yaml")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Server.Listen != ":3000" {
		t.Errorf("Server.Listen = %q, want :3000", cfg.Server.Listen)
	}
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [oops"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadFile_Traversal(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := LoadFile("../../etc/config.yaml")
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("LoadFile() error = %v, want ErrPathTraversal", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "8088")
	t.Setenv("PIIVAULT_STORAGE_TYPE", "redis")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("MONGODB_URI", "mongodb://db:27017")
	t.Setenv("DATABASE_URL", "postgres://pg/vault")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MODEL", "gpt-test")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PIIVAULT_LENIENT_NAMES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"listen", cfg.Server.Listen, ":8088"},
		{"storage type", cfg.Storage.Type, "redis"},
		{"redis url", cfg.Storage.Redis.URL, "redis://cache:6379/2"},
		{"mongodb url", cfg.Storage.MongoDB.URL, "mongodb://db:27017"},
		{"postgres url", cfg.Storage.PostgreSQL.URL, "postgres://pg/vault"},
		{"api key", cfg.LLM.APIKey, "sk-test"},
		{"model", cfg.LLM.Model, "gpt-test"},
		{"log level", cfg.Logging.Level, "warn"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
	if !cfg.Detection.LenientNames {
		t.Error("PIIVAULT_LENIENT_NAMES should enable lenient names")
	}
}

func TestApplyEnv_ListenWinsOverPort(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{"PORT": "1", "PIIVAULT_LISTEN": "127.0.0.1:7000"}
	cfg.applyEnv(func(k string) string { return env[k] })

	if cfg.Server.Listen != "127.0.0.1:7000" {
		t.Errorf("Server.Listen = %q", cfg.Server.Listen)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown storage", func(c *Config) { c.Storage.Type = "cassandra" }, "invalid storage type"},
		{"token too short", func(c *Config) { c.Token.Length = 3 }, "invalid token length"},
		{"token too long", func(c *Config) { c.Token.Length = 65 }, "invalid token length"},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }, "invalid log level"},
		{"upper case level", func(c *Config) { c.Logging.Level = "DEBUG" }, ""},
		{"none storage", func(c *Config) { c.Storage.Type = "none" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 25565 {
		t.Errorf("Server.Port = %d, want default 25565", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendFile {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, BackendFile)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
logging:
  level: debug
  format: text
storage:
  backend: redis
  redis_url: redis://localhost:6380/1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}
	if cfg.Storage.Backend != BackendRedis {
		t.Errorf("Storage.Backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Storage.RedisURL != "redis://localhost:6380/1" {
		t.Errorf("Storage.RedisURL = %q", cfg.Storage.RedisURL)
	}
	// Untouched sections keep defaults
	if cfg.Admin.Port != 8080 {
		t.Errorf("Admin.Port = %d, want default 8080", cfg.Admin.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"empty listen", func(c *Config) { c.Server.Listen = "" }, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
		{"file backend missing inbox dir", func(c *Config) { c.Storage.InboxDir = "" }, true},
		{"redis backend missing url", func(c *Config) {
			c.Storage.Backend = BackendRedis
			c.Storage.RedisURL = ""
		}, true},
		{"redis backend valid", func(c *Config) { c.Storage.Backend = BackendRedis }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = "soon" }, true},
		{"shutdown timeout too long", func(c *Config) { c.Server.ShutdownTimeout = "10m" }, true},
		{"admin port conflict", func(c *Config) { c.Admin.Port = c.Server.Port }, true},
		{"admin disabled skips admin checks", func(c *Config) {
			c.Admin.Enabled = false
			c.Admin.Port = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(dir, "data")
	cfg.Storage.AccountsFile = filepath.Join(dir, "data", "emails.json")
	cfg.Storage.InboxDir = filepath.Join(dir, "data", "inbox")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error = %v", err)
	}
	if _, err := os.Stat(cfg.Storage.InboxDir); err != nil {
		t.Errorf("inbox dir not created: %v", err)
	}
}

func TestShutdownDuration(t *testing.T) {
	cfg := DefaultConfig()

	cfg.Server.ShutdownTimeout = "45s"
	if got := cfg.ShutdownDuration(); got != 45*time.Second {
		t.Errorf("ShutdownDuration() = %v, want 45s", got)
	}

	cfg.Server.ShutdownTimeout = ""
	if got := cfg.ShutdownDuration(); got != 30*time.Second {
		t.Errorf("ShutdownDuration() = %v, want 30s fallback", got)
	}

	cfg.Server.ShutdownTimeout = "bogus"
	if got := cfg.ShutdownDuration(); got != 30*time.Second {
		t.Errorf("ShutdownDuration() = %v, want 30s fallback", got)
	}
}

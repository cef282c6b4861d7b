package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the mail server
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Logging LoggingConfig `koanf:"logging"`
	Admin   AdminConfig   `koanf:"admin"`
}

// ServerConfig holds the client-facing listener configuration
type ServerConfig struct {
	Listen          string `koanf:"listen"`           // Listen address (default 0.0.0.0)
	Port            int    `koanf:"port"`             // Client protocol port
	ShutdownTimeout string `koanf:"shutdown_timeout"` // Graceful shutdown timeout
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	Backend      string `koanf:"backend"`       // file or redis
	DataDir      string `koanf:"data_dir"`      // Base data directory
	AccountsFile string `koanf:"accounts_file"` // Account registry file
	InboxDir     string `koanf:"inbox_dir"`     // Per-account inbox files
	RedisURL     string `koanf:"redis_url"`     // Redis connection URL (redis backend)
	RedisPrefix  string `koanf:"redis_prefix"`  // Key prefix (redis backend)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// AdminConfig holds the operator HTTP surface configuration
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"` // Enable the admin API
	Listen  string `koanf:"listen"`  // Listen address (default 127.0.0.1)
	Port    int    `koanf:"port"`    // Admin port (default 8080)
}

// Backend names accepted by storage.backend
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          "0.0.0.0",
			Port:            25565,
			ShutdownTimeout: "30s",
		},
		Storage: StorageConfig{
			Backend:      BackendFile,
			DataDir:      "data",
			AccountsFile: "data/emails.json",
			InboxDir:     "data/inbox",
			RedisURL:     "redis://localhost:6379/0",
			RedisPrefix:  "postwire",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled: true,
			Listen:  "127.0.0.1",
			Port:    8080,
		},
	}
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // Return defaults if no config file
	}

	// Load YAML config file
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Unmarshal into config struct
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535 (got: %d)", c.Server.Port)
	}
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateTimeouts(); err != nil {
		return err
	}

	// Logging validation
	if c.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true, "info": true, "warn": true, "error": true,
		}
		if !validLevels[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}

	if c.Logging.Format != "" {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	// Admin validation
	if c.Admin.Enabled {
		if c.Admin.Port < 1 || c.Admin.Port > 65535 {
			return fmt.Errorf("admin.port must be between 1 and 65535 (got: %d)", c.Admin.Port)
		}
		if c.Admin.Port == c.Server.Port {
			return fmt.Errorf("port conflict: admin.port and server.port both use port %d", c.Admin.Port)
		}
		if c.Admin.Listen == "" {
			return fmt.Errorf("admin.listen is required when admin is enabled")
		}
	}

	return nil
}

// validateStorage ensures the storage section is coherent for the
// selected backend
func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required")
		}
		if c.Storage.AccountsFile == "" {
			return fmt.Errorf("storage.accounts_file is required")
		}
		if c.Storage.InboxDir == "" {
			return fmt.Errorf("storage.inbox_dir is required")
		}
	case BackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required when backend is redis")
		}
		if c.Storage.RedisPrefix == "" {
			return fmt.Errorf("storage.redis_prefix is required when backend is redis")
		}
	default:
		return fmt.Errorf("storage.backend must be one of: file, redis (got: %s)", c.Storage.Backend)
	}
	return nil
}

// validateTimeouts ensures all timeout configurations are valid
func (c *Config) validateTimeouts() error {
	timeout := c.Server.ShutdownTimeout
	if timeout == "" {
		return nil // Optional
	}

	duration, err := time.ParseDuration(timeout)
	if err != nil {
		return fmt.Errorf("server.shutdown_timeout is invalid: %w", err)
	}
	if duration <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive (got: %s)", timeout)
	}
	if duration > 5*time.Minute {
		return fmt.Errorf("server.shutdown_timeout is too long, maximum is 5m (got: %s)", timeout)
	}

	return nil
}

// EnsureDirectories creates necessary directories
func (c *Config) EnsureDirectories() error {
	if c.Storage.Backend != BackendFile {
		return nil
	}

	dirs := []string{
		c.Storage.DataDir,
		c.Storage.InboxDir,
		filepath.Dir(c.Storage.AccountsFile),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ShutdownDuration returns the parsed shutdown timeout, falling back to
// 30s on an unset or unparsable value.
func (c *Config) ShutdownDuration() time.Duration {
	if c.Server.ShutdownTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

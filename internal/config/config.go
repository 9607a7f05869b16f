// Package config loads application settings from a YAML file with
// REAPER_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/media-reaper/internal/logging"
	"github.com/sydlexius/media-reaper/internal/webhook"
)

// DefaultPath is used when REAPER_CONFIG_PATH is unset.
const DefaultPath = "/data/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Auth        AuthConfig        `yaml:"auth"`
	Encryption  EncryptionConfig  `yaml:"encryption"`
	Probe       ProbeConfig       `yaml:"probe"`
	HealthCheck HealthCheckConfig `yaml:"health_check"`
	Logging     logging.Config    `yaml:"logging"`
	Webhooks    []webhook.Webhook `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// OptimizeInterval schedules PRAGMA optimize; zero disables it.
	OptimizeInterval time.Duration `yaml:"optimize_interval"`
	Backup           BackupConfig  `yaml:"backup"`
}

// BackupConfig schedules database snapshots. Dir defaults to a "backups"
// directory next to the database file.
type BackupConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Dir       string        `yaml:"dir"`
	Interval  time.Duration `yaml:"interval"`
	Retention int           `yaml:"retention"`
}

// AuthConfig holds the bootstrap admin account and session lifetime.
type AuthConfig struct {
	AdminUser     string        `yaml:"admin_user"`
	AdminPassword string        `yaml:"admin_password"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
}

// EncryptionConfig locates the key that seals stored API keys. Key wins
// over KeyFile.
type EncryptionConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
}

// ProbeConfig bounds live connection probes.
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// HealthCheckConfig controls the background checker.
type HealthCheckConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BasePath: "/",
		},
		Database: DatabaseConfig{
			Path:             "/data/reaper.db",
			OptimizeInterval: 24 * time.Hour,
			Backup: BackupConfig{
				Interval:  24 * time.Hour,
				Retention: 7,
			},
		},
		Auth: AuthConfig{
			AdminUser:  "admin",
			SessionTTL: 7 * 24 * time.Hour,
		},
		Probe: ProbeConfig{
			Timeout: 10 * time.Second,
		},
		HealthCheck: HealthCheckConfig{
			Enabled:     true,
			Interval:    5 * time.Minute,
			Concurrency: 4,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns REAPER_CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("REAPER_CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

// EncryptionKey returns the configured key, reading KeyFile if Key is empty.
func (c *Config) EncryptionKey() (string, error) {
	if c.Encryption.Key != "" {
		return c.Encryption.Key, nil
	}
	if c.Encryption.KeyFile == "" {
		return "", errors.New("no encryption key configured (set REAPER_ENCRYPTION_KEY or encryption.key_file)")
	}
	data, err := os.ReadFile(c.Encryption.KeyFile)
	if err != nil {
		return "", fmt.Errorf("reading encryption key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}

	setInt("REAPER_PORT", &c.Server.Port)
	setString("REAPER_BASE_PATH", &c.Server.BasePath)
	setString("REAPER_DB_PATH", &c.Database.Path)
	setDuration("REAPER_DB_OPTIMIZE_INTERVAL", &c.Database.OptimizeInterval)
	setBool("REAPER_BACKUP_ENABLED", &c.Database.Backup.Enabled)
	setString("REAPER_BACKUP_DIR", &c.Database.Backup.Dir)
	setDuration("REAPER_BACKUP_INTERVAL", &c.Database.Backup.Interval)
	setInt("REAPER_BACKUP_RETENTION", &c.Database.Backup.Retention)
	setString("REAPER_ADMIN_USER", &c.Auth.AdminUser)
	setString("REAPER_ADMIN_PASSWORD", &c.Auth.AdminPassword)
	setDuration("REAPER_SESSION_TTL", &c.Auth.SessionTTL)
	setString("REAPER_ENCRYPTION_KEY", &c.Encryption.Key)
	setString("REAPER_ENCRYPTION_KEY_FILE", &c.Encryption.KeyFile)
	setDuration("REAPER_PROBE_TIMEOUT", &c.Probe.Timeout)
	setBool("REAPER_HEALTHCHECK_ENABLED", &c.HealthCheck.Enabled)
	setDuration("REAPER_HEALTHCHECK_INTERVAL", &c.HealthCheck.Interval)
	setInt("REAPER_HEALTHCHECK_CONCURRENCY", &c.HealthCheck.Concurrency)
	setString("REAPER_LOG_LEVEL", &c.Logging.Level)
	setString("REAPER_LOG_FORMAT", &c.Logging.Format)
	setString("REAPER_LOG_FILE", &c.Logging.FilePath)

	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Database.OptimizeInterval < 0 {
		return fmt.Errorf("database optimize interval must not be negative, got %s", c.Database.OptimizeInterval)
	}
	if c.Database.Backup.Retention < 1 {
		return fmt.Errorf("backup retention must be at least 1, got %d", c.Database.Backup.Retention)
	}
	if c.Database.Backup.Enabled && c.Database.Backup.Interval < time.Minute {
		return fmt.Errorf("backup interval too short: %s", c.Database.Backup.Interval)
	}
	if c.Database.Backup.Dir == "" {
		c.Database.Backup.Dir = filepath.Join(filepath.Dir(c.Database.Path), "backups")
	}
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("probe timeout must be positive, got %s", c.Probe.Timeout)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.Auth.SessionTTL)
	}
	if c.HealthCheck.Enabled {
		if c.HealthCheck.Interval < time.Second {
			return fmt.Errorf("health check interval too short: %s", c.HealthCheck.Interval)
		}
		if c.HealthCheck.Concurrency < 1 {
			return fmt.Errorf("health check concurrency must be at least 1, got %d", c.HealthCheck.Concurrency)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	for _, w := range c.Webhooks {
		if err := w.Validate(); err != nil {
			return err
		}
	}

	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		c.Server.BasePath = "/" + c.Server.BasePath
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Cache backends
const (
	CacheFile   = "file"
	CacheSQLite = "sqlite"
	CacheMemory = "memory"
)

// LocalConfig holds configuration for local daemon mode
type LocalConfig struct {
	Daemon    DaemonConfig    `yaml:"daemon"`
	Cache     CacheConfig     `yaml:"cache"`
	Resources ResourcesConfig `yaml:"resources"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port"`
	Bind     string `yaml:"bind"`
	LogLevel string `yaml:"log_level"`

	// RequestsPerMinute caps attempt writes per learner; 0 disables the limit
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// CacheConfig selects the local durable cache backend
type CacheConfig struct {
	Backend string `yaml:"backend"`
}

// ResourcesConfig locates resource definitions
type ResourcesConfig struct {
	// Path is relative to the studyloop directory unless absolute
	Path string `yaml:"path"`
}

// LedgerConfig tunes remote store probing and retries
type LedgerConfig struct {
	ProbeTimeoutMs        int `yaml:"probe_timeout_ms"`
	RetryDelayMs          int `yaml:"retry_delay_ms"`
	BreakerTimeoutSeconds int `yaml:"breaker_timeout_seconds"`
}

// AnalyticsConfig controls the local analytics projection
type AnalyticsConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// ProbeTimeout returns the probe timeout as a duration
func (c LedgerConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// RetryDelay returns the retry delay as a duration
func (c LedgerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// BreakerTimeout returns the breaker open period as a duration
func (c LedgerConfig) BreakerTimeout() time.Duration {
	return time.Duration(c.BreakerTimeoutSeconds) * time.Second
}

// Retention returns how long analytics events are kept
func (c AnalyticsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Dir returns the studyloop directory: $STUDYLOOP_HOME, else ~/.studyloop
func Dir() (string, error) {
	if dir := os.Getenv("STUDYLOOP_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".studyloop"), nil
}

// EnsureDir creates the studyloop directory and subdirectories if they don't exist
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	subdirs := []string{
		"",
		"logs",
		"cache",
		"resources",
	}

	for _, subdir := range subdirs {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:              7433,
			Bind:              "127.0.0.1",
			LogLevel:          "info",
			RequestsPerMinute: 120,
		},
		Cache: CacheConfig{
			Backend: CacheFile,
		},
		Resources: ResourcesConfig{
			Path: "resources",
		},
		Ledger: LedgerConfig{
			ProbeTimeoutMs:        2000,
			RetryDelayMs:          200,
			BreakerTimeoutSeconds: 30,
		},
		Analytics: AnalyticsConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
	}
}

// Validate checks that the configuration is usable
func (c *LocalConfig) Validate() error {
	var errs []error
	if c.Daemon.Port <= 0 || c.Daemon.Port > 65535 {
		errs = append(errs, fmt.Errorf("daemon.port out of range: %d", c.Daemon.Port))
	}
	if c.Daemon.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("daemon.requests_per_minute must not be negative"))
	}
	switch c.Daemon.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("daemon.log_level unknown: %q", c.Daemon.LogLevel))
	}
	switch c.Cache.Backend {
	case CacheFile, CacheSQLite, CacheMemory:
	default:
		errs = append(errs, fmt.Errorf("cache.backend unknown: %q", c.Cache.Backend))
	}
	if c.Ledger.ProbeTimeoutMs <= 0 {
		errs = append(errs, errors.New("ledger.probe_timeout_ms must be positive"))
	}
	if c.Ledger.RetryDelayMs < 0 {
		errs = append(errs, errors.New("ledger.retry_delay_ms must not be negative"))
	}
	return errors.Join(errs...)
}

// ResourcesDir resolves the resource catalogue directory against dir
func (c *LocalConfig) ResourcesDir(dir string) string {
	if filepath.IsAbs(c.Resources.Path) {
		return c.Resources.Path
	}
	return filepath.Join(dir, c.Resources.Path)
}

// LoadLocalConfig loads configuration from <studyloop dir>/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	return LoadLocalConfigFrom(filepath.Join(dir, "config.yaml"))
}

// LoadLocalConfigFrom loads configuration from path. A missing file yields
// the defaults.
func LoadLocalConfigFrom(path string) (*LocalConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultLocalConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultLocalConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveLocalConfig saves configuration to <studyloop dir>/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

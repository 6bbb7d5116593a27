package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the environment-driven settings of a deployment. Empty
// connection URLs switch the matching integration off.
type Config struct {
	// Server
	Port  int
	Debug bool

	// Remote attempt store; empty means local cache only
	DatabaseURL      string
	DatabaseMaxConns int

	// RabbitMQ; empty disables attempt event publishing
	RabbitMQURL   string
	QueueWorkers  int
	QueuePrefetch int

	// Home overrides ~/.studyloop
	Home string

	// ResourcesPath overrides the resource catalogue directory
	ResourcesPath string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnvInt("PORT", 0),
		Debug:            getEnvBool("DEBUG", false),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DatabaseMaxConns: getEnvInt("DATABASE_MAX_CONNS", 10),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		QueueWorkers:     getEnvInt("QUEUE_WORKERS", 3),
		QueuePrefetch:    getEnvInt("QUEUE_PREFETCH", 1),
		Home:             getEnv("STUDYLOOP_HOME", ""),
		ResourcesPath:    getEnv("STUDYLOOP_RESOURCES", ""),
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT out of range: %d", cfg.Port)
	}
	if cfg.DatabaseMaxConns <= 0 {
		return nil, fmt.Errorf("DATABASE_MAX_CONNS must be positive")
	}

	return cfg, nil
}

// RemoteEnabled reports whether a remote attempt store is configured
func (c *Config) RemoteEnabled() bool {
	return c.DatabaseURL != ""
}

// QueueEnabled reports whether attempt events go to RabbitMQ
func (c *Config) QueueEnabled() bool {
	return c.RabbitMQURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

package config

import (
	"os"
	"sync"
)

// Well-known configuration keys.
const (
	KeyDefaultConnection = "connection.default"
	KeyQueryTimeout      = "query.timeout"
	KeyValidateOnConnect = "connection.validate"
	KeySettingsFile      = "settings.file"
	KeyServerPort        = "server.http_port"
)

// DefaultConnectionEnvVar is consulted when no connection descriptor is given
// and no connection was established yet.
const DefaultConnectionEnvVar = "KQLGATE_CONNECTION_STR"

// Config manages runtime configuration as a flat key/value store.
type Config struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates a configuration store seeded with defaults and, when present,
// the default connection string from the environment.
func New() *Config {
	c := &Config{
		values: map[string]string{
			KeyQueryTimeout:      "",
			KeyValidateOnConnect: "true",
			KeyServerPort:        "8088",
		},
	}
	if v := os.Getenv(DefaultConnectionEnvVar); v != "" {
		c.values[KeyDefaultConnection] = v
	}
	return c
}

// Get retrieves a configuration value.
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetBool retrieves a configuration value as a boolean. Only the literal
// "true" is true.
func (c *Config) GetBool(key string) bool {
	return c.Get(key) == "true"
}

// Set stores a single configuration value.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Update merges the given values into the store.
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range values {
		c.values[k] = v
	}
}

// GetAll returns a copy of all configuration values.
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

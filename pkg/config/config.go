package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config manages service configuration
type Config struct {
	mu     sync.RWMutex
	values map[string]string

	// Define which keys require restart when changed
	restartKeys []string
}

// New creates a new configuration manager
func New() *Config {
	return &Config{
		values: make(map[string]string),
		restartKeys: []string{
			"database.host",
			"database.port",
			"database.name",
		},
	}
}

// Load creates a configuration manager populated from a YAML file (optional)
// and REDB-style environment overrides (ACCOUNTSYNC_SECTION_KEY=value).
func Load(path string) (*Config, error) {
	c := New()
	c.Update(defaults())

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		var raw map[string]interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		c.Update(flatten("", raw))
	}

	c.Update(fromEnv())
	return c, nil
}

func defaults() map[string]string {
	return map[string]string{
		"database.host":            "localhost",
		"database.port":            "5432",
		"database.user":            "accountsync",
		"database.name":            "accountsync",
		"database.sslmode":         "disable",
		"database.max_connections": "40",

		"sync.max_parallel":        "8",
		"sync.connect_timeout":     "10s",
		"sync.query_timeout":       "60s",
		"sync.apply_timeout":       "120s",
		"sync.pool_max_idle":       "1",
		"sync.pool_sweep_interval": "60s",

		"scheduler.timezone": "Asia/Shanghai",
		"scheduler.workers":  "4",

		"oracle.client_lib_dir": "",

		"changelog.retention": "2160h", // 90 days
	}
}

// flatten converts nested YAML maps into dotted keys.
func flatten(prefix string, raw map[string]interface{}) map[string]string {
	out := make(map[string]string)
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			for fk, fv := range flatten(key, val) {
				out[fk] = fv
			}
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// fromEnv maps ACCOUNTSYNC_DATABASE_HOST style variables onto dotted keys.
func fromEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, "ACCOUNTSYNC_") {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], "ACCOUNTSYNC_"))
		key = strings.Replace(key, "_", ".", 1)
		out[key] = parts[1]
	}
	return out
}

// Get retrieves a configuration value
func (c *Config) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetInt retrieves an integer configuration value, falling back on parse failure.
func (c *Config) GetInt(key string, fallback int) int {
	v := c.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// GetDuration retrieves a duration configuration value, falling back on parse failure.
func (c *Config) GetDuration(key string, fallback time.Duration) time.Duration {
	v := c.Get(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// GetAll returns a copy of all configuration values
func (c *Config) GetAll() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	copy := make(map[string]string)
	for k, v := range c.values {
		copy[k] = v
	}
	return copy
}

// Update updates configuration values
func (c *Config) Update(values map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range values {
		c.values[k] = v
	}
}

// RequiresRestart checks if any changed keys require a restart
func (c *Config) RequiresRestart(oldConfig map[string]string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range c.restartKeys {
		if oldConfig[key] != c.values[key] {
			return true
		}
	}

	return false
}

// SetRestartKeys sets which configuration keys require restart when changed
func (c *Config) SetRestartKeys(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restartKeys = keys
}

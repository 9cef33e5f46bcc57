// Package config holds the static configuration of the orchestrator:
// scheduler knobs, connection pool sizing, cache backend selection,
// quality thresholds and the agent roster. Loaded from YAML with
// environment expansion; hot-reload through the provider subpackage.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	// MaxParallel bounds concurrently running workflow nodes.
	MaxParallel int `yaml:"max_parallel"`

	// ConnectionPoolSize bounds connections per agent endpoint.
	ConnectionPoolSize int `yaml:"connection_pool_size"`

	// RetryBudget is the number of retries per node after the first attempt.
	RetryBudget int `yaml:"retry_budget"`

	// FailureMode is "strict" or "lenient".
	FailureMode string `yaml:"failure_mode"`

	// NodeTimeoutSeconds bounds one node invocation attempt; 0 disables.
	NodeTimeoutSeconds int `yaml:"node_timeout_seconds"`

	// CacheTTLSeconds is the result cache entry lifetime.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`

	// QualityThresholds maps metric name to minimum passing score. An
	// empty map disables the quality gate.
	QualityThresholds map[string]float64 `yaml:"quality_thresholds,omitempty"`

	Cache     CacheConfig               `yaml:"cache"`
	Databases map[string]DatabaseConfig `yaml:"databases,omitempty"`
	Agents    []AgentConfig             `yaml:"agents"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// AgentConfig declares one remote agent.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
	URL          string `yaml:"url"`
	Domain       string `yaml:"domain,omitempty"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	// Backend is "memory" or "sql".
	Backend string `yaml:"backend"`

	// Database names the entry in Databases used by the sql backend.
	Database string `yaml:"database,omitempty"`

	// Namespace overrides per-run cache scoping; empty keeps results
	// isolated per run.
	Namespace string `yaml:"namespace,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.MaxParallel == 0 {
		c.MaxParallel = 4
	}
	if c.ConnectionPoolSize == 0 {
		c.ConnectionPoolSize = 4
	}
	if c.FailureMode == "" {
		c.FailureMode = "strict"
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 3600
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for name, db := range c.Databases {
		db.SetDefaults()
		c.Databases[name] = db
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1")
	}
	if c.ConnectionPoolSize < 1 {
		return fmt.Errorf("connection_pool_size must be at least 1")
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must be non-negative")
	}
	if c.FailureMode != "strict" && c.FailureMode != "lenient" {
		return fmt.Errorf("invalid failure_mode %q (valid: strict, lenient)", c.FailureMode)
	}
	for metric, min := range c.QualityThresholds {
		if min < 0 || min > 1 {
			return fmt.Errorf("quality threshold for %q must be in [0,1], got %v", metric, min)
		}
	}

	switch c.Cache.Backend {
	case "memory":
	case "sql":
		if c.Cache.Database == "" {
			return fmt.Errorf("cache backend 'sql' requires cache.database")
		}
		if _, ok := c.Databases[c.Cache.Database]; !ok {
			return fmt.Errorf("cache.database %q not found in databases", c.Cache.Database)
		}
	default:
		return fmt.Errorf("invalid cache backend %q (valid: memory, sql)", c.Cache.Backend)
	}

	for name, db := range c.Databases {
		if err := db.Validate(); err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
	}

	seen := make(map[string]bool)
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent #%d: name is required", i)
		}
		if a.URL == "" {
			return fmt.Errorf("agent %q: url is required", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// NodeTimeout returns the per-node timeout as a duration.
func (c *Config) NodeTimeout() time.Duration {
	return time.Duration(c.NodeTimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Parse decodes raw YAML into a validated config with env expansion
// applied and defaults filled.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)
	encoded, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Package config provides configuration structures and loading logic for the
// compliance engine, plus a hot-reloading policy bundle provider.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the global configuration for the engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Policies    PoliciesConfig    `yaml:"policies"`
	Engine      EngineConfig      `yaml:"engine"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// PoliciesConfig holds configuration for policy bundle loading.
type PoliciesConfig struct {
	Dir string `yaml:"dir"`
}

// EngineConfig holds evaluation-engine tunables.
type EngineConfig struct {
	CacheTTL            time.Duration `yaml:"cache_ttl"`
	ReportingFrameworks []string      `yaml:"reporting_frameworks"`
}

// EnforcementConfig holds configuration for the enforcement executor.
type EnforcementConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: ":8090",
		},
		Engine: EngineConfig{
			CacheTTL: 5 * time.Minute,
		},
		Enforcement: EnforcementConfig{
			ActionTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("AEGIS_LISTEN_ADDR"); val != "" {
		cfg.Server.Address = val
	}

	if val := os.Getenv("AEGIS_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("AEGIS_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("AEGIS_POLICY_DIR"); val != "" {
		cfg.Policies.Dir = val
	}

	if val := os.Getenv("AEGIS_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.CacheTTL = d
		}
	}

	if val := os.Getenv("AEGIS_ENFORCEMENT_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Enforcement.Enabled = b
		}
	}

	if val := os.Getenv("AEGIS_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("AEGIS_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Engine.CacheTTL < 0 {
		return fmt.Errorf("engine.cache_ttl must not be negative")
	}
	if c.Enforcement.ActionTimeout <= 0 {
		return fmt.Errorf("enforcement.action_timeout must be positive")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Policies.Dir != "" {
		info, err := os.Stat(c.Policies.Dir)
		if err != nil {
			return fmt.Errorf("policies.dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("policies.dir %s is not a directory", c.Policies.Dir)
		}
	}
	return nil
}

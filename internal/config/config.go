// Package config handles configuration loading: an optional YAML file with
// environment variable expansion, layered under the env-var defaults that
// spec.md's External Interfaces section treats as the primary configuration
// surface (ANTHROPIC_API_KEY, OPENROUTER_API_KEY, OLLAMA_ENABLED,
// OLLAMA_ENDPOINT).
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	cruise "github.com/cruisehq/cruise/internal"
)

// Provider type identifiers, matching spec.md's three adapter types.
const (
	TypePrimary        = "primary"
	TypeOpenAICompat   = "openai-compatible"
	TypeLocalChat      = "local-chat"
)

// Router modes.
const (
	ModeManual   = "manual"
	ModeSemiAuto = "semi-auto"
	ModeFullAuto = "full-auto"
)

// Config is the top-level proxy configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Router    RouterConfig    `yaml:"router"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN           string `yaml:"dsn"`            // file path or ":memory:"
	RetentionDays int    `yaml:"retention_days"` // UsageLog rows older than this are pruned
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// RouterConfig holds the routing policy and provider list.
type RouterConfig struct {
	Mode       string          `yaml:"mode"`
	Enabled    bool            `yaml:"enabled"`
	Thresholds ThresholdConfig `yaml:"thresholds"`
	Providers  []ProviderEntry `yaml:"providers"`
}

// ThresholdConfig holds the three usage_percent cutoffs that drive routing.
type ThresholdConfig struct {
	SwitchToHaiku      float64 `yaml:"switch_to_haiku"`
	SwitchToOpenRouter float64 `yaml:"switch_to_openrouter"`
	SwitchToLocal      float64 `yaml:"switch_to_local"`
}

// ProviderEntry is a single configured upstream provider.
type ProviderEntry struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // "primary", "openai-compatible", "local-chat"
	Endpoint string   `yaml:"endpoint"`
	APIKey   string   `yaml:"api_key"`
	Models   []string `yaml:"models"`
	Enabled  *bool    `yaml:"enabled"`
	Priority int      `yaml:"priority"`
}

// IsEnabled reports whether the provider is enabled (defaults to true when nil).
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load builds a Config from env-var defaults, then overlays an optional YAML
// file at path (environment-expanded) when path is non-empty and exists.
// port overrides Server.Addr's port when non-zero (the --port flag).
func Load(path string, port int) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			data = expandEnv(data)
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if port != 0 {
		cfg.Server.Addr = fmt.Sprintf(":%d", port)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultConfig builds the env-var-driven default configuration described in
// spec.md's External Interfaces section: a primary Anthropic provider
// (required), an optional OpenRouter-style openai-compatible provider, and
// an optional local Ollama provider.
func defaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":4141",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // long-lived streaming responses
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           defaultDSN(),
			RetentionDays: 30,
		},
		Router: RouterConfig{
			Mode:    ModeFullAuto,
			Enabled: true,
			Thresholds: ThresholdConfig{
				SwitchToHaiku:      70,
				SwitchToOpenRouter: 85,
				SwitchToLocal:      95,
			},
		},
	}

	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	cfg.Router.Providers = append(cfg.Router.Providers, ProviderEntry{
		Name:     "anthropic",
		Type:     TypePrimary,
		Endpoint: "https://api.anthropic.com",
		APIKey:   anthropicKey,
		Models:   []string{"claude-sonnet-4-6", "claude-haiku-4-5", "claude-opus-4-6"},
		Priority: 0,
	})

	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		cfg.Router.Providers = append(cfg.Router.Providers, ProviderEntry{
			Name:     "openrouter",
			Type:     TypeOpenAICompat,
			Endpoint: "https://openrouter.ai/api/v1",
			APIKey:   key,
			Models:   []string{"anthropic/claude-sonnet-4.6"},
			Priority: 1,
		})
	}

	if os.Getenv("OLLAMA_ENABLED") == "true" || os.Getenv("OLLAMA_ENABLED") == "1" {
		endpoint := os.Getenv("OLLAMA_ENDPOINT")
		if endpoint == "" {
			endpoint = "http://localhost:11434"
		}
		cfg.Router.Providers = append(cfg.Router.Providers, ProviderEntry{
			Name:     "ollama",
			Type:     TypeLocalChat,
			Endpoint: endpoint,
			Models:   []string{"llama3.1"},
			Priority: 2,
		})
	}

	return cfg
}

// defaultDSN returns "<user-home>/.cruise/usage.db", matching spec.md's
// External Interfaces section exactly.
func defaultDSN() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return home + "/.cruise/usage.db"
}

// validate enforces the fatal-at-startup config errors from spec.md's Error
// Handling table: a missing primary credential is caught later (per
// request, as ErrMissingCredential), but an entirely absent primary
// provider entry is a configuration error.
func (c *Config) validate() error {
	hasPrimary := false
	for _, p := range c.Router.Providers {
		if p.Type == TypePrimary {
			hasPrimary = true
		}
	}
	if !hasPrimary {
		return fmt.Errorf("%w: no primary provider configured", cruise.ErrConfig)
	}
	return nil
}

// Package config provides typed application configuration loaded from a YAML
// file with environment-variable expansion, plus built-in defaults.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config is the root application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limits"`
	Providers ProvidersConfig `yaml:"providers"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
}

// HTTPConfig contains HTTP server settings.
type HTTPConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DefaultHTTPConfig returns the built-in HTTP defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		ListenAddr:      ":8080",
		RequestTimeout:  60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxUploadBytes:  25 << 20,
	}
}

// SessionConfig contains session lifecycle timing.
type SessionConfig struct {
	// IdleBudget is how long a session may go without activity before the
	// sweeper abandons it.
	IdleBudget time.Duration `yaml:"idle_budget"`

	// WarningThreshold marks sessions whose remaining time is at or below
	// this value so time-remaining polls can warn the client.
	WarningThreshold time.Duration `yaml:"warning_threshold"`

	// SweepInterval is the idle-sweeper tick.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// FinalSummaryBudget bounds the terminal summary generation task.
	FinalSummaryBudget time.Duration `yaml:"final_summary_budget"`

	// GradingBudget bounds each per-turn coach grading task.
	GradingBudget time.Duration `yaml:"per_turn_grading_budget"`

	// GradingRetries bounds grading attempts before an error entry is
	// recorded at the turn index.
	GradingRetries int `yaml:"per_turn_grading_retries"`
}

// DefaultSessionConfig returns the built-in session timing defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleBudget:         15 * time.Minute,
		WarningThreshold:   2 * time.Minute,
		SweepInterval:      60 * time.Second,
		FinalSummaryBudget: 120 * time.Second,
		GradingBudget:      30 * time.Second,
		GradingRetries:     3,
	}
}

// AuthConfig contains token verification settings.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret for bearer and WebSocket tokens.
	JWTSecret string `yaml:"jwt_secret"`

	// MockMode substitutes a fixed development secret when no secret is
	// configured. Never enable in production.
	MockMode bool `yaml:"mock_mode"`
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	return &Config{
		HTTP:      DefaultHTTPConfig(),
		Session:   DefaultSessionConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Providers: DefaultProvidersConfig(),
		Database:  DefaultDatabaseConfig(),
	}
}

// Load reads the YAML config at path (if present), expands {{.ENV_VAR}}
// references, and merges over the defaults. A missing file is not an error;
// the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env-only config
		case err != nil:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		default:
			if err := unmarshalYAML(ExpandEnv(data), cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Session.IdleBudget <= 0 {
		return fmt.Errorf("session.idle_budget must be positive")
	}
	if c.Session.WarningThreshold < 0 || c.Session.WarningThreshold >= c.Session.IdleBudget {
		return fmt.Errorf("session.warning_threshold must be in [0, idle_budget)")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep_interval must be positive")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	return nil
}

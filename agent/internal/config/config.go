package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shoplens/shoplens/pkg/publisher"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultInput        = "-"
	DefaultDrainTimeout = 5 * time.Second
	DefaultLogLevel     = "info"
)

// Config is the top-level agent configuration file.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// Publisher carries server_endpoint, buffer_size and auth.
	Publisher publisher.Config `yaml:",inline"`

	// Input is the NDJSON file to relay; "-" reads stdin.
	Input string `yaml:"input"`

	// DefaultOrg is applied to events that carry no org_id.
	DefaultOrg string `yaml:"default_org"`

	// DrainTimeout bounds how long the agent waits for buffered events to
	// be delivered after the input ends.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	LogLevel string `yaml:"log_level"`
}

// Level maps LogLevel to a slog.Level; unknown values fall back to info.
func (a AgentConfig) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(a.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Publisher: publisher.Config{
				BufferSize: publisher.DefaultBufferSize,
			},
			Input:        DefaultInput,
			DrainTimeout: DefaultDrainTimeout,
			LogLevel:     DefaultLogLevel,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.Publisher.Endpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if a.Publisher.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.DrainTimeout < 0 {
		return fmt.Errorf("agent.drain_timeout must not be negative")
	}
	if strings.TrimSpace(a.Input) == "" {
		return fmt.Errorf("agent.input must not be empty")
	}
	switch a.Publisher.Auth.Mode {
	case "apikey", "none", "":
	case "mtls":
		if a.Publisher.Auth.CertFile == "" || a.Publisher.Auth.KeyFile == "" {
			return fmt.Errorf("agent.auth: mtls requires cert_file and key_file")
		}
	default:
		return fmt.Errorf("agent.auth: unknown mode %q", a.Publisher.Auth.Mode)
	}
	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition evaluated per organization.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression over the org's rolling event stats:
	// "events_per_min > 500", "purchases_per_min < 1", "table:orders > 100".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Default values for the server configuration.
const (
	DefaultGRPCPort        = 50051
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultWSPath          = "/ws"
	DefaultGreeting        = "Connected to shoplens realtime"
	DefaultSendBuffer      = 64
	DefaultMaxMessageBytes = 4096
	DefaultEventTTL        = 15 * time.Minute
	DefaultEventsPerOrg    = 200
)

// Config holds the server configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings. Fields tagged with env may be
// overridden by SHOPLENS_* environment variables after the file is parsed.
type ServerConfig struct {
	// GRPCPort is the port the ingest gRPC service listens on (default 50051).
	GRPCPort int `yaml:"grpc_port" env:"GRPC_PORT"`

	// HTTPPort is the port shared by the REST API and the WebSocket gateway (default 8080).
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	WS     WSConfig     `yaml:"ws" envPrefix:"WS_"`
	Auth   AuthConfig   `yaml:"auth" envPrefix:"AUTH_"`
	Events EventsConfig `yaml:"events" envPrefix:"EVENTS_"`
	Alerts AlertsConfig `yaml:"alerts"`
}

// WSConfig controls the realtime socket endpoint.
type WSConfig struct {
	// Path is the only route on which upgrades are accepted (default /ws).
	Path string `yaml:"path" env:"PATH"`

	// Greeting is sent in the `connected` frame to every new socket.
	Greeting string `yaml:"greeting" env:"GREETING"`

	// SendBuffer is the per-connection outbound frame queue depth. A socket
	// whose queue is full is treated as dead and dropped.
	SendBuffer int `yaml:"send_buffer" env:"SEND_BUFFER"`

	// MaxMessageBytes caps inbound frame size.
	MaxMessageBytes int64 `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
}

// AuthConfig controls API key authentication of the ingest surfaces.
// The dashboard socket channel is not covered.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" env:"MODE"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env" env:"KEY_ENV"`

	// Header is the gRPC metadata key (and HTTP header name) to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header" env:"HEADER"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return "x-api-key"
}

// EventsConfig controls the in-memory recent-event cache.
type EventsConfig struct {
	// TTL is how long an organization's events stay readable after its last event.
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// PerOrg caps how many recent events are retained per organization.
	PerOrg int `yaml:"per_org" env:"PER_ORG"`
}

// Level returns the slog level for LogLevel. Unknown values map to info.
func (s ServerConfig) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Load reads and parses the config file at path, applies SHOPLENS_*
// environment overrides and returns the server configuration. Missing fields
// are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := env.ParseWithOptions(&cfg.Server, env.Options{Prefix: "SHOPLENS_"}); err != nil {
		return nil, fmt.Errorf("server config: environment: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: DefaultGRPCPort,
			HTTPPort: DefaultHTTPPort,
			LogLevel: DefaultLogLevel,
			WS: WSConfig{
				Path:            DefaultWSPath,
				Greeting:        DefaultGreeting,
				SendBuffer:      DefaultSendBuffer,
				MaxMessageBytes: DefaultMaxMessageBytes,
			},
			Events: EventsConfig{
				TTL:    DefaultEventTTL,
				PerOrg: DefaultEventsPerOrg,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.GRPCPort <= 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", s.GRPCPort)
	}
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort == s.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ (both %d)", s.GRPCPort)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	if !strings.HasPrefix(s.WS.Path, "/") {
		return fmt.Errorf("server.ws.path %q must start with /", s.WS.Path)
	}
	if s.WS.SendBuffer <= 0 {
		return fmt.Errorf("server.ws.send_buffer must be positive")
	}
	if s.WS.MaxMessageBytes <= 0 {
		return fmt.Errorf("server.ws.max_message_bytes must be positive")
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Events.TTL < 0 {
		return fmt.Errorf("server.events.ttl must not be negative")
	}
	if s.Events.PerOrg <= 0 {
		return fmt.Errorf("server.events.per_org must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("server.alerts.rules[%d] %q: condition %q must be \"field op value\"", i, r.Name, r.Condition)
		}
	}
	return nil
}

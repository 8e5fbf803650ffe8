package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/tpsmeter/pkg/tps"
)

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// Interval controls how often rules are evaluated against the current rate.
	// Default: 10s.
	Interval time.Duration `yaml:"interval"`

	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression: "tps < 5", "tps >= 1000",
	// "segments > 10000".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// RoutingKeyEnv names the environment variable holding the PagerDuty
	// integration key. Only used by the pagerduty type.
	RoutingKeyEnv string `yaml:"routing_key_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// RoutingKey returns the PagerDuty routing key resolved from the environment.
func (w WebhookConfig) RoutingKey() string {
	if w.RoutingKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.RoutingKeyEnv)
}

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultProxyPort         = 8081
	DefaultBroadcastInterval = 2 * time.Second
	DefaultAlertInterval     = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultAPIKeyHeader      = "X-API-Key"
)

// Config holds the configuration parsed from the `server:` section of
// config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, /metrics and WebSocket feed listen on.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of: debug | info | warn | error. Reloadable.
	LogLevel string `yaml:"log_level"`

	// LogFormat is json (machine readable) or text (coloured console).
	LogFormat string `yaml:"log_format"`

	// Auth configures how the server authenticates incoming REST clients.
	Auth AuthConfig `yaml:"auth"`

	// TPS configures the throughput monitor.
	TPS TPSConfig `yaml:"tps"`

	// Proxy configures the metered reverse proxy.
	Proxy ProxyConfig `yaml:"proxy"`

	// Storage configures the stream-check log database.
	Storage StorageConfig `yaml:"storage"`

	// Alerts holds rule definitions and webhook delivery targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "X-API-Key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultAPIKeyHeader
}

// TPSConfig configures the sliding-window throughput monitor.
type TPSConfig struct {
	// WindowSecs is the averaging window in whole seconds. Absent means
	// tps.DefaultWindowSecs; zero or negative values are clamped to 1 by the
	// monitor. Not reloadable.
	WindowSecs int `yaml:"window_secs"`

	// BroadcastInterval controls how often the WebSocket feed pushes the rate.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`
}

// ProxyConfig configures the metered reverse proxy.
type ProxyConfig struct {
	// Upstream is the base URL of the LLM API requests are forwarded to.
	// Empty disables the proxy listener.
	Upstream string `yaml:"upstream"`

	// ListenPort is the port clients send proxied requests to.
	ListenPort int `yaml:"listen_port"`
}

// StorageConfig configures the stream-check log backend.
type StorageConfig struct {
	// Path is the SQLite database file. Empty disables the check log endpoints.
	Path string `yaml:"path"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
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
		Server: ServerConfig{
			HTTPPort:  DefaultHTTPPort,
			LogLevel:  DefaultLogLevel,
			LogFormat: DefaultLogFormat,
			TPS: TPSConfig{
				WindowSecs:        tps.DefaultWindowSecs,
				BroadcastInterval: DefaultBroadcastInterval,
			},
			Proxy: ProxyConfig{
				ListenPort: DefaultProxyPort,
			},
			Alerts: AlertsConfig{
				Interval: DefaultAlertInterval,
			},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if _, err := ParseLevel(s.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}
	switch s.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("server.log_format %q unknown: want json|text", s.LogFormat)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.TPS.BroadcastInterval <= 0 {
		return fmt.Errorf("server.tps.broadcast_interval must be positive")
	}
	if s.Proxy.Upstream != "" {
		u, err := url.Parse(s.Proxy.Upstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.proxy.upstream %q must be an absolute URL", s.Proxy.Upstream)
		}
		if s.Proxy.ListenPort <= 0 || s.Proxy.ListenPort > 65535 {
			return fmt.Errorf("server.proxy.listen_port %d is out of range [1, 65535]", s.Proxy.ListenPort)
		}
		if s.Proxy.ListenPort == s.HTTPPort {
			return fmt.Errorf("server.proxy.listen_port must differ from server.http_port")
		}
	}
	if s.Alerts.Interval <= 0 {
		return fmt.Errorf("server.alerts.interval must be positive")
	}
	for i, r := range s.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"field op value\"", i, r.Name)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("alerts.rules[%d] %q: unknown severity %q", i, r.Name, r.Severity)
		}
	}
	for i, w := range s.Alerts.Webhooks {
		switch w.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	return nil
}

// ParseLevel maps a log_level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown level %q", s)
	}
}

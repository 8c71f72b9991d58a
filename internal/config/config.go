package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/drowseguard/drowseguard/internal/debounce"
	"github.com/drowseguard/drowseguard/internal/ocular"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort          = 8080
	DefaultGRPCPort          = 50051
	DefaultBroadcastInterval = time.Second
	DefaultStreamTTL         = 5 * time.Minute
	DefaultClassifier        = "landmark"
	DefaultStorageBackend    = "none"
	DefaultSQLitePath        = "drowseguard.db"
	DefaultQueueSize         = 256
	DefaultAuthHeader        = "x-api-key"
)

// Config is the top-level configuration.
type Config struct {
	Detector DetectorConfig `yaml:"detector"`
	Server   ServerConfig   `yaml:"server"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// DetectorConfig holds the engine tunables and the classifier backend.
type DetectorConfig struct {
	// LowThreshold is the eye openness below which a frame counts as closed.
	// Clamped to [0.15, 0.35].
	LowThreshold float64 `yaml:"low_threshold"`

	// RequiredFrames is the alert delay in consecutive closed frames.
	// Clamped to [5, 50].
	RequiredFrames int `yaml:"required_frames"`

	// Classifier selects the backend: landmark | cascade | fixed.
	Classifier string `yaml:"classifier"`

	// FixedOpenness is reported on every frame by the fixed classifier.
	FixedOpenness float64 `yaml:"fixed_openness"`
}

// Settings returns the clamped debounce settings.
func (d DetectorConfig) Settings() debounce.Settings {
	return debounce.Settings{
		LowThreshold:   d.LowThreshold,
		RequiredFrames: d.RequiredFrames,
	}.Clamp()
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	// HTTPPort serves the REST API, WebSocket hub and /metrics.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort serves the frame ingest service. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	// Auth configures API key authentication for both listeners.
	Auth AuthConfig `yaml:"auth"`

	// BroadcastInterval is the UI refresh cadence of the WebSocket hub.
	BroadcastInterval time.Duration `yaml:"broadcast_interval"`

	// StreamTTL evicts streams that have not received a frame for this long.
	StreamTTL time.Duration `yaml:"stream_ttl"`
}

// AuthConfig controls client authentication.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header / gRPC metadata key carrying the key.
	Header string `yaml:"header"`

	// KeyEnv names the environment variable holding the plaintext key.
	KeyEnv string `yaml:"key_env"`

	// KeyHashEnv names the environment variable holding a bcrypt hash of the
	// key. Takes precedence over KeyEnv.
	KeyHashEnv string `yaml:"key_hash_env"`
}

// Key returns the plaintext API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// KeyHash returns the bcrypt hash resolved from the environment.
func (a AuthConfig) KeyHash() string {
	if a.KeyHashEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyHashEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return strings.ToLower(a.Header)
	}
	return DefaultAuthHeader
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one condition evaluated against every frame result.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the dedup key.
	Name string `yaml:"name"`

	// Condition is "field op value", e.g. "alert == true",
	// "alert_transitions >= 3", "elapsed_min > 120".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-notification while the rule keeps firing.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv names the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// StorageConfig configures session history persistence.
type StorageConfig struct {
	// Backend is one of: none | sqlite | postgres.
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	Path string `yaml:"path"`

	// DSNEnv names the environment variable holding the Postgres DSN.
	DSNEnv string `yaml:"dsn_env"`

	// QueueSize bounds pending history writes.
	QueueSize int `yaml:"queue_size"`
}

// DSN returns the connection string for the configured backend.
func (s StorageConfig) DSN() string {
	switch s.Backend {
	case "sqlite":
		return s.Path
	case "postgres":
		if s.DSNEnv == "" {
			return ""
		}
		return os.Getenv(s.DSNEnv)
	default:
		return ""
	}
}

// LogConfig controls the slog handler installed by main.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is one of: json | text.
	Format string `yaml:"format"`
}

// SlogLevel maps Level to a slog.Level, defaulting to Info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also
// what a host runs with when no config file exists.
func Defaults() *Config {
	return &Config{
		Detector: DetectorConfig{
			LowThreshold:   debounce.DefaultLowThreshold,
			RequiredFrames: debounce.DefaultRequiredFrames,
			Classifier:     DefaultClassifier,
			FixedOpenness:  ocular.DefaultFixedOpenness,
		},
		Server: ServerConfig{
			HTTPPort:          DefaultHTTPPort,
			GRPCPort:          DefaultGRPCPort,
			BroadcastInterval: DefaultBroadcastInterval,
			StreamTTL:         DefaultStreamTTL,
		},
		Storage: StorageConfig{
			Backend:   DefaultStorageBackend,
			Path:      DefaultSQLitePath,
			QueueSize: DefaultQueueSize,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// validate checks structural constraints. Detector tunables are clamped
// rather than validated.
func validate(cfg *Config) error {
	switch cfg.Detector.Classifier {
	case "landmark", "cascade", "fixed":
	default:
		return fmt.Errorf("detector.classifier %q unknown: want landmark|cascade|fixed", cfg.Detector.Classifier)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.GRPCPort < 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.GRPCPort != 0 && cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port and server.http_port must differ")
	}
	if cfg.Server.BroadcastInterval <= 0 {
		return fmt.Errorf("server.broadcast_interval must be positive")
	}
	if cfg.Server.StreamTTL <= 0 {
		return fmt.Errorf("server.stream_ttl must be positive")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	for i, r := range cfg.Alerts.Rules {
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
	for i, w := range cfg.Alerts.Webhooks {
		switch w.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("alerts.webhooks[%d]: unknown type %q", i, w.Type)
		}
	}
	switch cfg.Storage.Backend {
	case "none", "":
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for sqlite")
		}
	case "postgres":
		if cfg.Storage.DSNEnv == "" {
			return fmt.Errorf("storage.dsn_env is required for postgres")
		}
	default:
		return fmt.Errorf("storage.backend %q unknown: want none|sqlite|postgres", cfg.Storage.Backend)
	}
	if cfg.Storage.QueueSize <= 0 {
		return fmt.Errorf("storage.queue_size must be positive")
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format)
	}
	return nil
}

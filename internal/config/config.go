// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultPeerHost is the hosted display peer.
const DefaultPeerHost = "remote-dog-face-123.deno.dev"

// Config holds all application configuration.
type Config struct {
	// Duplex channel to the display peer
	Channel ChannelConfig `yaml:"channel"`

	// One-shot HTTP delivery
	HTTP HTTPConfig `yaml:"http"`

	// Reference peer (facepeer)
	Peer PeerConfig `yaml:"peer"`

	// Event bus for UI-facing events
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ChannelConfig holds the resilient channel settings.
type ChannelConfig struct {
	URL               string        `envconfig:"FACE_CHANNEL_URL" yaml:"url"`
	HeartbeatInterval time.Duration `envconfig:"FACE_HEARTBEAT_INTERVAL" yaml:"heartbeat_interval"`
	LivenessTimeout   time.Duration `envconfig:"FACE_LIVENESS_TIMEOUT" yaml:"liveness_timeout"`
	BackoffBase       time.Duration `envconfig:"FACE_BACKOFF_BASE" yaml:"backoff_base"`
	BackoffMax        time.Duration `envconfig:"FACE_BACKOFF_MAX" yaml:"backoff_max"`
	BackoffJitter     float64       `envconfig:"FACE_BACKOFF_JITTER" yaml:"backoff_jitter"` // 0 = deterministic
	QueueCapacity     int           `envconfig:"FACE_QUEUE_CAPACITY" yaml:"queue_capacity"`
	DialTimeout       time.Duration `envconfig:"FACE_DIAL_TIMEOUT" yaml:"dial_timeout"`
	WriteTimeout      time.Duration `envconfig:"FACE_WRITE_TIMEOUT" yaml:"write_timeout"`
}

// HTTPConfig holds one-shot delivery settings.
type HTTPConfig struct {
	BaseURL string        `envconfig:"FACE_HTTP_URL" yaml:"base_url"`
	Timeout time.Duration `envconfig:"FACE_HTTP_TIMEOUT" yaml:"timeout"`
}

// PeerConfig holds settings for the reference peer server.
type PeerConfig struct {
	Host      string `envconfig:"FACE_PEER_HOST" yaml:"host"`
	Port      int    `envconfig:"FACE_PEER_PORT" yaml:"port"`
	RateLimit int    `envconfig:"FACE_PEER_RATE_LIMIT" yaml:"rate_limit"` // POSTs per second per IP, 0 = disabled
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type            string `envconfig:"FACE_BUS_TYPE" yaml:"type"`
	KafkaBrokers    string `envconfig:"FACE_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup      string `envconfig:"FACE_KAFKA_GROUP" yaml:"kafka_group"`
	RedisURL        string `envconfig:"FACE_REDIS_URL" yaml:"redis_url"`
	TopicPrefix     string `envconfig:"FACE_BUS_TOPIC_PREFIX" yaml:"topic_prefix"`
	EventLogEnabled bool   `envconfig:"FACE_EVENT_LOG_ENABLED" yaml:"event_log_enabled"`
	EventLogPath    string `envconfig:"FACE_EVENT_LOG_PATH" yaml:"event_log_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"FACE_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"FACE_LOG_FORMAT" yaml:"format"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"FACE_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsAddr    string `envconfig:"FACE_METRICS_ADDR" yaml:"metrics_addr"`
	// Optional Redis URL for persisting trigger history across restarts
	HistoryRedisURL string `envconfig:"FACE_METRICS_REDIS_URL" yaml:"history_redis_url"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns the built-in configuration without consulting file or env.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Channel = ChannelConfig{
		URL:               "wss://" + DefaultPeerHost + "/ws",
		HeartbeatInterval: 10 * time.Second,
		LivenessTimeout:   30 * time.Second,
		BackoffBase:       time.Second,
		BackoffMax:        30 * time.Second,
		BackoffJitter:     0,
		QueueCapacity:     10,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	cfg.HTTP = HTTPConfig{
		BaseURL: "https://" + DefaultPeerHost,
		Timeout: 5 * time.Second,
	}

	cfg.Peer = PeerConfig{
		Host:      "0.0.0.0",
		Port:      8000,
		RateLimit: 0,
	}

	cfg.Bus = BusConfig{
		Type:         "memory",
		KafkaGroup:   "face-remote",
		TopicPrefix:  "face.",
		EventLogPath: "./data/events.jsonl",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: false,
		MetricsAddr:    "127.0.0.1:9464",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Channel validation
	if u, err := url.Parse(c.Channel.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid channel url: %q (must be ws:// or wss://)", c.Channel.URL))
	}

	if c.Channel.HeartbeatInterval <= 0 {
		errs = append(errs, "heartbeat_interval must be positive")
	}

	if c.Channel.LivenessTimeout < c.Channel.HeartbeatInterval {
		errs = append(errs, "liveness_timeout must be at least heartbeat_interval")
	}

	if c.Channel.BackoffBase <= 0 {
		errs = append(errs, "backoff_base must be positive")
	}

	if c.Channel.BackoffMax < c.Channel.BackoffBase {
		errs = append(errs, "backoff_max must be at least backoff_base")
	}

	if c.Channel.BackoffJitter < 0 || c.Channel.BackoffJitter > 1 {
		errs = append(errs, "backoff_jitter must be between 0 and 1")
	}

	if c.Channel.QueueCapacity < 1 {
		errs = append(errs, "queue_capacity must be positive")
	}

	if c.Channel.DialTimeout <= 0 || c.Channel.WriteTimeout <= 0 {
		errs = append(errs, "dial_timeout and write_timeout must be positive")
	}

	// One-shot validation
	if u, err := url.Parse(c.HTTP.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid http base_url: %q", c.HTTP.BaseURL))
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "http timeout must be positive")
	}

	// Peer validation
	if c.Peer.Port < 1 || c.Peer.Port > 65535 {
		errs = append(errs, "peer port must be between 1 and 65535")
	}

	if c.Peer.RateLimit < 0 {
		errs = append(errs, "peer rate_limit cannot be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true, "redis": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory, kafka, or redis)", c.Bus.Type))
	}

	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "kafka_brokers required for kafka bus")
	}

	if c.Bus.Type == "redis" && strings.TrimSpace(c.Bus.RedisURL) == "" {
		errs = append(errs, "redis_url required for redis bus")
	}

	if c.Bus.EventLogEnabled && c.Bus.EventLogPath == "" {
		errs = append(errs, "event_log_path required when event log is enabled")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Observability.MetricsEnabled && c.Observability.MetricsAddr == "" {
		errs = append(errs, "metrics_addr required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// PeerAddress returns the reference peer listen address.
func (c *Config) PeerAddress() string {
	return fmt.Sprintf("%s:%d", c.Peer.Host, c.Peer.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}

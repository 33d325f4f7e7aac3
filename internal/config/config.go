// Package config loads the daemon configuration from YAML or TOML, .env files
// and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/console"
	"github.com/srg/buttond/internal/store"
	"gopkg.in/yaml.v3"
)

// Environment overrides applied after the file is read.
const (
	EnvAppSecret  = "BUTTOND_APP_SECRET"
	EnvMQTTBroker = "BUTTOND_MQTT_BROKER"
	EnvLogLevel   = "BUTTOND_LOG_LEVEL"
)

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" toml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" toml:"log_format" default:"text"`
	AppSecret string `yaml:"app_secret" toml:"app_secret"`

	Radio    RadioConfig    `yaml:"radio" toml:"radio"`
	Registry RegistryConfig `yaml:"registry" toml:"registry"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Grab     GrabConfig     `yaml:"grab" toml:"grab"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Lua      LuaConfig      `yaml:"lua" toml:"lua"`
	Feed     FeedConfig     `yaml:"feed" toml:"feed"`
	Console  ConsoleConfig  `yaml:"console" toml:"console"`
}

type RadioConfig struct {
	Adapter               string        `yaml:"adapter" toml:"adapter" default:"hci0"`
	MaxConcurrentAttempts int           `yaml:"max_concurrent_attempts" toml:"max_concurrent_attempts" default:"1"`
	RetryInterval         time.Duration `yaml:"retry_interval" toml:"retry_interval" default:"2s"`
	ReplaySettle          time.Duration `yaml:"replay_settle" toml:"replay_settle" default:"2s"`
	AuthTimeout           time.Duration `yaml:"auth_timeout" toml:"auth_timeout" default:"10s"`
	ScanTimeout           time.Duration `yaml:"scan_timeout" toml:"scan_timeout" default:"10s"`
}

type RegistryConfig struct {
	ForgetTimeout time.Duration `yaml:"forget_timeout" toml:"forget_timeout" default:"5s"`
}

type StoreConfig struct {
	Kind string `yaml:"kind" toml:"kind" default:"file"`
	Path string `yaml:"path" toml:"path" default:"buttons.yaml"`
}

type GrabConfig struct {
	Inbox           string `yaml:"inbox" toml:"inbox" default:"grab"`
	Companion       string `yaml:"companion" toml:"companion" default:"flic"`
	CallbackScheme  string `yaml:"callback_scheme" toml:"callback_scheme" default:"buttond"`
	TriggerBehavior string `yaml:"trigger_behavior" toml:"trigger_behavior" default:"click_and_hold"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" toml:"broker"`
	ClientID string `yaml:"client_id" toml:"client_id" default:"buttond"`
	Prefix   string `yaml:"prefix" toml:"prefix" default:"buttond"`
	QoS      int    `yaml:"qos" toml:"qos" default:"1"`
}

type LuaConfig struct {
	Script string `yaml:"script" toml:"script"`
}

type FeedConfig struct {
	Listen       string `yaml:"listen" toml:"listen"`
	ClientBuffer int    `yaml:"client_buffer" toml:"client_buffer" default:"64"`
}

type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" default:"true"`
	Color   string `yaml:"color" toml:"color" default:"auto"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads path (which may not exist), then dotenv, then applies environment
// overrides and validates the result. An empty path yields defaults.
func Load(path, dotenv string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if dotenv != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("parse TOML config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return nil
}

// ApplyEnvOverrides copies non-empty override variables into c.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv(EnvAppSecret); v != "" {
		c.AppSecret = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat)
	}

	switch c.Store.Kind {
	case store.KindFile, store.KindSQLite:
	default:
		return fmt.Errorf("store.kind: unknown store kind %q", c.Store.Kind)
	}
	if c.Store.Path == "" {
		return errors.New("store.path: must not be empty")
	}

	durations := map[string]time.Duration{
		"radio.retry_interval":    c.Radio.RetryInterval,
		"radio.replay_settle":     c.Radio.ReplaySettle,
		"radio.auth_timeout":      c.Radio.AuthTimeout,
		"radio.scan_timeout":      c.Radio.ScanTimeout,
		"registry.forget_timeout": c.Registry.ForgetTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
	}
	if c.Radio.MaxConcurrentAttempts <= 0 {
		return fmt.Errorf("radio.max_concurrent_attempts: must be positive, got %d", c.Radio.MaxConcurrentAttempts)
	}

	if _, err := button.ParseTriggerBehavior(c.Grab.TriggerBehavior); err != nil {
		return fmt.Errorf("grab.trigger_behavior: %w", err)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos: must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Feed.ClientBuffer <= 0 {
		return fmt.Errorf("feed.client_buffer: must be positive, got %d", c.Feed.ClientBuffer)
	}
	switch console.ColorMode(c.Console.Color) {
	case console.ColorAuto, console.ColorAlways, console.ColorNever:
	default:
		return fmt.Errorf("console.color: unknown mode %q", c.Console.Color)
	}
	return nil
}

// TriggerBehavior returns the parsed default trigger behavior for grabbed buttons.
func (c *Config) TriggerBehavior() button.TriggerBehavior {
	tb, err := button.ParseTriggerBehavior(c.Grab.TriggerBehavior)
	if err != nil {
		return button.ClickAndHold
	}
	return tb
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

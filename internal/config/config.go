package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/uart-link/internal/port"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config represents the complete uart-link configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Serial   SerialConfig   `yaml:"serial"`
	Progress ProgressConfig `yaml:"progress"`
	Registry RegistryConfig `yaml:"registry"`
	Log      LogConfig      `yaml:"log"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Port             string `yaml:"port"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`
}

// SerialConfig contains link defaults and port discovery settings
type SerialConfig struct {
	Defaults          port.LinkConfig `yaml:"defaults"`            // applied to connect requests that leave fields empty
	Simulate          bool            `yaml:"simulate"`            // offer a virtual FPGA instead of real hardware
	MonitorIntervalMS int             `yaml:"monitor_interval_ms"` // hot-plug scan period
}

// ProgressConfig contains transmission tracking settings
type ProgressConfig struct {
	PollIntervalMS  int `yaml:"poll_interval_ms"`
	WatchdogMS      int `yaml:"watchdog_ms"`
	MaxPollFailures int `yaml:"max_poll_failures"`
}

// RegistryConfig contains port profile storage settings
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables publishing.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"` // prefix; events go to {topic}/{session_state|progress|port}
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             "12212",
			ShutdownTimeoutS: 5,
		},
		Serial: SerialConfig{
			Defaults: port.LinkConfig{
				BaudRate: port.DefaultBaudRate,
				DataBits: port.DefaultDataBits,
				StopBits: port.DefaultStopBits,
				Parity:   port.ParityNone,
			},
			MonitorIntervalMS: 2000,
		},
		Progress: ProgressConfig{
			PollIntervalMS:  50,
			WatchdogMS:      10000,
			MaxPollFailures: 5,
		},
		Registry: RegistryConfig{
			Path: "uart-link-registry.json",
		},
		Log: LogConfig{
			Level: "info",
		},
		MQTT: MQTTConfig{
			ClientID: "uart-link",
			Topic:    "uart-link",
		},
	}
}

// Load reads a YAML configuration file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from the environment. getenv is os.Getenv outside tests.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("SERVER_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := getenv("UARTLINK_SIMULATE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UARTLINK_SIMULATE: %w", err)
		}
		cfg.Serial.Simulate = on
	}
	if v := getenv("UARTLINK_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := getenv("UARTLINK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return Validate(cfg)
}

// Validate checks a configuration for values the service cannot run with
func Validate(cfg *Config) error {
	p, err := strconv.Atoi(cfg.Server.Port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %q", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeoutS < 0 {
		return fmt.Errorf("server.shutdown_timeout_s must not be negative")
	}

	// the default link has no device; validate everything else
	link := cfg.Serial.Defaults.WithDefaults()
	link.Port = "defaults"
	if err := link.Validate(); err != nil {
		return fmt.Errorf("serial.defaults: %w", err)
	}
	if cfg.Serial.MonitorIntervalMS <= 0 {
		return fmt.Errorf("serial.monitor_interval_ms must be positive")
	}

	if cfg.Progress.PollIntervalMS <= 0 {
		return fmt.Errorf("progress.poll_interval_ms must be positive")
	}
	if cfg.Progress.WatchdogMS <= cfg.Progress.PollIntervalMS {
		return fmt.Errorf("progress.watchdog_ms (%d) must exceed poll_interval_ms (%d)",
			cfg.Progress.WatchdogMS, cfg.Progress.PollIntervalMS)
	}
	if cfg.Progress.MaxPollFailures < 0 {
		return fmt.Errorf("progress.max_poll_failures must not be negative")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if cfg.MQTT.Broker != "" && strings.TrimSpace(cfg.MQTT.Topic) == "" {
		return fmt.Errorf("mqtt.topic is required when a broker is set")
	}

	return nil
}

// PollInterval returns the progress poll period
func (p ProgressConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalMS) * time.Millisecond
}

// Watchdog returns the progress stall window
func (p ProgressConfig) Watchdog() time.Duration {
	return time.Duration(p.WatchdogMS) * time.Millisecond
}

// MonitorInterval returns the hot-plug scan period
func (s SerialConfig) MonitorInterval() time.Duration {
	return time.Duration(s.MonitorIntervalMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutS) * time.Second
}

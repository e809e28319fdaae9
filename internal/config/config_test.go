package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thereceipt/uart-link/internal/port"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uart-link.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func env(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	require.Equal(t, 50*time.Millisecond, cfg.Progress.PollInterval())
	require.Equal(t, 10*time.Second, cfg.Progress.Watchdog())
	require.Equal(t, 5, cfg.Progress.MaxPollFailures)
	require.Equal(t, 115200, cfg.Serial.Defaults.BaudRate)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "8080"
serial:
  defaults:
    baudrate: 921600
    parity: Even
  simulate: true
progress:
  watchdog_ms: 3000
mqtt:
  broker: localhost:1883
  qos: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, 921600, cfg.Serial.Defaults.BaudRate)
	require.Equal(t, port.ParityEven, cfg.Serial.Defaults.Parity)
	require.Equal(t, 8, cfg.Serial.Defaults.DataBits)
	require.True(t, cfg.Serial.Simulate)
	require.Equal(t, 3*time.Second, cfg.Progress.Watchdog())
	require.Equal(t, 50*time.Millisecond, cfg.Progress.PollInterval())
	require.Equal(t, "localhost:1883", cfg.MQTT.Broker)
	require.Equal(t, "uart-link", cfg.MQTT.Topic)
	require.Equal(t, byte(1), cfg.MQTT.QoS)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "server: [unclosed"))
	require.ErrorContains(t, err, "failed to parse config")

	_, err = Load(writeConfig(t, "progress:\n  watchdog_ms: 10\n"))
	require.ErrorContains(t, err, "invalid configuration")
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"port":          func(c *Config) { c.Server.Port = "http" },
		"stop bits":     func(c *Config) { c.Serial.Defaults.StopBits = 3 },
		"parity":        func(c *Config) { c.Serial.Defaults.Parity = "Mark" },
		"poll interval": func(c *Config) { c.Progress.PollIntervalMS = 0 },
		"failures":      func(c *Config) { c.Progress.MaxPollFailures = -1 },
		"log level":     func(c *Config) { c.Log.Level = "loud" },
		"qos":           func(c *Config) { c.MQTT.QoS = 3 },
		"topic":         func(c *Config) { c.MQTT.Broker = "localhost:1883"; c.MQTT.Topic = " " },
		"monitor":       func(c *Config) { c.Serial.MonitorIntervalMS = 0 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			require.Error(t, Validate(cfg))
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := ApplyEnv(cfg, env(map[string]string{
		"SERVER_PORT":          "9000",
		"UARTLINK_SIMULATE":    "true",
		"UARTLINK_MQTT_BROKER": "broker.lab:1883",
		"UARTLINK_LOG_LEVEL":   "debug",
	}))
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.Server.Port)
	require.True(t, cfg.Serial.Simulate)
	require.Equal(t, "broker.lab:1883", cfg.MQTT.Broker)
	require.Equal(t, "debug", cfg.Log.Level)

	require.Error(t, ApplyEnv(Default(), env(map[string]string{"UARTLINK_SIMULATE": "maybe"})))
	require.Error(t, ApplyEnv(Default(), env(map[string]string{"SERVER_PORT": "99999"})))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = NewLogger(LogConfig{Level: "nope"})
	require.Error(t, err)
}

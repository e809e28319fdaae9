package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/thereceipt/uart-link/internal/api"
	"github.com/thereceipt/uart-link/internal/command"
	"github.com/thereceipt/uart-link/internal/config"
	"github.com/thereceipt/uart-link/internal/emitter"
	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/progress"
	"github.com/thereceipt/uart-link/internal/registry"
	"github.com/thereceipt/uart-link/internal/session"
	"go.uber.org/zap"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("uart-link starting",
		zap.String("version", Version),
		zap.Bool("simulate", cfg.Serial.Simulate))

	// Port manager
	opts := []port.Option{port.WithLogger(logger)}
	if cfg.Serial.Simulate {
		opts = append(opts, port.WithSimulation())
	}
	manager := port.NewManager(opts...)
	defer manager.Disconnect()

	if ports, err := manager.ListPorts(); err != nil {
		logger.Warn("port detection failed", zap.Error(err))
	} else {
		logger.Info("ports detected", zap.Int("count", len(ports)))
	}

	reg, err := registry.New(registryPath(cfg.Registry.Path), logger)
	if err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}

	sv := session.NewSupervisor(manager, logger, session.WithTrackerOptions(
		progress.WithPollInterval(cfg.Progress.PollInterval()),
		progress.WithWatchdog(cfg.Progress.Watchdog()),
		progress.WithMaxPollFailures(cfg.Progress.MaxPollFailures),
	))

	executor := command.NewExecutor(manager, sv, reg, cfg.Serial.Defaults, logger)
	server := api.NewServer(manager, sv, reg, executor, cfg.Serial.Defaults, logger)
	defer server.Close()

	// Event publishing
	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter = emitter.NewMQTTEmitter(cfg.MQTT, logger)
		if err := mqttEmitter.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, events will not be published", zap.Error(err))
			mqttEmitter = nil
		} else {
			go mqttEmitter.Run(ctx)
			defer mqttEmitter.Disconnect()
			unsubscribe := sv.Subscribe(mqttEmitter.HandleEvent)
			defer unsubscribe()
		}
	}

	// Hot-plug monitor
	monitor := port.NewMonitor(manager, cfg.Serial.MonitorInterval())
	monitor.OnPortAdded(func(p port.PortInfo) {
		reg.ProfileID(p)
		server.Hub().BroadcastPortAdded(p)
		if mqttEmitter != nil {
			mqttEmitter.HandlePort("added", p)
		}
	})
	monitor.OnPortRemoved(func(p port.PortInfo) {
		server.Hub().BroadcastPortRemoved(p)
		if mqttEmitter != nil {
			mqttEmitter.HandlePort("removed", p)
		}
	})
	monitor.Start()
	defer monitor.Stop()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting API server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := sv.Disconnect(shutdownCtx); err != nil {
		logger.Warn("session disconnect failed", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// loadConfig reads --config (or UARTLINK_CONFIG) over the defaults, then applies
// environment overrides and --port
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if path := argValue("--config", os.Getenv("UARTLINK_CONFIG")); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := config.ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}

	if p := argValue("--port", ""); p != "" {
		cfg.Server.Port = p
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	if argPresent("--simulate") {
		cfg.Serial.Simulate = true
	}

	return cfg, nil
}

func argValue(name, fallback string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return fallback
}

func argPresent(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

// registryPath resolves a relative registry path next to the executable when that
// directory is writable, falling back to the working directory and then the user
// config directory
func registryPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		testFile := filepath.Join(exeDir, ".uart-link-write-test")
		if f, err := os.Create(testFile); err == nil {
			f.Close()
			os.Remove(testFile)
			return filepath.Join(exeDir, name)
		}
	}

	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, name)
	}

	var configDir string
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			configDir = filepath.Join(appData, "uart-link")
		}
	} else if home := os.Getenv("HOME"); home != "" {
		configDir = filepath.Join(home, ".config", "uart-link")
	}

	if configDir != "" {
		os.MkdirAll(configDir, 0755)
		return filepath.Join(configDir, name)
	}

	return name
}

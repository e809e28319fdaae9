package port

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor continuously watches for ports appearing and disappearing
type Monitor struct {
	manager  *Manager
	interval time.Duration
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.RWMutex
	onAdded   func(PortInfo)
	onRemoved func(PortInfo)
}

// NewMonitor creates a new port monitor
func NewMonitor(manager *Manager, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		manager:  manager,
		interval: interval,
		logger:   manager.logger.Named("monitor"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnPortAdded sets a callback for when a port appears
func (m *Monitor) OnPortAdded(callback func(PortInfo)) {
	m.mu.Lock()
	m.onAdded = callback
	m.mu.Unlock()
}

// OnPortRemoved sets a callback for when a port disappears
func (m *Monitor) OnPortRemoved(callback func(PortInfo)) {
	m.mu.Lock()
	m.onRemoved = callback
	m.mu.Unlock()
}

// Start takes a baseline snapshot and begins watching
func (m *Monitor) Start() {
	previous := make(map[string]PortInfo)
	if ports, err := m.manager.ListPorts(); err == nil {
		for _, p := range ports {
			previous[p.Device] = p
		}
	}

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.checkChanges(previous)
			}
		}
	}()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.cancel()
}

func (m *Monitor) checkChanges(previous map[string]PortInfo) {
	ports, err := m.manager.ListPorts()
	if err != nil {
		m.logger.Warn("port detection failed", zap.Error(err))
		return
	}

	current := make(map[string]PortInfo, len(ports))
	for _, p := range ports {
		current[p.Device] = p
	}

	m.mu.RLock()
	onAdded, onRemoved := m.onAdded, m.onRemoved
	m.mu.RUnlock()

	for device, p := range current {
		if _, exists := previous[device]; !exists {
			m.logger.Info("port added", zap.String("device", device), zap.String("description", p.Description))
			if onAdded != nil {
				onAdded(p)
			}
		}
	}

	for device, p := range previous {
		if _, exists := current[device]; !exists {
			m.logger.Info("port removed", zap.String("device", device))
			if onRemoved != nil {
				onRemoved(p)
			}
		}
	}

	clear(previous)
	for device, p := range current {
		previous[device] = p
	}
}

// Package port owns the physical link to the FPGA: port discovery, opening and closing
// connections, streaming frame batches at a fixed interval and keeping the
// append-only transmission log that progress tracking reads.
package port

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrConnection      = errors.New("connection error")
	ErrNotConnected    = errors.New("port not connected")
	ErrTransmission    = errors.New("transmission error")
	ErrNotTransmitting = errors.New("no transmission in progress")
	ErrPoll            = errors.New("poll error")
	ErrPortClosed      = errors.New("port closed")
)

// SimulatedDevice is the port name offered when the manager runs without hardware
const SimulatedDevice = "sim://fpga"

// Status is a point-in-time view of the manager
type Status struct {
	Connected    bool        `json:"connected"`
	Link         *LinkConfig `json:"link,omitempty"`
	Transmitting bool        `json:"transmitting"`
	Paused       bool        `json:"paused"`
	LogLength    int         `json:"log_length"`
}

// Manager handles the single active link and its transmissions
type Manager struct {
	opener    Opener
	lister    func() ([]PortInfo, error)
	simulated bool
	logger    *zap.Logger

	mu   sync.Mutex
	conn Conn
	link LinkConfig
	tx   *transmission
	log  TransmissionLog
}

// Option configures a Manager
type Option func(*Manager)

// WithOpener replaces the connection opener
func WithOpener(opener Opener) Option {
	return func(m *Manager) { m.opener = opener }
}

// WithLister replaces port discovery
func WithLister(lister func() ([]PortInfo, error)) Option {
	return func(m *Manager) { m.lister = lister }
}

// WithSimulation makes every connection a SimulatedConn
func WithSimulation() Option {
	return func(m *Manager) {
		m.opener = OpenSimulated
		m.simulated = true
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a new port manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		opener: OpenLink,
		lister: DetectPorts,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("port")

	return m
}

// ListPorts returns the available ports
func (m *Manager) ListPorts() ([]PortInfo, error) {
	ports, err := m.lister()
	if err != nil {
		return nil, err
	}

	if m.simulated {
		ports = append([]PortInfo{{
			Device:      SimulatedDevice,
			Description: "Simulated FPGA",
			Type:        "simulated",
		}}, ports...)
	}

	m.logger.Debug("ports detected", zap.Int("count", len(ports)))
	return ports, nil
}

// Connect opens a link, closing any existing one first
func (m *Manager) Connect(ctx context.Context, cfg LinkConfig) error {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()

	conn, err := m.opener(cfg)
	if err != nil {
		m.logger.Error("connect failed", zap.String("port", cfg.Port), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	m.conn = conn
	m.link = cfg
	m.logger.Info("connected", zap.String("link", cfg.String()))

	return nil
}

// Disconnect stops any transmission and closes the link
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return nil
	}
	m.closeLocked()
	m.logger.Info("disconnected", zap.String("port", m.link.Port))

	return nil
}

func (m *Manager) closeLocked() {
	if m.tx != nil {
		m.tx.cancel()
		<-m.tx.done
		m.tx = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("close failed", zap.Error(err))
		}
		m.conn = nil
	}
}

// Status reports the link and transmission state
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Connected: m.conn != nil,
		LogLength: m.log.Len(),
	}
	if m.conn != nil {
		link := m.link
		st.Link = &link
	}
	if m.tx != nil && m.tx.running() {
		st.Transmitting = true
		st.Paused = m.tx.gate.isPaused()
	}

	return st
}

// StartTransmission accepts a batch of frames and streams it in the background.
// The transmission log is cleared first.
func (m *Manager) StartTransmission(ctx context.Context, frames [][]byte, interval time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransmission, err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames to transmit", ErrTransmission)
	}
	if interval < 0 {
		return fmt.Errorf("%w: negative interval %s", ErrTransmission, interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return fmt.Errorf("%w: %w", ErrTransmission, ErrNotConnected)
	}
	if m.tx != nil && m.tx.running() {
		return fmt.Errorf("%w: transmission already in progress", ErrTransmission)
	}

	batch := make([][]byte, len(frames))
	for i, f := range frames {
		batch[i] = append([]byte(nil), f...)
	}

	m.log.Reset()
	m.tx = newTransmission(m.conn, batch, interval, &m.log, m.logger)
	go m.tx.run()

	m.logger.Info("transmission started",
		zap.Int("frames", len(batch)), zap.Duration("interval", interval))

	return nil
}

func (m *Manager) activeTransmission() (*transmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tx == nil || !m.tx.running() {
		return nil, ErrNotTransmitting
	}
	return m.tx, nil
}

// PauseTransmission holds the worker before its next frame
func (m *Manager) PauseTransmission() error {
	tx, err := m.activeTransmission()
	if err != nil {
		return err
	}
	tx.gate.pause()
	m.logger.Info("transmission paused")
	return nil
}

// ResumeTransmission releases a paused worker
func (m *Manager) ResumeTransmission() error {
	tx, err := m.activeTransmission()
	if err != nil {
		return err
	}
	tx.gate.unpause()
	m.logger.Info("transmission resumed")
	return nil
}

// StopTransmission cancels the worker and waits for it to exit.
// Stopping when nothing is running is an immediate ack.
func (m *Manager) StopTransmission(ctx context.Context) error {
	m.mu.Lock()
	tx := m.tx
	m.mu.Unlock()

	if tx == nil {
		return nil
	}
	return tx.stop(ctx)
}

// PollLog returns the log suffix starting at since
func (m *Manager) PollLog(ctx context.Context, since int) (LogPage, error) {
	if err := ctx.Err(); err != nil {
		return LogPage{}, fmt.Errorf("%w: %w", ErrPoll, err)
	}
	if since < 0 {
		return LogPage{}, fmt.Errorf("%w: negative index %d", ErrPoll, since)
	}
	return m.log.Since(since), nil
}

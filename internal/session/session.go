// Package session drives a single image transmission to the FPGA: connect, confirm,
// stream, pause, stop and completion, as an explicit state machine.
//
// Every request that can finish asynchronously (a connect, a start or stop ack, a
// progress update, the tracker's final outcome) is tagged with the generation it was
// issued under. The generation is bumped on every user action and terminal transition,
// and a completion whose generation is no longer current is dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/internal/progress"
	"github.com/thereceipt/uart-link/pkg/uartframe"
	"go.uber.org/zap"
)

var (
	ErrNotConnected          = errors.New("not connected")
	ErrInvalidTransition     = errors.New("invalid state transition")
	ErrInvalidRequest        = errors.New("invalid transmission request")
	ErrNoPendingTransmission = errors.New("no transmission awaiting confirmation")
	ErrConnection            = errors.New("connection failed")
	ErrTransmission          = errors.New("transmission failed")
	ErrTimeout               = errors.New("transmission timed out")
	ErrFrameFailures         = errors.New("frames failed to transmit")
	ErrSessionFailed         = errors.New("session failed")
	ErrStale                 = errors.New("superseded by a newer request")
)

// PortManager is the link the session drives
type PortManager interface {
	Connect(ctx context.Context, cfg port.LinkConfig) error
	Disconnect() error
	StartTransmission(ctx context.Context, frames [][]byte, interval time.Duration) error
	PauseTransmission() error
	ResumeTransmission() error
	StopTransmission(ctx context.Context) error
	PollLog(ctx context.Context, since int) (port.LogPage, error)
}

var generation atomic.Uint64

func nextGeneration() uint64 {
	return generation.Add(1)
}

// EventKind distinguishes state changes from progress updates
type EventKind int

const (
	EventState EventKind = iota
	EventProgress
)

func (k EventKind) String() string {
	if k == EventProgress {
		return "progress"
	}
	return "session_state"
}

// Event is delivered to subscribers in the order the session produced it
type Event struct {
	Kind     EventKind
	Snapshot Snapshot
}

// Snapshot is a copy of the session's observable state
type Snapshot struct {
	ID         string             `json:"id"`
	Generation uint64             `json:"generation"`
	State      State              `json:"state"`
	Err        error              `json:"-"`
	Reason     string             `json:"error,omitempty"`
	Link       *port.LinkConfig   `json:"link,omitempty"`
	Frames     int                `json:"total_frames,omitempty"`
	Interval   time.Duration      `json:"-"`
	IntervalMS int64              `json:"interval_ms,omitempty"`
	Progress   *progress.Progress `json:"progress,omitempty"`
}

type request struct {
	frames   [][]byte
	interval time.Duration
}

type subscriber struct {
	id int
	fn func(Event)
}

// Session is one connect-to-terminal lifecycle
type Session struct {
	id          string
	pm          PortManager
	logger      *zap.Logger
	trackerOpts []progress.Option

	mu         sync.Mutex
	state      State
	err        error
	gen        uint64
	link       *port.LinkConfig
	pending    *request
	current    *request
	tracker    *progress.Tracker
	cancelPoll context.CancelFunc
	subs       []subscriber
	nextSub    int
	queue      []Event

	dispatchMu sync.Mutex
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithTrackerOptions configures the progress tracker created for each transmission
func WithTrackerOptions(opts ...progress.Option) Option {
	return func(s *Session) { s.trackerOpts = append(s.trackerOpts, opts...) }
}

// New creates an idle session
func New(pm PortManager, opts ...Option) *Session {
	s := &Session{
		id:     uuid.NewString(),
		pm:     pm,
		logger: zap.NewNop(),
		gen:    nextGeneration(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("session").With(zap.String("session", s.id))

	return s
}

// ID returns the session's unique id
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current observable state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every subsequent event and returns its unsubscribe func.
// Handlers run one at a time on whichever goroutine produced the event; they may read
// the session but must not call methods that change it.
func (s *Session) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect opens the link. Only valid from Idle.
func (s *Session) Connect(ctx context.Context, cfg port.LinkConfig) error {
	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidTransition, st)
	}
	gen := s.bumpLocked()
	s.setLocked(Connecting, nil)
	s.unlockAndFlush()

	cfg = cfg.WithDefaults()
	err := s.pm.Connect(ctx, cfg)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info("discarding stale connect result", zap.Uint64("generation", gen), zap.Error(err))
		return ErrStale
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConnection, err)
		s.bumpLocked()
		s.setLocked(Error, err)
		s.unlockAndFlush()
		s.logger.Error("connect failed", zap.String("port", cfg.Port), zap.Error(err))
		return err
	}
	s.link = &cfg
	s.setLocked(Connected, nil)
	s.unlockAndFlush()

	s.logger.Info("connected", zap.String("link", cfg.String()))
	return nil
}

// Prepare stages a frame sequence for transmission and waits for Confirm
func (s *Session) Prepare(seq uartframe.Sequence, interval time.Duration) error {
	if err := s.checkPrepare(seq, interval); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Connected {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: prepare while %s", ErrInvalidTransition, st)
	}
	s.pending = &request{frames: seq.Raw(), interval: interval}
	s.setLocked(PendingConfirmation, nil)
	s.unlockAndFlush()

	return nil
}

func (s *Session) checkPrepare(seq uartframe.Sequence, interval time.Duration) error {
	switch st := s.State(); st {
	case Connected:
	case Idle, Connecting:
		return ErrNotConnected
	default:
		return fmt.Errorf("%w: prepare while %s", ErrInvalidTransition, st)
	}

	if _, err := seq.Meta(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %s", ErrInvalidRequest, interval)
	}
	return nil
}

// Cancel discards a prepared transmission
func (s *Session) Cancel() error {
	s.mu.Lock()
	if s.state != PendingConfirmation || s.pending == nil {
		st := s.state
		s.mu.Unlock()
		if st == Connected || st == PendingConfirmation {
			return ErrNoPendingTransmission
		}
		return fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, st)
	}
	s.pending = nil
	s.setLocked(Connected, nil)
	s.unlockAndFlush()

	return nil
}

// Confirm hands the prepared frames to the PortManager and starts tracking progress
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.state != PendingConfirmation || s.pending == nil {
		st := s.state
		s.mu.Unlock()
		if st == Connected || st == PendingConfirmation {
			return ErrNoPendingTransmission
		}
		return fmt.Errorf("%w: confirm while %s", ErrInvalidTransition, st)
	}
	req := s.pending
	s.pending = nil
	gen := s.bumpLocked()
	s.mu.Unlock()

	err := s.pm.StartTransmission(ctx, req.frames, req.interval)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info("discarding stale start ack", zap.Uint64("generation", gen), zap.Error(err))
		return ErrStale
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTransmission, err)
		s.bumpLocked()
		s.setLocked(Error, err)
		s.unlockAndFlush()
		s.logger.Error("start rejected", zap.Error(err))
		return err
	}
	s.current = req
	s.tracker = progress.New(len(req.frames), s.trackerOpts...)
	s.setLocked(Transmitting, nil)
	s.startPollLocked(gen)
	s.unlockAndFlush()

	s.logger.Info("transmission started",
		zap.Int("frames", len(req.frames)), zap.Duration("interval", req.interval))
	return nil
}

// Start is Prepare followed by Confirm
func (s *Session) Start(ctx context.Context, seq uartframe.Sequence, interval time.Duration) error {
	if err := s.Prepare(seq, interval); err != nil {
		return err
	}
	return s.Confirm(ctx)
}

// Pause holds the PortManager between frames. Progress polling stops until Resume.
func (s *Session) Pause() error {
	s.mu.Lock()
	if s.state != Transmitting {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, st)
	}
	gen := s.gen
	s.mu.Unlock()

	// a worker that already finished is fine; the next Resume polls the rest of the log
	if err := s.pm.PauseTransmission(); err != nil && !errors.Is(err, port.ErrNotTransmitting) {
		return fmt.Errorf("%w: %w", ErrTransmission, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Transmitting {
		s.mu.Unlock()
		return ErrStale
	}
	s.stopPollLocked()
	s.bumpLocked()
	s.setLocked(Paused, nil)
	s.unlockAndFlush()

	s.logger.Info("transmission paused")
	return nil
}

// Resume releases a paused transmission and restarts progress polling
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.state != Paused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, st)
	}
	gen := s.gen
	s.mu.Unlock()

	if err := s.pm.ResumeTransmission(); err != nil && !errors.Is(err, port.ErrNotTransmitting) {
		return fmt.Errorf("%w: %w", ErrTransmission, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Paused {
		s.mu.Unlock()
		return ErrStale
	}
	gen = s.bumpLocked()
	s.setLocked(Transmitting, nil)
	s.startPollLocked(gen)
	s.unlockAndFlush()

	s.logger.Info("transmission resumed")
	return nil
}

// Stop asks the PortManager to stop and waits for its ack
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Transmitting && s.state != Paused {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: stop while %s", ErrInvalidTransition, st)
	}
	s.stopPollLocked()
	gen := s.bumpLocked()
	s.setLocked(Stopping, nil)
	s.unlockAndFlush()

	err := s.pm.StopTransmission(ctx)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.logger.Info("discarding stale stop ack", zap.Uint64("generation", gen))
		return ErrStale
	}
	s.bumpLocked()
	if err != nil {
		err = fmt.Errorf("%w: stop not acknowledged: %w", ErrTransmission, err)
		s.setLocked(Error, err)
		s.unlockAndFlush()
		s.logger.Error("stop failed", zap.Error(err))
		return err
	}
	s.setLocked(Stopped, nil)
	s.unlockAndFlush()

	s.logger.Info("transmission stopped")
	return nil
}

// Disconnect returns the session to Idle from any state and closes the link.
// Errors from the PortManager are logged and returned but do not change the state.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	wasActive := s.state.Active()
	s.stopPollLocked()
	s.pending = nil
	s.link = nil
	s.bumpLocked()
	if s.state != Idle {
		s.setLocked(Idle, nil)
	}
	s.unlockAndFlush()

	if wasActive {
		if err := s.pm.StopTransmission(ctx); err != nil {
			s.logger.Warn("stop before disconnect failed", zap.Error(err))
		}
	}
	if err := s.pm.Disconnect(); err != nil {
		s.logger.Warn("disconnect failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}

	s.logger.Info("disconnected")
	return nil
}

func (s *Session) startPollLocked(gen uint64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	tracker := s.tracker

	go func() {
		out := tracker.Run(ctx, s.pm.PollLog, func(progress.Progress) { s.progressed(gen) })
		s.finish(gen, out)
	}()
}

func (s *Session) stopPollLocked() {
	if s.cancelPoll != nil {
		s.cancelPoll()
		s.cancelPoll = nil
	}
}

func (s *Session) progressed(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.emitLocked(EventProgress)
	s.unlockAndFlush()
}

func (s *Session) finish(gen uint64, out progress.Outcome) {
	if out.Kind == progress.OutcomeCanceled {
		return
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Transmitting {
		s.mu.Unlock()
		return
	}
	s.stopPollLocked()
	s.bumpLocked()

	p := out.Progress
	switch {
	case out.Kind == progress.OutcomeWatchdog:
		s.setLocked(Error, fmt.Errorf("%w: %w", ErrTimeout, out.Err))
	case p.Errors > 0:
		s.setLocked(Error, fmt.Errorf("%w: %d of %d", ErrFrameFailures, p.Errors, p.Expected))
	default:
		s.setLocked(Completed, nil)
	}
	state, err := s.state, s.err
	s.unlockAndFlush()

	if err != nil {
		s.logger.Error("transmission ended", zap.Stringer("state", state), zap.Error(err),
			zap.Int("transmitted", p.Transmitted), zap.Int("errors", p.Errors))
		return
	}
	s.logger.Info("transmission completed", zap.Int("frames", p.Transmitted))
}

func (s *Session) bumpLocked() uint64 {
	s.gen = nextGeneration()
	return s.gen
}

func (s *Session) setLocked(state State, err error) {
	s.state = state
	s.err = err
	s.emitLocked(EventState)
}

func (s *Session) emitLocked(kind EventKind) {
	s.queue = append(s.queue, Event{Kind: kind, Snapshot: s.snapshotLocked()})
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:         s.id,
		Generation: s.gen,
		State:      s.state,
		Err:        s.err,
	}
	if s.err != nil {
		snap.Reason = s.err.Error()
	}
	if s.link != nil {
		link := *s.link
		snap.Link = &link
	}

	req := s.current
	if s.pending != nil {
		req = s.pending
	}
	if req != nil {
		snap.Frames = len(req.frames)
		snap.Interval = req.interval
		snap.IntervalMS = req.interval.Milliseconds()
	}
	if s.tracker != nil {
		p := s.tracker.Snapshot()
		snap.Progress = &p
	}

	return snap
}

func (s *Session) unlockAndFlush() {
	s.mu.Unlock()
	s.flush()
}

// flush delivers queued events in order. Whoever holds dispatchMu drains the queue,
// including events appended by other goroutines while it was delivering.
func (s *Session) flush() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		subs := append([]subscriber(nil), s.subs...)
		s.mu.Unlock()

		for _, sub := range subs {
			sub.fn(ev)
		}
	}
}

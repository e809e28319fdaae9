package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thereceipt/uart-link/internal/port"
	"github.com/thereceipt/uart-link/pkg/uartframe"
	"go.uber.org/zap"
)

// Supervisor owns the current session for the service layer. Every connect, and every
// transmission after a Completed or Stopped session, gets a fresh Session. Observers
// registered with Subscribe follow whichever session is current.
type Supervisor struct {
	pm     PortManager
	opts   []Option
	logger *zap.Logger

	// serializes operations that replace the current session
	opMu sync.Mutex

	mu        sync.Mutex
	current   *Session
	unbind    func()
	lastLink  *port.LinkConfig
	observers []subscriber
	nextObs   int
}

// NewSupervisor creates a supervisor with an idle session
func NewSupervisor(pm PortManager, logger *zap.Logger, opts ...Option) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	sv := &Supervisor{
		pm:     pm,
		opts:   append([]Option{WithLogger(logger)}, opts...),
		logger: logger.Named("supervisor"),
	}
	sv.mu.Lock()
	sv.bindLocked(New(pm, sv.opts...))
	sv.mu.Unlock()

	return sv
}

// Current returns the current session
func (sv *Supervisor) Current() *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.current
}

// Snapshot returns the current session's snapshot
func (sv *Supervisor) Snapshot() Snapshot {
	return sv.Current().Snapshot()
}

// LastLink returns the most recent successfully connected link, if any
func (sv *Supervisor) LastLink() (port.LinkConfig, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.lastLink == nil {
		return port.LinkConfig{}, false
	}
	return *sv.lastLink, true
}

// Subscribe registers fn for events of the current session and of every later one
func (sv *Supervisor) Subscribe(fn func(Event)) func() {
	sv.mu.Lock()
	id := sv.nextObs
	sv.nextObs++
	sv.observers = append(sv.observers, subscriber{id: id, fn: fn})
	sv.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sv.mu.Lock()
			defer sv.mu.Unlock()
			for i, o := range sv.observers {
				if o.id == id {
					sv.observers = append(sv.observers[:i:i], sv.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Connect retires the current session and connects a new one
func (sv *Supervisor) Connect(ctx context.Context, cfg port.LinkConfig) error {
	sv.opMu.Lock()
	defer sv.opMu.Unlock()

	old := sv.Current()
	if old.State() != Idle {
		if err := old.Disconnect(ctx); err != nil {
			sv.logger.Warn("retiring session failed", zap.String("session", old.ID()), zap.Error(err))
		}
	}

	sess := sv.replace()
	if err := sess.Connect(ctx, cfg); err != nil {
		return err
	}

	link := cfg.WithDefaults()
	sv.mu.Lock()
	sv.lastLink = &link
	sv.mu.Unlock()

	return nil
}

// Disconnect returns the current session to Idle
func (sv *Supervisor) Disconnect(ctx context.Context) error {
	sv.opMu.Lock()
	defer sv.opMu.Unlock()

	return sv.Current().Disconnect(ctx)
}

// Prepare stages frames on a session ready to transmit
func (sv *Supervisor) Prepare(ctx context.Context, seq uartframe.Sequence, interval time.Duration) error {
	sess, err := sv.ready(ctx)
	if err != nil {
		return err
	}
	return sess.Prepare(seq, interval)
}

// Start prepares and confirms in one step
func (sv *Supervisor) Start(ctx context.Context, seq uartframe.Sequence, interval time.Duration) error {
	sess, err := sv.ready(ctx)
	if err != nil {
		return err
	}
	return sess.Start(ctx, seq, interval)
}

// Confirm confirms the prepared transmission
func (sv *Supervisor) Confirm(ctx context.Context) error {
	return sv.Current().Confirm(ctx)
}

// Cancel drops the prepared transmission
func (sv *Supervisor) Cancel() error {
	return sv.Current().Cancel()
}

// Pause pauses the running transmission
func (sv *Supervisor) Pause() error {
	return sv.Current().Pause()
}

// Resume resumes a paused transmission
func (sv *Supervisor) Resume() error {
	return sv.Current().Resume()
}

// Stop stops the running transmission
func (sv *Supervisor) Stop(ctx context.Context) error {
	return sv.Current().Stop(ctx)
}

// ready returns a session that can accept a new transmission. A finished session is
// replaced by a new one connected with the last link; a failed one must be reconnected
// explicitly.
func (sv *Supervisor) ready(ctx context.Context) (*Session, error) {
	sv.opMu.Lock()
	defer sv.opMu.Unlock()

	sess := sv.Current()
	snap := sess.Snapshot()

	switch snap.State {
	case Error:
		return nil, fmt.Errorf("%w: %s (disconnect and connect again)", ErrSessionFailed, snap.Reason)
	case Completed, Stopped:
	default:
		return sess, nil
	}

	link, ok := sv.LastLink()
	if !ok {
		return nil, ErrNotConnected
	}

	fresh := sv.replace()
	sv.logger.Info("starting new session", zap.String("previous", sess.ID()), zap.String("session", fresh.ID()))
	if err := fresh.Connect(ctx, link); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (sv *Supervisor) replace() *Session {
	sess := New(sv.pm, sv.opts...)

	sv.mu.Lock()
	sv.bindLocked(sess)
	sv.mu.Unlock()

	return sess
}

func (sv *Supervisor) bindLocked(sess *Session) {
	if sv.unbind != nil {
		sv.unbind()
	}
	sv.current = sess
	sv.unbind = sess.Subscribe(func(ev Event) { sv.forward(sess, ev) })
}

func (sv *Supervisor) forward(from *Session, ev Event) {
	sv.mu.Lock()
	if sv.current != from {
		sv.mu.Unlock()
		return
	}
	observers := append([]subscriber(nil), sv.observers...)
	sv.mu.Unlock()

	for _, o := range observers {
		o.fn(ev)
	}
}

// Package progress follows a transmission by polling the PortManager's log and
// turning its suffixes into monotonic progress, with a watchdog for stalled links.
package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/thereceipt/uart-link/internal/port"
)

// Defaults match the operator UI: a 50 ms poll and a 10 s stall window.
const (
	DefaultPollInterval    = 50 * time.Millisecond
	DefaultWatchdog        = 10 * time.Second
	DefaultMaxPollFailures = 5
)

// ErrStalled means the log did not grow within the watchdog window
var ErrStalled = errors.New("no log growth within watchdog window")

// PollFunc fetches the log suffix starting at since
type PollFunc func(ctx context.Context, since int) (port.LogPage, error)

// Progress is a snapshot of a tracked transmission
type Progress struct {
	Transmitted int     `json:"transmitted"`
	Errors      int     `json:"errors"`
	Processed   int     `json:"processed"`
	Expected    int     `json:"expected"`
	Percentage  float64 `json:"percentage"`
	LogLength   int     `json:"log_length"`
}

// Done reports whether every expected frame has been accounted for
func (p Progress) Done() bool {
	return p.Processed >= p.Expected
}

// OutcomeKind says why Run returned
type OutcomeKind int

const (
	OutcomeCompleted OutcomeKind = iota
	OutcomeWatchdog
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCompleted:
		return "completed"
	case OutcomeWatchdog:
		return "watchdog"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the result of Run
type Outcome struct {
	Kind     OutcomeKind
	Progress Progress
	Err      error
}

// Tracker accumulates log entries for one transmission
type Tracker struct {
	expected        int
	pollInterval    time.Duration
	watchdog        time.Duration
	maxPollFailures int
	now             func() time.Time

	mu          sync.Mutex
	seen        int
	lastTotal   int
	transmitted int
	errors      int
}

// Option configures a Tracker
type Option func(*Tracker)

// WithPollInterval sets how often the log is polled
func WithPollInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

// WithWatchdog sets how long the log may stay still before Run gives up
func WithWatchdog(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.watchdog = d
		}
	}
}

// WithMaxPollFailures sets how many consecutive poll errors are tolerated
func WithMaxPollFailures(n int) Option {
	return func(t *Tracker) {
		if n >= 0 {
			t.maxPollFailures = n
		}
	}
}

// WithClock replaces the time source used by the watchdog
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a tracker expecting the given number of frames
func New(expected int, opts ...Option) *Tracker {
	t := &Tracker{
		expected:        max(expected, 0),
		pollInterval:    DefaultPollInterval,
		watchdog:        DefaultWatchdog,
		maxPollFailures: DefaultMaxPollFailures,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Seen returns how many log entries have been applied; it is the next poll index
func (t *Tracker) Seen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen
}

// Apply folds a log page into the counters and reports whether anything new was counted.
// Pages that report a shorter log than one already applied, or that start past the
// applied prefix, are discarded. Entries already counted are skipped.
func (t *Tracker) Apply(page port.LogPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if page.Total < t.lastTotal || page.Since < 0 || page.Since > t.seen {
		return false
	}

	skip := t.seen - page.Since
	if skip >= len(page.Entries) {
		return false
	}

	for _, e := range page.Entries[skip:] {
		if e.Status == port.StatusSuccess {
			t.transmitted++
		} else {
			t.errors++
		}
		t.seen++
	}
	t.lastTotal = max(page.Total, t.seen)

	return true
}

// Snapshot returns the current progress
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() Progress {
	processed := t.transmitted + t.errors

	pct := 100.0
	if t.expected > 0 {
		pct = min(100, float64(processed)*100/float64(t.expected))
	}

	return Progress{
		Transmitted: t.transmitted,
		Errors:      t.errors,
		Processed:   processed,
		Expected:    t.expected,
		Percentage:  pct,
		LogLength:   t.lastTotal,
	}
}

// Run polls until every frame is processed, the watchdog fires or ctx is canceled.
// onUpdate, if set, is called from the polling goroutine after each page that counted
// new entries. The watchdog window restarts at every call, so a paused transmission
// can be resumed with a fresh Run on the same Tracker.
func (t *Tracker) Run(ctx context.Context, poll PollFunc, onUpdate func(Progress)) Outcome {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	lastGrowth := t.now()
	failures := 0

	for {
		if p := t.Snapshot(); p.Done() {
			return Outcome{Kind: OutcomeCompleted, Progress: p}
		}

		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeCanceled, Progress: t.Snapshot(), Err: ctx.Err()}
		case <-ticker.C:
		}

		page, err := poll(ctx, t.Seen())
		switch {
		case err != nil && ctx.Err() != nil:
			return Outcome{Kind: OutcomeCanceled, Progress: t.Snapshot(), Err: ctx.Err()}
		case err != nil:
			failures++
			if failures > t.maxPollFailures {
				return Outcome{
					Kind:     OutcomeWatchdog,
					Progress: t.Snapshot(),
					Err:      fmt.Errorf("%w: %d consecutive failures: %w", port.ErrPoll, failures, err),
				}
			}
		default:
			failures = 0
			if t.Apply(page) {
				lastGrowth = t.now()
				if onUpdate != nil {
					onUpdate(t.Snapshot())
				}
				continue
			}
		}

		if t.now().Sub(lastGrowth) >= t.watchdog {
			return Outcome{Kind: OutcomeWatchdog, Progress: t.Snapshot(), Err: ErrStalled}
		}
	}
}

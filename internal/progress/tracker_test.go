package progress

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thereceipt/uart-link/internal/port"
)

func entries(statuses ...port.EntryStatus) []port.LogEntry {
	out := make([]port.LogEntry, len(statuses))
	for i, s := range statuses {
		out[i] = port.LogEntry{FrameNumber: i + 1, Status: s}
	}
	return out
}

func ok(n int) []port.LogEntry {
	s := make([]port.EntryStatus, n)
	for i := range s {
		s[i] = port.StatusSuccess
	}
	return entries(s...)
}

// fakeLog is an in-memory log the tests grow by hand
type fakeLog struct {
	mu      sync.Mutex
	entries []port.LogEntry
	fail    int
}

func (l *fakeLog) add(e ...port.LogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, e...)
	l.mu.Unlock()
}

func (l *fakeLog) poll(_ context.Context, since int) (port.LogPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fail > 0 {
		l.fail--
		return port.LogPage{}, errors.New("serial status endpoint unavailable")
	}
	page := port.LogPage{Since: since, Total: len(l.entries)}
	if since < len(l.entries) {
		page.Entries = append([]port.LogEntry(nil), l.entries[since:]...)
	}
	return page, nil
}

func TestApply_CountsAndPercentage(t *testing.T) {
	tr := New(4)

	require.True(t, tr.Apply(port.LogPage{Since: 0, Total: 2, Entries: entries(port.StatusSuccess, port.StatusFailure)}))

	p := tr.Snapshot()
	require.Equal(t, 1, p.Transmitted)
	require.Equal(t, 1, p.Errors)
	require.Equal(t, 2, p.Processed)
	require.Equal(t, 50.0, p.Percentage)
	require.False(t, p.Done())
	require.Equal(t, 2, tr.Seen())
}

func TestApply_StalePageDoesNotRegress(t *testing.T) {
	tr := New(10)
	require.True(t, tr.Apply(port.LogPage{Since: 0, Total: 6, Entries: ok(6)}))
	before := tr.Snapshot()

	// a slow response read before the log reached six entries
	require.False(t, tr.Apply(port.LogPage{Since: 0, Total: 3, Entries: ok(3)}))
	require.Equal(t, before, tr.Snapshot())
}

func TestApply_DuplicateIsNoop(t *testing.T) {
	tr := New(10)
	page := port.LogPage{Since: 0, Total: 3, Entries: ok(3)}

	require.True(t, tr.Apply(page))
	require.False(t, tr.Apply(page))
	require.Equal(t, 3, tr.Snapshot().Processed)
}

func TestApply_OverlapCountsOnlyNewEntries(t *testing.T) {
	tr := New(10)
	require.True(t, tr.Apply(port.LogPage{Since: 0, Total: 3, Entries: ok(3)}))
	require.True(t, tr.Apply(port.LogPage{Since: 1, Total: 5, Entries: ok(4)}))
	require.Equal(t, 5, tr.Snapshot().Processed)
	require.Equal(t, 5, tr.Seen())
}

func TestApply_GapIsDiscarded(t *testing.T) {
	tr := New(10)
	require.False(t, tr.Apply(port.LogPage{Since: 4, Total: 6, Entries: ok(2)}))
	require.Zero(t, tr.Snapshot().Processed)
}

func TestPercentage_NeverExceeds100(t *testing.T) {
	tr := New(2)
	require.True(t, tr.Apply(port.LogPage{Since: 0, Total: 3, Entries: ok(3)}))
	require.Equal(t, 100.0, tr.Snapshot().Percentage)
}

func TestPercentage_NonDecreasing(t *testing.T) {
	tr := New(20)
	pages := []port.LogPage{
		{Since: 0, Total: 4, Entries: ok(4)},
		{Since: 0, Total: 2, Entries: ok(2)},
		{Since: 4, Total: 9, Entries: ok(5)},
		{Since: 2, Total: 9, Entries: ok(7)},
		{Since: 12, Total: 14, Entries: ok(2)},
		{Since: 9, Total: 20, Entries: ok(11)},
	}

	last := 0.0
	for _, p := range pages {
		tr.Apply(p)
		pct := tr.Snapshot().Percentage
		require.GreaterOrEqual(t, pct, last)
		last = pct
	}
	require.Equal(t, 100.0, last)
}

func TestRun_Completes(t *testing.T) {
	log := &fakeLog{}
	tr := New(5, WithPollInterval(time.Millisecond))

	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(2 * time.Millisecond)
			log.add(port.LogEntry{FrameNumber: i + 1, Status: port.StatusSuccess})
		}
	}()

	var updates atomic.Int32
	out := tr.Run(context.Background(), log.poll, func(Progress) { updates.Add(1) })

	require.Equal(t, OutcomeCompleted, out.Kind)
	require.NoError(t, out.Err)
	require.Equal(t, 5, out.Progress.Transmitted)
	require.Equal(t, 100.0, out.Progress.Percentage)
	require.Positive(t, updates.Load())
}

func TestRun_WatchdogOnStall(t *testing.T) {
	log := &fakeLog{}
	log.add(ok(2)...)

	tr := New(5, WithPollInterval(time.Millisecond), WithWatchdog(20*time.Millisecond))
	out := tr.Run(context.Background(), log.poll, nil)

	require.Equal(t, OutcomeWatchdog, out.Kind)
	require.ErrorIs(t, out.Err, ErrStalled)
	require.Equal(t, 2, out.Progress.Processed)
}

func TestRun_WatchdogUsesInjectedClock(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}

	tr := New(5, WithPollInterval(time.Millisecond), WithWatchdog(3*time.Second), WithClock(clock))
	out := tr.Run(context.Background(), (&fakeLog{}).poll, nil)

	require.Equal(t, OutcomeWatchdog, out.Kind)
	require.ErrorIs(t, out.Err, ErrStalled)
}

func TestRun_PollFailuresEscalate(t *testing.T) {
	log := &fakeLog{fail: 100}
	tr := New(5, WithPollInterval(time.Millisecond), WithMaxPollFailures(3))

	out := tr.Run(context.Background(), log.poll, nil)

	require.Equal(t, OutcomeWatchdog, out.Kind)
	require.ErrorIs(t, out.Err, port.ErrPoll)
}

func TestRun_TransientPollFailuresAreTolerated(t *testing.T) {
	log := &fakeLog{fail: 2}
	log.add(ok(3)...)
	tr := New(3, WithPollInterval(time.Millisecond), WithMaxPollFailures(2))

	out := tr.Run(context.Background(), log.poll, nil)
	require.Equal(t, OutcomeCompleted, out.Kind)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := New(5, WithPollInterval(time.Millisecond))

	done := make(chan Outcome, 1)
	go func() { done <- tr.Run(ctx, (&fakeLog{}).poll, nil) }()
	cancel()

	select {
	case out := <-done:
		require.Equal(t, OutcomeCanceled, out.Kind)
		require.ErrorIs(t, out.Err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ResumeKeepsCounts(t *testing.T) {
	log := &fakeLog{}
	log.add(ok(2)...)
	tr := New(4, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := tr.Run(ctx, log.poll, nil)
	require.Equal(t, OutcomeCanceled, out.Kind)
	require.Equal(t, 2, out.Progress.Processed)

	log.add(port.LogEntry{FrameNumber: 3, Status: port.StatusSuccess}, port.LogEntry{FrameNumber: 4, Status: port.StatusFailure})
	out = tr.Run(context.Background(), log.poll, nil)
	require.Equal(t, OutcomeCompleted, out.Kind)
	require.Equal(t, 3, out.Progress.Transmitted)
	require.Equal(t, 1, out.Progress.Errors)
}

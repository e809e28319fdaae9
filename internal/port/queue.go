package port

import (
	"context"
	"sync"
	"time"

	"github.com/thereceipt/uart-link/pkg/uartframe"
	"go.uber.org/zap"
)

// transmission streams one batch of frames to a connection
type transmission struct {
	frames   [][]byte
	interval time.Duration
	conn     Conn
	log      *TransmissionLog
	logger   *zap.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	gate   *pauseGate
	done   chan struct{}
}

func newTransmission(conn Conn, frames [][]byte, interval time.Duration, log *TransmissionLog, logger *zap.Logger) *transmission {
	ctx, cancel := context.WithCancel(context.Background())

	return &transmission{
		frames:   frames,
		interval: interval,
		conn:     conn,
		log:      log,
		logger:   logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		gate:     newPauseGate(),
		done:     make(chan struct{}),
	}
}

func (t *transmission) running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// run writes every frame in order, waiting interval between frames
func (t *transmission) run() {
	defer close(t.done)

	var ok, failed int
	for i, frame := range t.frames {
		if err := t.gate.wait(t.ctx); err != nil {
			t.logger.Info("transmission stopped",
				zap.Int("sent", i), zap.Int("total", len(t.frames)))
			return
		}

		entry := t.write(i, frame)
		t.log.Append(entry)
		if entry.Status == StatusSuccess {
			ok++
		} else {
			failed++
			t.logger.Warn("frame write failed",
				zap.Int("frame", entry.FrameNumber), zap.String("error", entry.Error))
		}

		if i == len(t.frames)-1 || t.interval <= 0 {
			continue
		}

		timer := time.NewTimer(t.interval)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			t.logger.Info("transmission stopped",
				zap.Int("sent", i+1), zap.Int("total", len(t.frames)))
			return
		case <-timer.C:
		}
	}

	t.logger.Info("transmission finished",
		zap.Int("transmitted", ok), zap.Int("failed", failed), zap.Int("total", len(t.frames)))
}

func (t *transmission) write(i int, frame []byte) LogEntry {
	entry := LogEntry{
		FrameNumber: i + 1,
		FrameType:   "unknown",
		FrameHex:    uartframe.FormatHex(frame),
		Status:      StatusSuccess,
	}
	if len(frame) > 1 {
		entry.FrameType = uartframe.Kind(frame[1]).String()
	}

	n, err := t.conn.Write(frame)
	entry.BytesWritten = n
	entry.Timestamp = t.now()

	switch {
	case err != nil:
		entry.Status = StatusFailure
		entry.Error = err.Error()
	case n != len(frame):
		entry.Status = StatusFailure
		entry.Error = "short write"
	}

	return entry
}

// stop cancels the worker and waits for it to exit or for ctx to expire
func (t *transmission) stop(ctx context.Context) error {
	t.cancel()

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pauseGate blocks the worker between frames while paused
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newPauseGate() *pauseGate {
	return &pauseGate{resume: make(chan struct{})}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *pauseGate) unpause() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		paused, resume := g.paused, g.resume
		g.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if !paused {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// Package rate estimates UART transfer time and the per-frame send interval
package rate

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/uart-link/pkg/uartframe"
)

const (
	// BitsPerByte is 1 start + 8 data + 1 stop. Parity bits are not modelled.
	BitsPerByte = 10

	// MinIntervalMS is the floor applied in auto mode
	MinIntervalMS = 10

	// FrameBytes is the serialized length of every frame
	FrameBytes = uartframe.FrameSize
)

var (
	ErrInvalidBaud     = errors.New("baud rate must be positive")
	ErrInvalidInterval = errors.New("manual interval must be positive")
)

// Mode selects how the send interval is chosen. The zero value is auto.
type Mode struct {
	manual   bool
	manualMS int
}

// Auto derives the interval from the link's theoretical throughput
func Auto() Mode { return Mode{} }

// Manual fixes the interval regardless of baud rate
func Manual(ms int) Mode { return Mode{manual: true, manualMS: ms} }

// IsAuto reports whether the interval is derived from the baud rate
func (m Mode) IsAuto() bool { return !m.manual }

func (m Mode) String() string {
	if m.IsAuto() {
		return "auto"
	}
	return strconv.Itoa(m.manualMS) + "ms"
}

// ParseMode accepts "auto", "" or a number of milliseconds ("25", "25ms")
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "auto" {
		return Auto(), nil
	}

	ms, err := strconv.Atoi(strings.TrimSuffix(s, "ms"))
	if err != nil {
		return Mode{}, fmt.Errorf("invalid interval mode %q: %w", s, err)
	}
	if ms <= 0 {
		return Mode{}, fmt.Errorf("%w: %d", ErrInvalidInterval, ms)
	}
	return Manual(ms), nil
}

// Result is the outcome of Estimate
type Result struct {
	IntervalMS         int     `json:"interval_ms"`
	TheoreticalTotalMS float64 `json:"theoretical_total_ms"`
	Mode               string  `json:"mode"`
}

// Interval returns IntervalMS as a duration
func (r Result) Interval() time.Duration {
	return time.Duration(r.IntervalMS) * time.Millisecond
}

// Theoretical returns TheoreticalTotalMS as a duration
func (r Result) Theoretical() time.Duration {
	return time.Duration(r.TheoreticalTotalMS * float64(time.Millisecond))
}

// Estimate computes the send interval and theoretical wire time for frameCount frames
func Estimate(baud, frameCount int, mode Mode) (Result, error) {
	if baud <= 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidBaud, baud)
	}
	if mode.manual && mode.manualMS <= 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrInvalidInterval, mode.manualMS)
	}

	totalBits := float64(frameCount) * FrameBytes * BitsPerByte
	totalMS := totalBits / float64(baud) * 1000

	res := Result{TheoreticalTotalMS: totalMS, Mode: mode.String()}

	if !mode.IsAuto() {
		res.IntervalMS = mode.manualMS
		return res, nil
	}

	res.IntervalMS = MinIntervalMS
	if frameCount > 0 {
		res.IntervalMS = max(MinIntervalMS, int(math.Ceil(totalMS/float64(frameCount))))
	}
	return res, nil
}

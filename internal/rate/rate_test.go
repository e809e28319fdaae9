package rate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEstimate_64x64At115200(t *testing.T) {
	res, err := Estimate(115200, 1367, Auto())
	require.NoError(t, err)
	require.InDelta(t, 949.3, res.TheoreticalTotalMS, 0.05)
	require.Equal(t, 10, res.IntervalMS)
	require.Equal(t, 10*time.Millisecond, res.Interval())
	require.Equal(t, "auto", res.Mode)
}

func TestEstimate_SlowLinkExceedsFloor(t *testing.T) {
	// 80 bits per frame at 1200 baud is 66.7ms
	res, err := Estimate(1200, 100, Auto())
	require.NoError(t, err)
	require.Equal(t, 67, res.IntervalMS)
}

func TestEstimate_Manual(t *testing.T) {
	fast, err := Estimate(921600, 1367, Manual(50))
	require.NoError(t, err)
	slow, err := Estimate(9600, 1367, Manual(50))
	require.NoError(t, err)

	require.Equal(t, 50, fast.IntervalMS)
	require.Equal(t, 50, slow.IntervalMS)
	require.Greater(t, slow.TheoreticalTotalMS, fast.TheoreticalTotalMS)
}

func TestEstimate_MonotonicInBaud(t *testing.T) {
	bauds := []int{300, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

	prev, err := Estimate(bauds[0], 1367, Auto())
	require.NoError(t, err)
	for _, b := range bauds[1:] {
		cur, err := Estimate(b, 1367, Auto())
		require.NoError(t, err)
		require.LessOrEqual(t, cur.TheoreticalTotalMS, prev.TheoreticalTotalMS, "baud %d", b)
		require.LessOrEqual(t, cur.IntervalMS, prev.IntervalMS, "baud %d", b)
		prev = cur
	}
}

func TestEstimate_ZeroFrames(t *testing.T) {
	res, err := Estimate(115200, 0, Auto())
	require.NoError(t, err)
	require.Zero(t, res.TheoreticalTotalMS)
	require.Equal(t, MinIntervalMS, res.IntervalMS)
}

func TestEstimate_Errors(t *testing.T) {
	_, err := Estimate(0, 10, Auto())
	require.ErrorIs(t, err, ErrInvalidBaud)

	_, err = Estimate(9600, 10, Manual(-5))
	require.ErrorIs(t, err, ErrInvalidInterval)

	// zero is a manual value, not a request for auto
	require.False(t, Manual(0).IsAuto())
	_, err = Estimate(300, 1367, Manual(0))
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("auto")
	require.NoError(t, err)
	require.True(t, m.IsAuto())

	m, err = ParseMode("")
	require.NoError(t, err)
	require.True(t, m.IsAuto())

	m, err = ParseMode("25ms")
	require.NoError(t, err)
	require.Equal(t, Manual(25), m)

	_, err = ParseMode("0")
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = ParseMode("fast")
	require.Error(t, err)
}

package port

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thereceipt/uart-link/pkg/uartframe"
)

type recordConn struct {
	mu     sync.Mutex
	writes [][]byte
	failAt map[int]bool
	closed bool
}

func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.writes) + 1
	c.writes = append(c.writes, append([]byte(nil), p...))
	if c.failAt[n] {
		return 0, errors.New("device unplugged")
	}
	return len(p), nil
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

func newTestManager(t *testing.T, conn *recordConn) *Manager {
	t.Helper()
	m := NewManager(WithOpener(func(LinkConfig) (Conn, error) { return conn, nil }))
	t.Cleanup(func() { m.Disconnect() })
	return m
}

func testFrames(t *testing.T, pixels int) [][]byte {
	t.Helper()
	buf := make([]byte, pixels)
	for i := range buf {
		buf[i] = byte(i)
	}
	seq, err := uartframe.Encode(buf, pixels, 1)
	require.NoError(t, err)
	return seq.Raw()
}

func TestManager_ConnectValidates(t *testing.T) {
	m := newTestManager(t, &recordConn{})

	err := m.Connect(context.Background(), LinkConfig{})
	require.ErrorIs(t, err, ErrConnection)
	require.False(t, m.Status().Connected)

	err = m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0", StopBits: 3})
	require.ErrorIs(t, err, ErrConnection)
}

func TestManager_ConnectOpenFailure(t *testing.T) {
	m := NewManager(WithOpener(func(LinkConfig) (Conn, error) {
		return nil, errors.New("no such file or directory")
	}))

	err := m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB9"})
	require.ErrorIs(t, err, ErrConnection)
}

func TestManager_StartWithoutConnection(t *testing.T) {
	m := newTestManager(t, &recordConn{})

	err := m.StartTransmission(context.Background(), testFrames(t, 3), 0)
	require.ErrorIs(t, err, ErrTransmission)
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_StreamsAllFrames(t *testing.T) {
	conn := &recordConn{}
	m := newTestManager(t, conn)
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))

	st := m.Status()
	require.True(t, st.Connected)
	require.Equal(t, 115200, st.Link.BaudRate)
	require.Equal(t, ParityNone, st.Link.Parity)

	frames := testFrames(t, 20)
	require.NoError(t, m.StartTransmission(context.Background(), frames, time.Millisecond))

	require.Eventually(t, func() bool { return m.Status().LogLength == len(frames) }, 2*time.Second, 5*time.Millisecond)

	page, err := m.PollLog(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, len(frames), page.Total)
	require.Equal(t, "meta", page.Entries[0].FrameType)
	for i, e := range page.Entries {
		require.Equal(t, i+1, e.FrameNumber)
		require.Equal(t, StatusSuccess, e.Status)
		require.Equal(t, uartframe.FormatHex(frames[i]), e.FrameHex)
		require.Equal(t, uartframe.FrameSize, e.BytesWritten)
	}
	require.Equal(t, frames, conn.writes)
}

func TestManager_WriteFailureIsLoggedAndStreamingContinues(t *testing.T) {
	conn := &recordConn{failAt: map[int]bool{2: true}}
	m := newTestManager(t, conn)
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))

	frames := testFrames(t, 9)
	require.NoError(t, m.StartTransmission(context.Background(), frames, 0))
	require.Eventually(t, func() bool { return m.Status().LogLength == len(frames) }, time.Second, 5*time.Millisecond)

	page, err := m.PollLog(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, page.Entries, len(frames)-1)
	require.Equal(t, StatusFailure, page.Entries[0].Status)
	require.Equal(t, "device unplugged", page.Entries[0].Error)
	require.Equal(t, StatusSuccess, page.Entries[1].Status)
}

func TestManager_RejectsSecondTransmission(t *testing.T) {
	m := newTestManager(t, &recordConn{})
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))

	require.NoError(t, m.StartTransmission(context.Background(), testFrames(t, 30), 50*time.Millisecond))
	err := m.StartTransmission(context.Background(), testFrames(t, 3), 0)
	require.ErrorIs(t, err, ErrTransmission)
}

func TestManager_PauseHaltsByteFlow(t *testing.T) {
	conn := &recordConn{}
	m := newTestManager(t, conn)
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))

	frames := testFrames(t, 60)
	require.NoError(t, m.StartTransmission(context.Background(), frames, 2*time.Millisecond))
	require.Eventually(t, func() bool { return conn.count() >= 3 }, time.Second, time.Millisecond)

	require.NoError(t, m.PauseTransmission())
	require.True(t, m.Status().Paused)

	// the frame in flight when pausing may still land
	time.Sleep(20 * time.Millisecond)
	held := conn.count()
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, held, conn.count())

	require.NoError(t, m.ResumeTransmission())
	require.Eventually(t, func() bool { return conn.count() == len(frames) }, 2*time.Second, 5*time.Millisecond)
}

func TestManager_StopAcknowledges(t *testing.T) {
	conn := &recordConn{}
	m := newTestManager(t, conn)
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))

	frames := testFrames(t, 30)
	require.NoError(t, m.StartTransmission(context.Background(), frames, time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.StopTransmission(ctx))

	require.False(t, m.Status().Transmitting)
	require.Less(t, conn.count(), len(frames))
	require.ErrorIs(t, m.PauseTransmission(), ErrNotTransmitting)
}

func TestManager_StopWhilePaused(t *testing.T) {
	m := newTestManager(t, &recordConn{})
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))
	require.NoError(t, m.StartTransmission(context.Background(), testFrames(t, 30), 10*time.Millisecond))
	require.NoError(t, m.PauseTransmission())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.StopTransmission(ctx))
}

func TestManager_DisconnectClosesConn(t *testing.T) {
	conn := &recordConn{}
	m := newTestManager(t, conn)
	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: "/dev/ttyUSB0"}))
	require.NoError(t, m.StartTransmission(context.Background(), testFrames(t, 30), time.Second))

	require.NoError(t, m.Disconnect())
	require.True(t, conn.closed)
	require.False(t, m.Status().Connected)
	require.False(t, m.Status().Transmitting)
}

func TestManager_PollLog(t *testing.T) {
	m := newTestManager(t, &recordConn{})

	page, err := m.PollLog(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Empty(t, page.Entries)

	_, err = m.PollLog(context.Background(), -1)
	require.ErrorIs(t, err, ErrPoll)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.PollLog(ctx, 0)
	require.ErrorIs(t, err, ErrPoll)
}

func TestManager_SimulationListsVirtualPort(t *testing.T) {
	m := NewManager(WithSimulation(), WithLister(func() ([]PortInfo, error) {
		return []PortInfo{{Device: "/dev/ttyUSB0"}}, nil
	}))

	ports, err := m.ListPorts()
	require.NoError(t, err)
	require.Len(t, ports, 2)
	require.Equal(t, SimulatedDevice, ports[0].Device)

	require.NoError(t, m.Connect(context.Background(), LinkConfig{Port: SimulatedDevice}))
	require.NoError(t, m.StartTransmission(context.Background(), testFrames(t, 6), 0))
	require.Eventually(t, func() bool { return m.Status().LogLength == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Disconnect())
}

func TestMonitor_ReportsChanges(t *testing.T) {
	var mu sync.Mutex
	current := []PortInfo{{Device: "/dev/ttyUSB0"}}
	m := NewManager(WithLister(func() ([]PortInfo, error) {
		mu.Lock()
		defer mu.Unlock()
		return append([]PortInfo(nil), current...), nil
	}))

	mon := NewMonitor(m, time.Hour)
	var added, removed []string
	mon.OnPortAdded(func(p PortInfo) { added = append(added, p.Device) })
	mon.OnPortRemoved(func(p PortInfo) { removed = append(removed, p.Device) })

	previous := map[string]PortInfo{"/dev/ttyUSB0": {Device: "/dev/ttyUSB0"}}

	mu.Lock()
	current = []PortInfo{{Device: "/dev/ttyACM0"}}
	mu.Unlock()
	mon.checkChanges(previous)

	require.Equal(t, []string{"/dev/ttyACM0"}, added)
	require.Equal(t, []string{"/dev/ttyUSB0"}, removed)
	require.Contains(t, previous, "/dev/ttyACM0")
	require.NotContains(t, previous, "/dev/ttyUSB0")
}

func TestLinkConfig(t *testing.T) {
	cfg := LinkConfig{Port: "COM3"}.WithDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "COM3 @ 115200 bps 8N1", cfg.String())

	p, err := ParseParity("even")
	require.NoError(t, err)
	require.Equal(t, ParityEven, p)

	_, err = ParseParity("mark")
	require.Error(t, err)

	require.True(t, LinkConfig{Port: "tcp://10.0.0.5:4001"}.IsNetwork())
}

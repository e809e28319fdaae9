package port

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNetworkConnection_Write(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	c := &NetworkConnection{conn: local}

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 8)
		n, _ := io.ReadFull(remote, buf)
		got <- buf[:n]
	}()

	frame := []byte{0xAA, 0x01, 0x01, 0x09, 0x08, 0x07, 0x1A, 0x55}
	n, err := c.Write(frame)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, frame, <-got)

	require.NoError(t, c.Close())
	_, err = c.Write(frame)
	require.ErrorIs(t, err, ErrPortClosed)
}

func TestNetworkConnection_WriteDeadlineError(t *testing.T) {
	local, remote := net.Pipe()
	require.NoError(t, remote.Close())
	require.NoError(t, local.Close())

	// the conn is still attached, so the deadline call is the first to fail
	c := &NetworkConnection{conn: local}
	n, err := c.Write([]byte{0xAA})
	require.Zero(t, n)
	require.ErrorIs(t, err, io.ErrClosedPipe)
	require.ErrorContains(t, err, "write deadline")
}

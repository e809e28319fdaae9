package port

import (
	"io"
	"sync/atomic"
)

// Conn is a unified interface for every link type
type Conn interface {
	io.Writer
	io.Closer
}

// Opener opens a Conn for a link. Managers use OpenLink unless a test or the
// simulator supplies another.
type Opener func(cfg LinkConfig) (Conn, error)

// OpenLink dials a tcp:// bridge or opens a local serial device
func OpenLink(cfg LinkConfig) (Conn, error) {
	if cfg.IsNetwork() {
		conn, err := ConnectNetwork(cfg.Port)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	conn, err := ConnectSerial(cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SimulatedConn accepts every write, standing in for an FPGA that is not attached
type SimulatedConn struct {
	written atomic.Int64
	closed  atomic.Bool
}

// OpenSimulated is an Opener that never touches hardware
func OpenSimulated(LinkConfig) (Conn, error) {
	return &SimulatedConn{}, nil
}

func (c *SimulatedConn) Write(data []byte) (int, error) {
	if c.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	c.written.Add(int64(len(data)))
	return len(data), nil
}

// BytesWritten reports the number of bytes accepted so far
func (c *SimulatedConn) BytesWritten() int64 {
	return c.written.Load()
}

func (c *SimulatedConn) Close() error {
	c.closed.Store(true)
	return nil
}

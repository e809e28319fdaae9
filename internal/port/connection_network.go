package port

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const networkScheme = "tcp://"

// NetworkConnection is a UART reached through a TCP serial bridge (ser2net and friends).
// Line settings are owned by the bridge; only the bytes travel here.
type NetworkConnection struct {
	conn net.Conn
	mu   sync.Mutex
}

// ConnectNetwork dials a tcp://host:port address
func ConnectNetwork(address string) (*NetworkConnection, error) {
	address = strings.TrimPrefix(address, networkScheme)

	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to serial bridge %s: %w", address, err)
	}

	return &NetworkConnection{
		conn: conn,
	}, nil
}

// Write sends raw bytes to the bridge
func (c *NetworkConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return 0, ErrPortClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err != nil {
		return 0, fmt.Errorf("failed to set write deadline: %w", err)
	}
	return c.conn.Write(data)
}

// Close closes the network connection
func (c *NetworkConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}

	return nil
}

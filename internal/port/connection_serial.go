package port

import (
	"fmt"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConnection represents a local UART connection
type SerialConnection struct {
	port *serial.Port
	mu   sync.Mutex
}

// ConnectSerial opens a serial device with the given link settings
func ConnectSerial(cfg LinkConfig) (*SerialConnection, error) {
	cfg = cfg.WithDefaults()

	parity, err := ParseParity(string(cfg.Parity))
	if err != nil {
		return nil, err
	}

	config := &serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      tarmParity(parity),
		StopBits:    tarmStopBits(cfg.StopBits),
		ReadTimeout: time.Second,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}

	return &SerialConnection{
		port: port,
	}, nil
}

// Write sends raw bytes to the device
func (c *SerialConnection) Write(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return 0, ErrPortClosed
	}
	return c.port.Write(data)
}

// Close closes the serial connection
func (c *SerialConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != nil {
		err := c.port.Close()
		c.port = nil
		return err
	}

	return nil
}

func tarmParity(p Parity) serial.Parity {
	switch p {
	case ParityOdd:
		return serial.ParityOdd
	case ParityEven:
		return serial.ParityEven
	default:
		return serial.ParityNone
	}
}

func tarmStopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.Stop2
	}
	return serial.Stop1
}

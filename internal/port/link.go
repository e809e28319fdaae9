package port

import (
	"fmt"
	"strings"
)

// Parity is the UART parity setting
type Parity string

const (
	ParityNone Parity = "None"
	ParityOdd  Parity = "Odd"
	ParityEven Parity = "Even"
)

// Link defaults used when the operator leaves a field empty
const (
	DefaultBaudRate = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1
)

// ParseParity accepts None/Odd/Even case-insensitively, plus N/O/E
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return ParityNone, nil
	case "odd", "o":
		return ParityOdd, nil
	case "even", "e":
		return ParityEven, nil
	default:
		return "", fmt.Errorf("invalid parity: %s (must be None, Odd or Even)", s)
	}
}

// LinkConfig is everything needed to open a port
type LinkConfig struct {
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baudrate" yaml:"baudrate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   Parity `json:"parity" yaml:"parity"`
}

// WithDefaults fills zero fields with the link defaults
func (c LinkConfig) WithDefaults() LinkConfig {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.DataBits == 0 {
		c.DataBits = DefaultDataBits
	}
	if c.StopBits == 0 {
		c.StopBits = DefaultStopBits
	}
	if c.Parity == "" {
		c.Parity = ParityNone
	}
	return c
}

// Validate checks a LinkConfig after defaults have been applied
func (c LinkConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("invalid data bits: %d (must be 5-8)", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("invalid stop bits: %d (must be 1 or 2)", c.StopBits)
	}
	if _, err := ParseParity(string(c.Parity)); err != nil {
		return err
	}
	return nil
}

func (c LinkConfig) String() string {
	parity := "N"
	if c.Parity != "" {
		parity = string(c.Parity)[:1]
	}
	return fmt.Sprintf("%s @ %d bps %d%s%d", c.Port, c.BaudRate, c.DataBits, parity, c.StopBits)
}

// IsNetwork reports whether the port names a TCP serial bridge (tcp://host:port)
func (c LinkConfig) IsNetwork() bool {
	return strings.HasPrefix(c.Port, networkScheme)
}

package port

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a detected serial device
type PortInfo struct {
	Device       string `json:"device"`
	Description  string `json:"description"`
	Type         string `json:"type"` // usb, serial
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// DetectPorts lists serial ports using the OS enumerator, falling back to
// scanning well-known device paths when enumeration fails or finds nothing
func DetectPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil && len(details) > 0 {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, fromDetails(d))
		}
		sortPorts(ports)
		return ports, nil
	}

	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = scanMacOSPorts()
	case "linux":
		paths = scanLinuxPorts()
	default:
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
		}
		return nil, nil
	}

	ports := make([]PortInfo, 0, len(paths))
	for _, p := range paths {
		ports = append(ports, PortInfo{
			Device:      p,
			Description: fmt.Sprintf("Serial: %s", filepath.Base(p)),
			Type:        "serial",
		})
	}
	sortPorts(ports)
	return ports, nil
}

func fromDetails(d *enumerator.PortDetails) PortInfo {
	info := PortInfo{
		Device:      d.Name,
		Description: fmt.Sprintf("Serial: %s", filepath.Base(d.Name)),
		Type:        "serial",
	}
	if !d.IsUSB {
		return info
	}

	info.Type = "usb"
	info.VID = strings.ToUpper(d.VID)
	info.PID = strings.ToUpper(d.PID)
	info.SerialNumber = d.SerialNumber
	info.Product = d.Product

	info.Description = fmt.Sprintf("USB: %s:%s", info.VID, info.PID)
	if d.Product != "" {
		info.Description = fmt.Sprintf("USB: %s (%s:%s)", d.Product, info.VID, info.PID)
	}
	return info
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Device < ports[j].Device })
}

func scanMacOSPorts() []string {
	var ports []string

	// Skip Bluetooth and other non-UART devices
	skipPatterns := []string{"Bluetooth", "debug-console", "KeySerial", "Modem", "SPP"}

	for _, pattern := range []string{"/dev/cu.*", "/dev/tty.*"} {
		matches, _ := filepath.Glob(pattern)
		for _, match := range matches {
			skip := false
			for _, skipPattern := range skipPatterns {
				if strings.Contains(match, skipPattern) {
					skip = true
					break
				}
			}
			if !skip {
				ports = append(ports, match)
			}
		}
	}

	return ports
}

func scanLinuxPorts() []string {
	var ports []string

	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*", "/dev/ttyS*"} {
		matches, _ := filepath.Glob(pattern)
		ports = append(ports, matches...)
	}

	return ports
}

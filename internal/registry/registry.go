// Package registry manages persistent port profiles: stable IDs, operator aliases
// and the last link settings that worked for each device
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thereceipt/uart-link/internal/port"
	"go.uber.org/zap"
)

// Registry manages port identities, aliases and remembered links
type Registry struct {
	filePath string
	data     map[string]*Profile
	logger   *zap.Logger
	mu       sync.RWMutex
}

// Profile stores persistent information about a port
type Profile struct {
	ID            string           `json:"id"`
	IdentityKey   string           `json:"identity_key"`
	Type          string           `json:"type"` // usb, serial, network, simulated
	VID           string           `json:"vid,omitempty"`
	PID           string           `json:"pid,omitempty"`
	SerialNumber  string           `json:"serial_number,omitempty"`
	Device        string           `json:"device"`
	Description   string           `json:"description"`
	Alias         string           `json:"alias,omitempty"` // operator-set name
	Link          *port.LinkConfig `json:"link,omitempty"`
	LastConnected time.Time        `json:"last_connected,omitempty"`
}

// New creates a new Registry backed by filePath
func New(filePath string, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*Profile),
		logger:   logger.Named("registry"),
	}

	if err := r.load(); err != nil {
		// a missing file is created on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// ProfileID gets or creates a persistent ID for a port
func (r *Registry) ProfileID(info port.PortInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.profileLocked(info).ID
}

func (r *Registry) profileLocked(info port.PortInfo) *Profile {
	key := identityKey(info)
	if p, exists := r.data[key]; exists {
		// USB adapters can re-enumerate under a new device path
		if info.Device != "" && p.Device != info.Device {
			p.Device = info.Device
			r.saveLocked()
		}
		return p
	}

	p := &Profile{
		ID:           uuid.New().String(),
		IdentityKey:  key,
		Type:         info.Type,
		VID:          info.VID,
		PID:          info.PID,
		SerialNumber: info.SerialNumber,
		Device:       info.Device,
		Description:  info.Description,
	}
	r.data[key] = p
	r.saveLocked()

	return p
}

// Alias gets the alias for a profile, or empty string if not set
func (r *Registry) Alias(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.findLocked(id); p != nil {
		return p.Alias
	}
	return ""
}

// SetAlias sets the alias for a profile
func (r *Registry) SetAlias(id string, alias string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(id)
	if p == nil {
		return false
	}
	p.Alias = alias
	r.saveLocked()
	return true
}

// Resolve maps a profile ID, alias or device path to a device path
func (r *Registry) Resolve(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.data {
		if p.ID == ref || p.Device == ref || (p.Alias != "" && strings.EqualFold(p.Alias, ref)) {
			return p.Device, true
		}
	}
	return "", false
}

// RememberLink records cfg as the last link that connected on this port
func (r *Registry) RememberLink(info port.PortInfo, cfg port.LinkConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.profileLocked(info)
	link := cfg
	p.Link = &link
	p.LastConnected = time.Now().UTC()
	r.saveLocked()
}

// LinkFor returns the remembered link for a device path
func (r *Registry) LinkFor(device string) (port.LinkConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.data {
		if p.Device == device && p.Link != nil {
			return *p.Link, true
		}
	}
	return port.LinkConfig{}, false
}

// Profile gets all stored information for a profile
func (r *Registry) Profile(id string) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.findLocked(id); p != nil {
		cp := *p
		return &cp
	}
	return nil
}

// Remove removes a profile from the registry
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, p := range r.data {
		if p.ID == id {
			delete(r.data, key)
			r.saveLocked()
			return true
		}
	}
	return false
}

// All returns every profile keyed by identity
func (r *Registry) All() map[string]*Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Profile, len(r.data))
	for k, v := range r.data {
		cp := *v
		result[k] = &cp
	}
	return result
}

func (r *Registry) findLocked(id string) *Profile {
	for _, p := range r.data {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

func (r *Registry) saveLocked() {
	if r.filePath == "" {
		return
	}

	data, err := json.MarshalIndent(r.data, "", "  ")
	if err == nil {
		err = os.WriteFile(r.filePath, data, 0644)
	}
	if err != nil {
		// the in-memory registry stays authoritative; the next save retries
		r.logger.Warn("failed to save registry", zap.String("path", r.filePath), zap.Error(err))
	}
}

// identityKey creates a stable key for a port based on its characteristics
func identityKey(info port.PortInfo) string {
	switch {
	case info.VID != "" && info.PID != "" && info.SerialNumber != "":
		return fmt.Sprintf("usb:%s:%s:%s", strings.ToUpper(info.VID), strings.ToUpper(info.PID), info.SerialNumber)
	case strings.HasPrefix(info.Device, "tcp://"):
		return "network:" + strings.TrimPrefix(info.Device, "tcp://")
	case info.Device != "":
		return "serial:" + info.Device
	}

	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}

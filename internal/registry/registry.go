// Package registry manages persistent device IDs, custom names and USB grants
package registry

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/thereceipt/cafeprint/internal/log"
)

// Device types
const (
	TypeUSB    = "usb"
	TypeBLE    = "ble"
	TypeSerial = "serial"
)

// Registry manages device identities, custom names and the set of USB
// devices the operator has approved for unattended reconnects.
type Registry struct {
	filePath string
	data     map[string]*DeviceEntry
	mu       sync.RWMutex
}

// DeviceEntry stores persistent information about a printer
type DeviceEntry struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Type        string `json:"type"` // usb, ble, serial
	VID         uint16 `json:"vid,omitempty"`
	PID         uint16 `json:"pid,omitempty"`
	Address     string `json:"address,omitempty"`
	Device      string `json:"device,omitempty"`
	Description string `json:"description"`
	Name        string `json:"name,omitempty"` // Custom user-set name
	Granted     bool   `json:"granted,omitempty"`
}

// DisplayName is the custom name when set, else the description
func (e *DeviceEntry) DisplayName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Description
}

// DeviceInfo represents basic device information from discovery
type DeviceInfo struct {
	Type        string
	Description string
	Device      string // serial port path
	Address     string // radio address
	VID         uint16
	PID         uint16
}

// IdentityKey is the stable key a device is stored under
func (info DeviceInfo) IdentityKey() string {
	switch info.Type {
	case TypeUSB:
		if info.VID != 0 && info.PID != 0 {
			return fmt.Sprintf("usb:%04X:%04X", info.VID, info.PID)
		}
	case TypeBLE:
		if info.Address != "" {
			return "ble:" + strings.ToLower(info.Address)
		}
	case TypeSerial:
		if info.Device != "" {
			return "serial:" + info.Device
		}
	}

	// Fallback: hash the description
	hash := md5.Sum([]byte(info.Description))
	return fmt.Sprintf("hash:%x", hash)
}

// New creates a new Registry
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     make(map[string]*DeviceEntry),
	}

	if err := r.load(); err != nil {
		// If file doesn't exist, that's okay - we'll create it on first save
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// GetDeviceID gets or creates a persistent ID for a device
func (r *Registry) GetDeviceID(info DeviceInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.entryLocked(info).ID
}

func (r *Registry) entryLocked(info DeviceInfo) *DeviceEntry {
	identityKey := info.IdentityKey()

	if entry, exists := r.data[identityKey]; exists {
		if info.Description != "" && entry.Description != info.Description {
			entry.Description = info.Description
			r.saveLocked()
		}
		return entry
	}

	entry := &DeviceEntry{
		ID:          uuid.New().String(),
		IdentityKey: identityKey,
		Type:        info.Type,
		VID:         info.VID,
		PID:         info.PID,
		Address:     info.Address,
		Device:      info.Device,
		Description: info.Description,
	}
	r.data[identityKey] = entry
	r.saveLocked()

	return entry
}

// Grant records that the operator picked this device, allowing later
// reconnects without asking again. It returns the device ID.
func (r *Registry) Grant(info DeviceInfo) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entryLocked(info)
	if !entry.Granted {
		entry.Granted = true
		r.saveLocked()
	}
	return entry.ID
}

// Revoke clears the grant for a device
func (r *Registry) Revoke(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.data {
		if entry.ID == deviceID {
			entry.Granted = false
			r.saveLocked()
			return true
		}
	}
	return false
}

// IsGranted reports whether the device was granted before
func (r *Registry) IsGranted(info DeviceInfo) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.data[info.IdentityKey()]
	return ok && entry.Granted
}

// Lookup returns a copy of the entry stored for info, if any
func (r *Registry) Lookup(info DeviceInfo) *DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.data[info.IdentityKey()]
	if !ok {
		return nil
	}
	entryCopy := *entry
	return &entryCopy
}

// GetDeviceName gets the custom name for a device, or empty string if not set
func (r *Registry) GetDeviceName(deviceID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.data {
		if entry.ID == deviceID {
			return entry.Name
		}
	}
	return ""
}

// SetDeviceName sets a custom name for a device
func (r *Registry) SetDeviceName(deviceID string, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.data {
		if entry.ID == deviceID {
			entry.Name = name
			r.saveLocked()
			return true
		}
	}
	return false
}

// GetDeviceInfo gets all stored information for a device
func (r *Registry) GetDeviceInfo(deviceID string) *DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, entry := range r.data {
		if entry.ID == deviceID {
			// Return a copy to avoid race conditions
			entryCopy := *entry
			return &entryCopy
		}
	}
	return nil
}

// RemoveDevice removes a device from the registry
func (r *Registry) RemoveDevice(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, entry := range r.data {
		if entry.ID == deviceID {
			delete(r.data, key)
			r.saveLocked()
			return true
		}
	}
	return false
}

// List returns copies of all entries sorted by identity key
func (r *Registry) List() []DeviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]DeviceEntry, 0, len(r.data))
	for _, v := range r.data {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].IdentityKey < result[j].IdentityKey
	})
	return result
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, &r.data)
}

// saveLocked persists the registry. Failures are logged and retried on the
// next mutation.
func (r *Registry) saveLocked() {
	if err := r.save(); err != nil {
		logger := log.WithComponent("registry")
		logger.Warn().Err(err).Str("path", r.filePath).Msg("failed to save registry")
	}
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(r.filePath, data, 0644)
}

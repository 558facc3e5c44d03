// Package registry keeps the in-memory map of devices discovered on the
// local network. Entries are upserted from announcement events and are
// never evicted automatically; they live until Clear or process exit.
package registry

import (
	"sort"
	"sync"
	"time"

	"godrop/models"
)

// Registry is a concurrency-safe map of device ID to last-known device state.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]models.Device
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		devices: make(map[string]models.Device),
	}
}

// Upsert records a device announcement, last write wins.
//
// It reports whether the device ID was previously unknown, which lets the
// caller emit "device found" notifications at most once per distinct ID.
func (r *Registry) Upsert(device models.Device) bool {
	if device.LastSeen.IsZero() {
		device.LastSeen = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.devices[device.DeviceID]
	r.devices[device.DeviceID] = device
	return !known
}

// Get returns the last-known state for a device ID.
func (r *Registry) Get(deviceID string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[deviceID]
	return device, ok
}

// List returns a snapshot of all known devices sorted by name, then ID.
func (r *Registry) List() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.devices))
	for _, device := range r.devices {
		out = append(out, device)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceName == out[j].DeviceName {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].DeviceName < out[j].DeviceName
	})
	return out
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Clear removes all known devices.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = make(map[string]models.Device)
}

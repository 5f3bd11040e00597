package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/offload-core/internal/accel"
)

// Logger defines the logging interface used during enumeration.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Descriptor is a usable device with its registry index.
type Descriptor struct {
	accel.DeviceInfo

	// Index is the device's position in the registry, 0..N-1.
	Index int
}

// Filter restricts which reported devices are registered.
type Filter struct {
	// Kinds is an allow-list. Empty means every kind.
	Kinds []accel.Kind
}

func (f Filter) allows(k accel.Kind) bool {
	if len(f.Kinds) == 0 {
		return true
	}
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Registry is the fixed, ordered set of devices chosen at startup.
type Registry struct {
	platform string
	devices  []Descriptor
}

// Enumerate queries the platform and builds the registry.
//
// Devices with no compute units or no allocatable memory are skipped.
// Returns ErrNoDeviceFound when nothing usable remains, and wraps
// ErrDeviceInit when the platform itself fails.
func Enumerate(ctx context.Context, platform accel.Platform, filter Filter, logger Logger) (*Registry, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	infos, err := platform.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s devices: %w", ErrDeviceInit, platform.Name(), err)
	}

	r := &Registry{platform: platform.Name()}
	for _, info := range infos {
		switch {
		case !filter.allows(info.Kind):
			logger.Debug("device filtered out", "device", info.Name, "kind", info.Kind)
			continue
		case info.ComputeUnits <= 0 || info.MaxAllocBytes <= 0:
			logger.Warn("device not usable", "device", info.Name,
				"compute_units", info.ComputeUnits, "max_alloc", info.MaxAllocBytes)
			continue
		}
		d := Descriptor{DeviceInfo: info, Index: len(r.devices)}
		r.devices = append(r.devices, d)
		logger.Info("device registered", "index", d.Index, "device", d.Name,
			"kind", d.Kind, "compute_units", d.ComputeUnits)
	}

	if len(r.devices) == 0 {
		return nil, fmt.Errorf("platform %s reported %d devices: %w", platform.Name(), len(infos), ErrNoDeviceFound)
	}
	return r, nil
}

// NewRegistry builds a registry directly from device descriptions.
// Indexes are assigned in order. Intended for tests and tools.
func NewRegistry(platform string, infos ...accel.DeviceInfo) (*Registry, error) {
	if len(infos) == 0 {
		return nil, ErrNoDeviceFound
	}
	r := &Registry{platform: platform, devices: make([]Descriptor, len(infos))}
	for i, info := range infos {
		r.devices[i] = Descriptor{DeviceInfo: info, Index: i}
	}
	return r, nil
}

// Platform returns the name of the platform the devices came from.
func (r *Registry) Platform() string { return r.platform }

// Count returns the number of registered devices. Always at least 1.
func (r *Registry) Count() int { return len(r.devices) }

// Device returns the descriptor at index i. It panics if i is out of range;
// use Lookup when the index comes from outside.
func (r *Registry) Device(i int) Descriptor { return r.devices[i] }

// Lookup returns the descriptor at index i.
func (r *Registry) Lookup(i int) (Descriptor, error) {
	if i < 0 || i >= len(r.devices) {
		return Descriptor{}, fmt.Errorf("index %d of %d: %w", i, len(r.devices), ErrIndexOutOfRange)
	}
	return r.devices[i], nil
}

// Devices returns a copy of every descriptor in index order.
func (r *Registry) Devices() []Descriptor {
	return append([]Descriptor(nil), r.devices...)
}

// Infos returns the driver descriptions in index order.
func (r *Registry) Infos() []accel.DeviceInfo {
	out := make([]accel.DeviceInfo, len(r.devices))
	for i, d := range r.devices {
		out[i] = d.DeviceInfo
	}
	return out
}

// ZoneLength returns the largest shared-memory zone every device can map:
// the minimum MaxAllocBytes across the registry.
func (r *Registry) ZoneLength() int64 {
	minAlloc := r.devices[0].MaxAllocBytes
	for _, d := range r.devices[1:] {
		if d.MaxAllocBytes < minAlloc {
			minAlloc = d.MaxAllocBytes
		}
	}
	return minAlloc
}

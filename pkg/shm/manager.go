package shm

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var ErrNoDeviceAllocator = errors.New("device shared memory requested but no device allocator is configured")

// Manager creates regions, registers them with the server and tears them down.
type Manager struct {
	registrar Registrar
	allocator DeviceAllocator
	deviceID  int64
}

type Option func(*Manager)

// WithDeviceAllocator enables device regions allocated on deviceID.
func WithDeviceAllocator(a DeviceAllocator, deviceID int64) Option {
	return func(m *Manager) {
		m.allocator = a
		m.deviceID = deviceID
	}
}

func NewManager(registrar Registrar, opts ...Option) *Manager {
	m := &Manager{registrar: registrar}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SupportsDevice reports whether device regions can be created.
func (m *Manager) SupportsDevice() bool {
	return m.allocator != nil
}

// Create allocates a region of byteSize bytes and registers it under name. key is
// the shared memory object name for system regions and ignored for device regions.
func (m *Manager) Create(ctx context.Context, kind Kind, name, key string, byteSize uint64) (*Region, error) {
	r := &Region{Name: name, Key: key, Kind: kind, ByteSize: byteSize}
	switch kind {
	case System:
		mapping, err := CreateSystem(key, byteSize)
		if err != nil {
			return nil, err
		}
		r.mapping = mapping
		if err := m.registrar.RegisterSystemSharedMemory(ctx, name, key, 0, byteSize); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to register system region %s: %w", name, err), m.destroy(r))
		}
	case Device:
		if m.allocator == nil {
			return nil, ErrNoDeviceAllocator
		}
		buf, err := m.allocator.Allocate(m.deviceID, byteSize)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate device region %s: %w", name, err)
		}
		r.device = buf
		r.DeviceID = m.deviceID
		handle, err := buf.RawHandle()
		if err != nil {
			return nil, errors.Join(fmt.Errorf("failed to get handle of device region %s: %w", name, err), m.destroy(r))
		}
		if err := m.registrar.RegisterCudaSharedMemory(ctx, name, handle, m.deviceID, byteSize); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to register device region %s: %w", name, err), m.destroy(r))
		}
	default:
		return nil, fmt.Errorf("cannot create region %s of kind %s", name, kind)
	}
	r.registered = true
	log.Debug().Str("region", name).Str("kind", kind.String()).Uint64("byte_size", byteSize).Msg("shared memory region created")
	return r, nil
}

// Release unregisters and destroys r. It is safe to call more than once.
func (m *Manager) Release(ctx context.Context, r *Region) error {
	var errs []error
	if r.registered {
		var err error
		if r.Kind == Device {
			err = m.registrar.UnregisterCudaSharedMemory(ctx, r.Name)
		} else {
			err = m.registrar.UnregisterSystemSharedMemory(ctx, r.Name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to unregister region %s: %w", r.Name, err))
		}
		r.registered = false
	}
	errs = append(errs, m.destroy(r))
	return errors.Join(errs...)
}

func (m *Manager) destroy(r *Region) error {
	if r.destroyed {
		return nil
	}
	r.destroyed = true
	var errs []error
	if r.mapping != nil {
		if err := r.mapping.Unmap(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unmap region %s: %w", r.Name, err))
		}
		if err := UnlinkSystem(r.Key); err != nil {
			errs = append(errs, err)
		}
		r.mapping = nil
	}
	if r.device != nil {
		if err := r.device.Free(); err != nil {
			errs = append(errs, fmt.Errorf("failed to free device region %s: %w", r.Name, err))
		}
		r.device = nil
	}
	return errors.Join(errs...)
}

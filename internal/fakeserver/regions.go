package fakeserver

import (
	"fmt"
	"sync"

	"github.com/Meesho/BharatMLStack/predator-qa/pkg/clients/triton"
	"github.com/Meesho/BharatMLStack/predator-qa/pkg/shm"
	"github.com/rs/zerolog/log"
)

// DeviceResolver maps a device memory handle to host-addressable bytes.
// *shm.HostDeviceAllocator implements it.
type DeviceResolver interface {
	Resolve(rawHandle []byte, deviceID int64, byteSize uint64) ([]byte, error)
}

type registeredRegion struct {
	name    string
	kind    shm.Kind
	buf     []byte
	mapping *shm.Mapping
}

type regionRegistry struct {
	mu      sync.Mutex
	regions map[string]*registeredRegion
	devices DeviceResolver
}

func newRegionRegistry(devices DeviceResolver) *regionRegistry {
	return &regionRegistry{regions: make(map[string]*registeredRegion), devices: devices}
}

func (r *regionRegistry) registerSystem(name, key string, offset, byteSize uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regions[name]; ok {
		return &RequestError{ErrorMsg: fmt.Sprintf("shared memory region '%s' already registered", name)}
	}
	mapping, err := shm.OpenSystem(key, offset, byteSize)
	if err != nil {
		return &RequestError{ErrorMsg: fmt.Sprintf("unable to open shared memory region '%s': %v", name, err)}
	}
	r.regions[name] = &registeredRegion{name: name, kind: shm.System, buf: mapping.Buf, mapping: mapping}
	log.Debug().Str("region", name).Str("key", key).Uint64("byte_size", byteSize).Msg("system shared memory registered")
	return nil
}

func (r *regionRegistry) registerDevice(name string, rawHandle []byte, deviceID int64, byteSize uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices == nil {
		return &RequestError{ErrorMsg: "device shared memory is not supported"}
	}
	if _, ok := r.regions[name]; ok {
		return &RequestError{ErrorMsg: fmt.Sprintf("shared memory region '%s' already registered", name)}
	}
	buf, err := r.devices.Resolve(rawHandle, deviceID, byteSize)
	if err != nil {
		return &RequestError{ErrorMsg: fmt.Sprintf("unable to open device memory region '%s': %v", name, err)}
	}
	r.regions[name] = &registeredRegion{name: name, kind: shm.Device, buf: buf}
	log.Debug().Str("region", name).Int64("device_id", deviceID).Uint64("byte_size", byteSize).Msg("device shared memory registered")
	return nil
}

// unregister drops one region of kind, or all of them when name is empty. Unknown
// names are ignored.
func (r *regionRegistry) unregister(kind shm.Kind, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for n, region := range r.regions {
		if region.kind != kind || (name != "" && n != name) {
			continue
		}
		if region.mapping != nil {
			if uerr := region.mapping.Unmap(); uerr != nil && err == nil {
				err = uerr
			}
		}
		delete(r.regions, n)
	}
	return err
}

func (r *regionRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.regions)
}

func (r *regionRegistry) read(ref *triton.SharedMemoryRef) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.regions[ref.Region]
	if !ok {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("unable to find shared memory region: '%s'", ref.Region)}
	}
	if ref.Offset+ref.ByteSize > uint64(len(region.buf)) {
		return nil, &RequestError{ErrorMsg: fmt.Sprintf("shared memory region '%s' holds %d bytes, %d requested at offset %d",
			ref.Region, len(region.buf), ref.ByteSize, ref.Offset)}
	}
	out := make([]byte, ref.ByteSize)
	copy(out, region.buf[ref.Offset:])
	return out, nil
}

func (r *regionRegistry) write(ref *triton.SharedMemoryRef, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.regions[ref.Region]
	if !ok {
		return &RequestError{ErrorMsg: fmt.Sprintf("unable to find shared memory region: '%s'", ref.Region)}
	}
	if uint64(len(p)) > ref.ByteSize || ref.Offset+uint64(len(p)) > uint64(len(region.buf)) {
		return &RequestError{ErrorMsg: fmt.Sprintf("output of %d bytes does not fit shared memory region '%s' of %d bytes",
			len(p), ref.Region, ref.ByteSize)}
	}
	copy(region.buf[ref.Offset:], p)
	return nil
}

func (r *regionRegistry) close() error {
	if err := r.unregister(shm.System, ""); err != nil {
		return err
	}
	return r.unregister(shm.Device, "")
}

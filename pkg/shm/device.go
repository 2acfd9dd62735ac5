package shm

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// DeviceBuffer is a block of device memory that can be shared with the server
// through an IPC handle.
type DeviceBuffer interface {
	RawHandle() ([]byte, error)
	Write(offset uint64, p []byte) error
	Read(offset, n uint64) ([]byte, error)
	Free() error
}

// DeviceAllocator allocates device memory. No GPU-backed implementation ships with
// this package; callers bring their own.
type DeviceAllocator interface {
	Allocate(deviceID int64, byteSize uint64) (DeviceBuffer, error)
}

// HostDeviceAllocator emulates device memory in host memory. Its handles are only
// meaningful inside the process that issued them, which makes it suitable for an
// in-process server.
type HostDeviceAllocator struct {
	mu      sync.Mutex
	nextID  uint64
	buffers map[uint64]*hostBuffer
}

func NewHostDeviceAllocator() *HostDeviceAllocator {
	return &HostDeviceAllocator{buffers: make(map[uint64]*hostBuffer)}
}

func (a *HostDeviceAllocator) Allocate(deviceID int64, byteSize uint64) (DeviceBuffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	b := &hostBuffer{
		id:       a.nextID,
		deviceID: deviceID,
		mem:      make([]byte, byteSize),
		owner:    a,
	}
	a.buffers[b.id] = b
	return b, nil
}

// Resolve returns the memory behind a raw handle issued by this allocator.
func (a *HostDeviceAllocator) Resolve(rawHandle []byte, deviceID int64, byteSize uint64) ([]byte, error) {
	if len(rawHandle) != 8 {
		return nil, fmt.Errorf("malformed device handle of %d bytes", len(rawHandle))
	}
	id := binary.LittleEndian.Uint64(rawHandle)
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.buffers[id]
	if !ok {
		return nil, fmt.Errorf("unknown device handle %d", id)
	}
	if b.deviceID != deviceID {
		return nil, fmt.Errorf("device handle %d belongs to device %d, not %d", id, b.deviceID, deviceID)
	}
	if uint64(len(b.mem)) < byteSize {
		return nil, fmt.Errorf("device handle %d holds %d bytes, %d requested", id, len(b.mem), byteSize)
	}
	return b.mem[:byteSize], nil
}

// Live is the number of buffers not yet freed.
func (a *HostDeviceAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffers)
}

type hostBuffer struct {
	id       uint64
	deviceID int64
	mem      []byte
	owner    *HostDeviceAllocator
}

func (b *hostBuffer) RawHandle() ([]byte, error) {
	h := make([]byte, 8)
	binary.LittleEndian.PutUint64(h, b.id)
	return h, nil
}

func (b *hostBuffer) Write(offset uint64, p []byte) error {
	if offset+uint64(len(p)) > uint64(len(b.mem)) {
		return fmt.Errorf("device write out of bounds")
	}
	copy(b.mem[offset:], p)
	return nil
}

func (b *hostBuffer) Read(offset, n uint64) ([]byte, error) {
	if offset+n > uint64(len(b.mem)) {
		return nil, fmt.Errorf("device read out of bounds")
	}
	out := make([]byte, n)
	copy(out, b.mem[offset:offset+n])
	return out, nil
}

func (b *hostBuffer) Free() error {
	b.owner.mu.Lock()
	defer b.owner.mu.Unlock()
	if _, ok := b.owner.buffers[b.id]; !ok {
		return fmt.Errorf("device buffer %d already freed", b.id)
	}
	delete(b.owner.buffers, b.id)
	return nil
}

package shm

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// Dir is where POSIX shared memory objects live.
var Dir = "/dev/shm"

type Kind uint8

const (
	None Kind = iota
	System
	Device
)

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case System:
		return "system"
	case Device:
		return "device"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "system":
		return System, nil
	case "device", "cuda":
		return Device, nil
	}
	return None, fmt.Errorf("unknown shared memory kind %q", s)
}

// KindFromFlags maps the two-flag form (system, device) to a Kind. Selecting both is an error.
func KindFromFlags(system, device bool) (Kind, error) {
	switch {
	case system && device:
		return None, fmt.Errorf("cannot use both system and device shared memory")
	case system:
		return System, nil
	case device:
		return Device, nil
	}
	return None, nil
}

// Registrar registers regions with the inference server. Transport clients satisfy it.
type Registrar interface {
	RegisterSystemSharedMemory(ctx context.Context, name, key string, offset, byteSize uint64) error
	UnregisterSystemSharedMemory(ctx context.Context, name string) error
	RegisterCudaSharedMemory(ctx context.Context, name string, rawHandle []byte, deviceID int64, byteSize uint64) error
	UnregisterCudaSharedMemory(ctx context.Context, name string) error
}

// Region is a named block of system or device memory registered with the server.
type Region struct {
	Name     string
	Key      string
	Kind     Kind
	ByteSize uint64
	DeviceID int64

	mapping    *Mapping
	device     DeviceBuffer
	registered bool
	destroyed  bool
}

func (r *Region) RegionName() string {
	return r.Name
}

func (r *Region) RegionByteSize() uint64 {
	return r.ByteSize
}

// Write copies p into the region at offset.
func (r *Region) Write(offset uint64, p []byte) error {
	if r.destroyed {
		return fmt.Errorf("region %s is destroyed", r.Name)
	}
	if offset+uint64(len(p)) > r.ByteSize {
		return fmt.Errorf("write of %d bytes at offset %d overflows region %s of %d bytes",
			len(p), offset, r.Name, r.ByteSize)
	}
	switch r.Kind {
	case System:
		copy(r.mapping.Buf[offset:], p)
		return nil
	case Device:
		return r.device.Write(offset, p)
	}
	return fmt.Errorf("region %s has no backing memory", r.Name)
}

// Read returns a copy of n bytes at offset.
func (r *Region) Read(offset, n uint64) ([]byte, error) {
	if r.destroyed {
		return nil, fmt.Errorf("region %s is destroyed", r.Name)
	}
	if offset+n > r.ByteSize {
		return nil, fmt.Errorf("read of %d bytes at offset %d overflows region %s of %d bytes",
			n, offset, r.Name, r.ByteSize)
	}
	switch r.Kind {
	case System:
		out := make([]byte, n)
		copy(out, r.mapping.Buf[offset:offset+n])
		return out, nil
	case Device:
		return r.device.Read(offset, n)
	}
	return nil, fmt.Errorf("region %s has no backing memory", r.Name)
}

func (r *Region) ReadAll() ([]byte, error) {
	return r.Read(0, r.ByteSize)
}

func objectPath(key string) (string, error) {
	name := strings.TrimPrefix(key, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid shared memory key %q", key)
	}
	return filepath.Join(Dir, name), nil
}

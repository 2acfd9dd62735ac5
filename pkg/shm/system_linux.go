//go:build linux
// +build linux

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	PROT_READ  = unix.PROT_READ
	PROT_WRITE = unix.PROT_WRITE
	MAP_SHARED = unix.MAP_SHARED
)

// Mapping is a POSIX shared memory object mapped into this process.
type Mapping struct {
	Key  string
	Buf  []byte
	mmap []byte
}

// CreateSystem creates (or truncates) the shared memory object named key and maps
// byteSize bytes of it read-write.
func CreateSystem(key string, byteSize uint64) (*Mapping, error) {
	path, err := objectPath(key)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory object %s: %w", key, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(mapLength(0, byteSize))); err != nil {
		_ = unix.Unlink(path)
		return nil, fmt.Errorf("failed to size shared memory object %s: %w", key, err)
	}
	m, err := mapFd(fd, key, 0, byteSize)
	if err != nil {
		_ = unix.Unlink(path)
		return nil, err
	}
	return m, nil
}

// OpenSystem maps byteSize bytes at offset of an existing shared memory object.
func OpenSystem(key string, offset, byteSize uint64) (*Mapping, error) {
	path, err := objectPath(key)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open shared memory object %s: %w", key, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("failed to stat shared memory object %s: %w", key, err)
	}
	if uint64(st.Size) < offset+byteSize {
		return nil, fmt.Errorf("shared memory object %s holds %d bytes, %d requested at offset %d",
			key, st.Size, byteSize, offset)
	}
	return mapFd(fd, key, offset, byteSize)
}

// mmap offsets must be page aligned, so the mapping starts at the page holding offset
func mapFd(fd int, key string, offset, byteSize uint64) (*Mapping, error) {
	page := uint64(os.Getpagesize())
	start := offset - offset%page
	b, err := unix.Mmap(fd, int64(start), mapLength(offset-start, byteSize), PROT_READ|PROT_WRITE, MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map shared memory object %s: %w", key, err)
	}
	lead := offset - start
	return &Mapping{
		Key:  key,
		Buf:  b[lead : lead+byteSize],
		mmap: b,
	}, nil
}

// zero-length mappings are rejected by mmap
func mapLength(lead, byteSize uint64) int {
	if lead+byteSize == 0 {
		return 1
	}
	return int(lead + byteSize)
}

func (m *Mapping) Unmap() error {
	if m.mmap != nil {
		if err := unix.Munmap(m.mmap); err != nil {
			return err
		}
	}
	m.Buf = nil
	m.mmap = nil
	return nil
}

// UnlinkSystem removes the shared memory object; existing mappings stay valid.
func UnlinkSystem(key string) error {
	path, err := objectPath(key)
	if err != nil {
		return err
	}
	if err := unix.Unlink(path); err != nil && err != unix.ENOENT {
		return fmt.Errorf("failed to unlink shared memory object %s: %w", key, err)
	}
	return nil
}

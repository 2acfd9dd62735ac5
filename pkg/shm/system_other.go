//go:build !linux
// +build !linux

package shm

import "errors"

var errUnsupported = errors.New("system shared memory is only supported on linux")

type Mapping struct {
	Key string
	Buf []byte
}

func CreateSystem(key string, byteSize uint64) (*Mapping, error) {
	return nil, errUnsupported
}

func OpenSystem(key string, offset, byteSize uint64) (*Mapping, error) {
	return nil, errUnsupported
}

func (m *Mapping) Unmap() error {
	return nil
}

func UnlinkSystem(key string) error {
	return errUnsupported
}

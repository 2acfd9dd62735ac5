package shm

import (
	"context"
	"errors"
	"fmt"
)

// RegionSet tracks the regions used by one verification, keyed by logical tensor name.
type RegionSet struct {
	manager    *Manager
	regions    map[string]*Region
	order      []string
	precreated map[string]bool
}

func NewRegionSet(m *Manager) *RegionSet {
	return &RegionSet{
		manager:    m,
		regions:    make(map[string]*Region),
		precreated: make(map[string]bool),
	}
}

// Create creates a region for tensor and, when data is non-nil, writes it at offset 0.
func (s *RegionSet) Create(ctx context.Context, tensor string, kind Kind, name, key string, byteSize uint64, data []byte) (*Region, error) {
	if _, ok := s.regions[tensor]; ok {
		return nil, fmt.Errorf("tensor %s already has a region", tensor)
	}
	r, err := s.manager.Create(ctx, kind, name, key, byteSize)
	if err != nil {
		return nil, err
	}
	s.regions[tensor] = r
	s.order = append(s.order, tensor)
	if data != nil {
		if err := r.Write(0, data); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Adopt binds a region owned by the caller. ReleaseAll leaves it alone.
func (s *RegionSet) Adopt(tensor string, r *Region) {
	if _, ok := s.regions[tensor]; !ok {
		s.order = append(s.order, tensor)
	}
	s.regions[tensor] = r
	s.precreated[tensor] = true
}

func (s *RegionSet) Get(tensor string) (*Region, bool) {
	r, ok := s.regions[tensor]
	return r, ok
}

func (s *RegionSet) Len() int {
	return len(s.regions)
}

// ReleaseAll releases every region this set created, newest first, and returns the
// joined errors.
func (s *RegionSet) ReleaseAll(ctx context.Context) error {
	var errs []error
	for i := len(s.order) - 1; i >= 0; i-- {
		tensor := s.order[i]
		if s.precreated[tensor] {
			continue
		}
		if err := s.manager.Release(ctx, s.regions[tensor]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

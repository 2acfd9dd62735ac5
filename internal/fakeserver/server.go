// Package fakeserver is an in-process inference server implementing the addsub,
// identity and shape tensor models over gRPC and HTTP, with system and device
// shared memory.
package fakeserver

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	ServerName     = "predator-qa-server"
	ServerVersion  = "1.0.0"
	defaultVersion = "1"
)

type Server struct {
	swapped  map[string]bool
	reshapes map[string][][]int64
	regions  *regionRegistry
	served   atomic.Int64
}

type Option func(*Server)

// WithSwappedModels marks addsub models whose OUTPUT0 is the difference and OUTPUT1
// the sum.
func WithSwappedModels(names ...string) Option {
	return func(s *Server) {
		for _, n := range names {
			s.swapped[n] = true
		}
	}
}

// WithOutputShapes makes identity model name reshape the slot of OUTPUTn to
// shapes[n]. For shape tensor models shapes[n] replaces the slot shape of
// DUMMY_OUTPUTn.
func WithOutputShapes(name string, shapes [][]int64) Option {
	return func(s *Server) {
		s.reshapes[name] = shapes
	}
}

// WithDeviceResolver enables device shared memory.
func WithDeviceResolver(r DeviceResolver) Option {
	return func(s *Server) {
		s.regions.devices = r
	}
}

func New(opts ...Option) *Server {
	s := &Server{
		swapped:  make(map[string]bool),
		reshapes: make(map[string][][]int64),
		regions:  newRegionRegistry(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Served is the number of successful inferences.
func (s *Server) Served() int64 {
	return s.served.Load()
}

// RegisteredRegions is the number of shared memory regions currently registered.
func (s *Server) RegisteredRegions() int {
	return s.regions.count()
}

// Close unmaps every registered region.
func (s *Server) Close() error {
	if err := s.regions.close(); err != nil {
		log.Warn().Err(err).Msg("failed to release shared memory regions")
		return err
	}
	return nil
}

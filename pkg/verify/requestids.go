package verify

import (
	"sync"

	"github.com/emirpasic/gods/sets/hashset"
)

// RequestIDSet remembers request ids returned by the server. It is safe for
// concurrent use.
type RequestIDSet struct {
	set     *hashset.Set
	rwMutex sync.RWMutex
}

func NewRequestIDSet() *RequestIDSet {
	return &RequestIDSet{set: hashset.New()}
}

// Add records id and reports whether it was new.
func (s *RequestIDSet) Add(id string) bool {
	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()
	if s.set.Contains(id) {
		return false
	}
	s.set.Add(id)
	return true
}

func (s *RequestIDSet) Contains(id string) bool {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()
	return s.set.Contains(id)
}

func (s *RequestIDSet) Len() int {
	s.rwMutex.RLock()
	defer s.rwMutex.RUnlock()
	return s.set.Size()
}

func (s *RequestIDSet) Clear() {
	s.rwMutex.Lock()
	defer s.rwMutex.Unlock()
	s.set.Clear()
}

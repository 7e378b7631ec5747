package echoserver

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Records is a thread-safe, insertion ordered in-memory collection with
// deterministic ids of the form "{prefix}_{counter}".
type Records[T any] struct {
	mu      sync.RWMutex
	items   map[string]T
	order   []string
	prefix  string
	counter atomic.Uint64
}

// NewRecords creates an empty collection.
func NewRecords[T any](prefix string) *Records[T] {
	return &Records[T]{items: make(map[string]T), prefix: prefix}
}

// NextID returns a new id, e.g. "usr_000001".
func (s *Records[T]) NextID() string {
	return fmt.Sprintf("%s_%06d", s.prefix, s.counter.Add(1))
}

// Set stores item under id, keeping the position of an existing id.
func (s *Records[T]) Set(id string, item T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		s.order = append(s.order, id)
	}
	s.items[id] = item
}

// Get returns the item stored under id.
func (s *Records[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	return item, ok
}

// Delete removes id and reports whether it existed.
func (s *Records[T]) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return false
	}
	delete(s.items, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return true
}

// List returns all items in insertion order.
func (s *Records[T]) List() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]T, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out
}

// Reset removes all items and restarts the id counter.
func (s *Records[T]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]T)
	s.order = nil
	s.counter.Store(0)
}

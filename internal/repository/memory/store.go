// Package memory provides a generic thread-safe in-memory key-value store
// used by repository adapters. Iteration follows insertion order so
// listings and first-match lookups are deterministic.
package memory

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Store when the requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is a generic thread-safe in-memory key-value store.
type Store[V any] struct {
	mu      sync.RWMutex
	data    map[string]V
	order   []string
	keyFunc func(V) string
}

// New creates a Store with a key extractor function.
func New[V any](keyFunc func(V) string) *Store[V] {
	return &Store[V]{
		data:    make(map[string]V),
		keyFunc: keyFunc,
	}
}

// Set inserts or replaces the value, using keyFunc to derive the key.
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keyFunc(v)
	if _, ok := s.data[key]; !ok {
		s.order = append(s.order, key)
	}
	s.data[key] = v
	return nil
}

// Get returns the value for key, or ErrNotFound if absent.
func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes the value for key. Returns ErrNotFound if absent.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// All returns all stored values in insertion order.
func (s *Store[V]) All(_ context.Context) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.data))
	for _, k := range s.order {
		out = append(out, s.data[k])
	}
	return out, nil
}

// Filter returns the values for which pred returns true, in insertion order.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, k := range s.order {
		if v := s.data[k]; pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Has reports whether the key exists.
func (s *Store[V]) Has(_ context.Context, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Len returns the number of stored values.
func (s *Store[V]) Len(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

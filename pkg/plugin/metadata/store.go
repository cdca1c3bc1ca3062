// Package metadata caches what plugins declare about themselves: schemas,
// views, capabilities and icons. Entries are written when a plugin loads and
// removed when it unloads.
package metadata

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Store is a concurrent map keyed by plugin id. Writers copy the map and
// swap it in, so readers never take a lock and never see a half-written
// entry.
type Store[T any] struct {
	mu      sync.Mutex // serializes writers
	entries atomic.Pointer[map[string]T]
}

// NewStore returns an empty store.
func NewStore[T any]() *Store[T] {
	s := &Store[T]{}
	empty := map[string]T{}
	s.entries.Store(&empty)
	return s
}

func (s *Store[T]) snapshot() map[string]T {
	if p := s.entries.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Store[T]) update(fn func(map[string]T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.snapshot()
	next := make(map[string]T, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	fn(next)
	s.entries.Store(&next)
}

// AddMetadataFor stores v for pluginID, replacing any previous entry.
func (s *Store[T]) AddMetadataFor(pluginID string, v T) {
	s.update(func(m map[string]T) { m[pluginID] = v })
}

// RemoveMetadataFor drops the entry of pluginID.
func (s *Store[T]) RemoveMetadataFor(pluginID string) {
	s.update(func(m map[string]T) { delete(m, pluginID) })
}

// MetadataFor returns the entry of pluginID.
func (s *Store[T]) MetadataFor(pluginID string) (T, bool) {
	v, ok := s.snapshot()[pluginID]
	return v, ok
}

// Has reports whether pluginID has an entry.
func (s *Store[T]) Has(pluginID string) bool {
	_, ok := s.snapshot()[pluginID]
	return ok
}

// PluginIDs returns the ids with an entry, sorted.
func (s *Store[T]) PluginIDs() []string {
	m := s.snapshot()
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Clear drops every entry.
func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := map[string]T{}
	s.entries.Store(&empty)
}

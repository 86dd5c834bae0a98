package sharded

import "iter"

// Set is a lock-sharded concurrent hash set with the same routing, resize
// and enumeration behavior as Map.
type Set[K comparable] struct {
	m *Map[K, struct{}]
}

// NewSet returns an empty Set.
func NewSet[K comparable](opts ...Option) *Set[K] {
	return &Set[K]{m: New[K, struct{}](opts...)}
}

// Add inserts key and reports whether it was absent.
func (s *Set[K]) Add(key K) bool { return s.m.TryAdd(key, struct{}{}) }

// Remove deletes key and reports whether it was present.
func (s *Set[K]) Remove(key K) bool {
	_, ok := s.m.Remove(key)
	return ok
}

// Contains reports whether key is present.
func (s *Set[K]) Contains(key K) bool { return s.m.Contains(key) }

// Len returns the number of members.
func (s *Set[K]) Len() int { return s.m.Len() }

// Clear removes every member.
func (s *Set[K]) Clear() { s.m.Clear() }

// Shards returns the current shard count.
func (s *Set[K]) Shards() int { return s.m.Shards() }

// All iterates over a per-shard snapshot of the members.
func (s *Set[K]) All() iter.Seq[K] { return s.m.Keys() }

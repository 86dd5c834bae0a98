package store

import (
	"fmt"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/sharded"
)

// DebugConsistencyCheck compares the index with the state table and
// returns one line per divergence. It is not atomic with concurrent
// writers; run it on a quiet store.
func (s *RelayStore[T]) DebugConsistencyCheck() []string {
	var problems []string
	if !s.indexing.Load() {
		if n := s.index.Len(); n > 0 {
			problems = append(problems, fmt.Sprintf("indexing disabled but %d buckets present", n))
		}
		return problems
	}
	for state := range s.states.Values() {
		for _, key := range state.IndexKeys() {
			if key == relay.AllIndexKey {
				continue
			}
			b, ok := s.index.Get(key)
			if !ok || !b.Contains(state) {
				problems = append(problems, fmt.Sprintf("state %s missing from index %s", state.Key(), key))
			}
		}
	}
	for key, b := range s.index.All() {
		for state := range b.All() {
			if !s.isStored(state) {
				problems = append(problems, fmt.Sprintf("index %s holds unstored state %s", key, state.Key()))
			} else if !state.HasIndexKey(key) {
				problems = append(problems, fmt.Sprintf("index %s holds foreign state %s", key, state.Key()))
			}
		}
	}
	return problems
}

// DebugRebuildIndex drops the index and rebuilds it from the state table.
func (s *RelayStore[T]) DebugRebuildIndex() {
	s.index.Clear()
	if !s.indexing.Load() {
		return
	}
	for state := range s.states.Values() {
		s.indexState(state)
		if !s.isStored(state) {
			s.unindexState(state)
		}
	}
}

// DebugCleanupIndex removes index members that are no longer stored or do
// not carry the bucket key, then drops empty buckets. It returns the
// number of members and buckets removed.
func (s *RelayStore[T]) DebugCleanupIndex() int {
	n := 0
	for key, b := range s.index.All() {
		for state := range b.All() {
			if !s.isStored(state) || !state.HasIndexKey(key) {
				if b.Remove(state) {
					n++
				}
			}
		}
		if b.Len() == 0 {
			if _, ok := s.index.RemoveIf(key, func(cur *sharded.Set[*relay.State[T]]) bool {
				return cur == b && cur.Len() == 0
			}); ok {
				n++
			}
		}
	}
	return n
}

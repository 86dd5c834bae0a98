package store

import (
	"iter"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/sharded"
)

// Collection is a live, read-only view of a set of states.
type Collection[T relay.Entity[T]] interface {
	Len() int
	All() iter.Seq[*relay.State[T]]
	Contains(state *relay.State[T]) bool
}

// GetIndexStates returns the states indexed under key. AllIndexKey is
// answered by the state table itself. Unknown keys give an empty
// collection.
func (s *RelayStore[T]) GetIndexStates(key string) (Collection[T], error) {
	if !s.indexing.Load() {
		return nil, ErrIndexingDisabled
	}
	if key == relay.AllIndexKey {
		return stateTable[T]{s}, nil
	}
	b, ok := s.index.Get(key)
	if !ok {
		return emptyCollection[T]{}, nil
	}
	return setCollection[T]{b}, nil
}

// IndexKeys iterates over the materialized index keys.
func (s *RelayStore[T]) IndexKeys() iter.Seq[string] {
	return s.index.Keys()
}

func newBucket[T relay.Entity[T]]() *sharded.Set[*relay.State[T]] {
	return sharded.NewSet[*relay.State[T]]()
}

// indexState adds state to each of its buckets. A bucket can be dropped by
// DebugCleanupIndex between lookup and insert, so the insert is retried
// until it lands in the published bucket.
func (s *RelayStore[T]) indexState(state *relay.State[T]) {
	for _, key := range state.IndexKeys() {
		if key == relay.AllIndexKey {
			continue
		}
		for {
			b, _ := s.index.GetOrAdd(key, newBucket[T])
			b.Add(state)
			if cur, ok := s.index.Get(key); ok && cur == b {
				break
			}
			b.Remove(state)
		}
	}
}

func (s *RelayStore[T]) unindexState(state *relay.State[T]) {
	for _, key := range state.IndexKeys() {
		if key == relay.AllIndexKey {
			continue
		}
		if b, ok := s.index.Get(key); ok {
			b.Remove(state)
		}
	}
}

type stateTable[T relay.Entity[T]] struct{ s *RelayStore[T] }

func (c stateTable[T]) Len() int                       { return c.s.states.Len() }
func (c stateTable[T]) All() iter.Seq[*relay.State[T]] { return c.s.states.Values() }

func (c stateTable[T]) Contains(state *relay.State[T]) bool {
	return c.s.isStored(state)
}

type setCollection[T relay.Entity[T]] struct {
	set *sharded.Set[*relay.State[T]]
}

func (c setCollection[T]) Len() int                            { return c.set.Len() }
func (c setCollection[T]) All() iter.Seq[*relay.State[T]]      { return c.set.All() }
func (c setCollection[T]) Contains(state *relay.State[T]) bool { return c.set.Contains(state) }

type emptyCollection[T relay.Entity[T]] struct{}

func (emptyCollection[T]) Len() int                       { return 0 }
func (emptyCollection[T]) Contains(*relay.State[T]) bool  { return false }
func (emptyCollection[T]) All() iter.Seq[*relay.State[T]] { return func(func(*relay.State[T]) bool) {} }

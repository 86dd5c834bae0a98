// Package store holds the canonical state of every tracked relay of one
// type, together with the secondary indexes used for hierarchy queries.
package store

import (
	"errors"
	"iter"
	"sync/atomic"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/events"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/sharded"
)

// ErrIndexingDisabled is returned by index queries while indexing is off.
var ErrIndexingDisabled = errors.New("store: indexing is disabled")

// Options configures a RelayStore.
type Options struct {
	// Indexing enables the secondary indexes.
	Indexing bool
	// InitialCapacity sizes the state table up front.
	InitialCapacity int
}

// RelayStore is a concurrent table of states keyed by RelayKey plus an
// index from index key to the set of states carrying that key.
//
// There is no store-wide lock. A state is published in the state table
// before it is indexed and unindexed after it is removed, so an index
// bucket may briefly lag the state table; DebugConsistencyCheck reports
// lasting divergence.
type RelayStore[T relay.Entity[T]] struct {
	states   *sharded.Map[string, *relay.State[T]]
	index    *sharded.Map[string, *sharded.Set[*relay.State[T]]]
	indexing atomic.Bool

	// announcing holds states whose Added event is still being delivered.
	announcing *sharded.Map[*relay.State[T], *announcement]

	added      events.List[*relay.State[T]]
	removed    events.List[*relay.State[T]]
	cleared    events.List[struct{}]
	exceptions events.List[error]
}

// New returns an empty store.
func New[T relay.Entity[T]](opts Options) *RelayStore[T] {
	s := &RelayStore[T]{
		states: sharded.New[string, *relay.State[T]](sharded.WithCapacity(opts.InitialCapacity)),
		index:  sharded.New[string, *sharded.Set[*relay.State[T]]](),

		announcing: sharded.New[*relay.State[T], *announcement](),
	}
	s.indexing.Store(opts.Indexing)
	return s
}

// announcement hands a Removed event from a remover to the adder that is
// still announcing the same state.
type announcement struct{ phase atomic.Int32 }

const (
	announcePending int32 = iota
	announceDone
	announceRemoved
)

// OnAdded subscribes to insertions. For any one state, Added is delivered
// before Removed; a state removed before it was announced gets neither.
func (s *RelayStore[T]) OnAdded(fn func(*relay.State[T])) *events.Subscription {
	return s.added.Add(fn)
}

func (s *RelayStore[T]) OnRemoved(fn func(*relay.State[T])) *events.Subscription {
	return s.removed.Add(fn)
}

func (s *RelayStore[T]) OnCleared(fn func()) *events.Subscription {
	return s.cleared.Add(func(struct{}) { fn() })
}

// OnException subscribes to panics recovered from the other handlers.
func (s *RelayStore[T]) OnException(fn func(error)) *events.Subscription {
	return s.exceptions.Add(fn)
}

// Fault passes err to the exception subscribers. A panicking exception
// subscriber is dropped.
func (s *RelayStore[T]) Fault(err error) {
	s.exceptions.Fire(err, nil)
}

// TryAddState inserts state unless its key is already present.
func (s *RelayStore[T]) TryAddState(state *relay.State[T]) bool {
	a := &announcement{}
	s.announcing.Set(state, a)
	defer s.announcing.RemoveIf(state, func(cur *announcement) bool { return cur == a })

	if !s.states.TryAdd(state.Key(), state) {
		return false
	}
	if s.indexing.Load() {
		s.indexState(state)
		if !s.isStored(state) {
			// removed while we were indexing it
			s.unindexState(state)
		}
	}
	if a.phase.Load() == announceRemoved {
		return true
	}
	s.added.Fire(state, s.Fault)
	if !a.phase.CompareAndSwap(announcePending, announceDone) {
		// a remover ran during the Added dispatch and left Removed to us
		s.removed.Fire(state, s.Fault)
	}
	return true
}

// GetState returns the state stored under key.
func (s *RelayStore[T]) GetState(key string) (*relay.State[T], bool) {
	return s.states.Get(key)
}

// Remove deletes the state stored under key.
func (s *RelayStore[T]) Remove(key string) bool {
	state, ok := s.states.Remove(key)
	if ok {
		s.afterRemove(state)
	}
	return ok
}

// RemoveState deletes state if it is still the one stored under its key.
func (s *RelayStore[T]) RemoveState(state *relay.State[T]) bool {
	_, ok := s.states.RemoveIf(state.Key(), func(cur *relay.State[T]) bool { return cur == state })
	if ok {
		s.afterRemove(state)
	}
	return ok
}

// RemoveRelay deletes the state of the entity r describes.
func (s *RelayStore[T]) RemoveRelay(r T) bool {
	return s.Remove(r.Key())
}

// RemoveWhere deletes every state matching pred and returns how many were
// removed. A match is checked again while the state's shard is locked, so a
// state refreshed after the first check survives. pred must not call back
// into the store.
func (s *RelayStore[T]) RemoveWhere(pred func(*relay.State[T]) bool) int {
	n := 0
	for _, state := range s.states.All() {
		if !pred(state) {
			continue
		}
		_, ok := s.states.RemoveIf(state.Key(), func(cur *relay.State[T]) bool {
			return cur == state && pred(cur)
		})
		if ok {
			s.afterRemove(state)
			n++
		}
	}
	return n
}

func (s *RelayStore[T]) afterRemove(state *relay.State[T]) {
	if s.indexing.Load() {
		s.unindexState(state)
	}
	if a, ok := s.announcing.Get(state); ok && a.phase.CompareAndSwap(announcePending, announceRemoved) {
		return
	}
	s.removed.Fire(state, s.Fault)
}

// Clear drops every state and index bucket. Only the Cleared event fires.
func (s *RelayStore[T]) Clear() {
	s.states.Clear()
	s.index.Clear()
	s.cleared.Fire(struct{}{}, s.Fault)
}

// States iterates over every stored state.
func (s *RelayStore[T]) States() iter.Seq[*relay.State[T]] {
	return s.states.Values()
}

// Count returns the number of stored states.
func (s *RelayStore[T]) Count() int { return s.states.Len() }

// IndexCount returns the number of materialized index buckets.
func (s *RelayStore[T]) IndexCount() int { return s.index.Len() }

// Shards returns the shard count of the state table.
func (s *RelayStore[T]) Shards() int { return s.states.Shards() }

// Indexing reports whether the secondary indexes are maintained.
func (s *RelayStore[T]) Indexing() bool { return s.indexing.Load() }

// SetIndexing turns the secondary indexes on or off. Turning them on
// rebuilds them from the state table; turning them off drops them.
func (s *RelayStore[T]) SetIndexing(on bool) {
	if s.indexing.Swap(on) == on {
		return
	}
	if on {
		s.DebugRebuildIndex()
	} else {
		s.index.Clear()
	}
}

func (s *RelayStore[T]) isStored(state *relay.State[T]) bool {
	cur, ok := s.states.Get(state.Key())
	return ok && cur == state
}

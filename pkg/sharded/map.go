package sharded

import (
	"iter"
	"sync/atomic"
)

// Map is a lock-sharded concurrent hash map.
//
// Each key routes to exactly one shard and every operation locks only that
// shard. The shard array grows when the item count reaches N²+N for the
// current shard count N; a resize locks all shards in index order, rehashes
// into a larger array and publishes it with a single atomic store. Operations
// that raced with a resize notice the array changed after locking and retry.
//
// The zero value is not usable; construct with New.
type Map[K comparable, V any] struct {
	table    atomic.Pointer[table[K, V]]
	resizing atomic.Pointer[table[K, V]]
	count    atomic.Int64
	resizes  atomic.Uint64
	hash     func(K) uint64
	minShard int
}

// Option configures a Map.
type Option func(*options)

type options struct {
	capacity int
	hasher   any
}

// WithCapacity sizes the initial shard array so that capacity items fit
// before the first resize.
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithHasher overrides the key hash function. h must be a func(K) uint64
// for the map's key type.
func WithHasher[K comparable](h func(K) uint64) Option {
	return func(o *options) { o.hasher = h }
}

// New returns an empty Map.
func New[K comparable, V any](opts ...Option) *Map[K, V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m := &Map[K, V]{hash: defaultHasher[K]()}
	if h, ok := o.hasher.(func(K) uint64); ok && h != nil {
		m.hash = h
	}
	m.minShard = shardsFor(o.capacity)
	m.table.Store(newTable[K, V](m.minShard, 0))
	return m
}

// lock routes key to its shard and returns the shard locked, together with
// the table it belongs to. The caller must unlock the shard.
func (m *Map[K, V]) lock(key K) (*table[K, V], *shard[K, V]) {
	h := route(m.hash(key))
	for {
		t := m.table.Load()
		s := &t.shards[t.index(h)]
		s.mu.Lock()
		if m.table.Load() == t {
			return t, s
		}
		// resized between load and lock
		s.mu.Unlock()
	}
}

// Get returns the value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	_, s := m.lock(key)
	v, ok := s.items[key]
	s.mu.Unlock()
	return v, ok
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V) (previous V, replaced bool) {
	t, s := m.lock(key)
	previous, replaced = s.items[key]
	s.items[key] = value
	s.mu.Unlock()
	if !replaced {
		m.added(t)
	}
	return previous, replaced
}

// TryAdd stores value only if key is absent. Exactly one of any number of
// concurrent TryAdd calls for the same absent key succeeds.
func (m *Map[K, V]) TryAdd(key K, value V) bool {
	t, s := m.lock(key)
	if _, ok := s.items[key]; ok {
		s.mu.Unlock()
		return false
	}
	s.items[key] = value
	s.mu.Unlock()
	m.added(t)
	return true
}

// GetOrAdd returns the value under key, creating it with create if absent.
// create runs while the shard is locked; it must not touch the map.
func (m *Map[K, V]) GetOrAdd(key K, create func() V) (V, bool) {
	t, s := m.lock(key)
	if v, ok := s.items[key]; ok {
		s.mu.Unlock()
		return v, false
	}
	v := create()
	s.items[key] = v
	s.mu.Unlock()
	m.added(t)
	return v, true
}

// Remove deletes key and returns the value it held.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	_, s := m.lock(key)
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	s.mu.Unlock()
	if ok {
		m.count.Add(-1)
	}
	return v, ok
}

// RemoveIf deletes key only when match reports true for its current value.
// match runs while the shard is locked.
func (m *Map[K, V]) RemoveIf(key K, match func(V) bool) (V, bool) {
	_, s := m.lock(key)
	v, ok := s.items[key]
	if ok && match(v) {
		delete(s.items, key)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		m.count.Add(-1)
	}
	return v, ok
}

// Len returns the number of items. Concurrent writers make it approximate.
func (m *Map[K, V]) Len() int {
	n := m.count.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// Shards returns the current shard count.
func (m *Map[K, V]) Shards() int {
	return len(m.table.Load().shards)
}

// Resizes returns how many times the shard array has grown.
func (m *Map[K, V]) Resizes() uint64 {
	return m.resizes.Load()
}

// Clear removes every item. The shard count is kept.
func (m *Map[K, V]) Clear() {
	t := m.lockCurrent()
	var removed int64
	for i := range t.shards {
		s := &t.shards[i]
		removed += int64(len(s.items))
		s.items = make(map[K]V)
	}
	t.unlockAll()
	m.count.Add(-removed)
}

// Drain removes every item, shard by shard, and calls fn for each removed
// pair after the shard has been released. Items added to an already drained
// shard stay in the map. It returns the number of items drained.
func (m *Map[K, V]) Drain(fn func(K, V)) int {
	t := m.table.Load()
	var buf []entry[K, V]
	total := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		if m.table.Load() != t {
			// resized under us: continue on the new array
			s.mu.Unlock()
			return total + m.Drain(fn)
		}
		items := s.items
		s.items = make(map[K]V, len(items)/2)
		s.mu.Unlock()
		m.count.Add(-int64(len(items)))
		buf = buf[:0]
		for k, v := range items {
			buf = append(buf, entry[K, V]{k, v})
		}
		for _, e := range buf {
			fn(e.key, e.value)
		}
		total += len(buf)
	}
	return total
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// All iterates over a per-shard snapshot of the map. Each shard is copied
// into a scratch buffer under its lock and yielded after the lock is
// released, so the callback may freely call back into the map. Items added
// or removed during iteration may or may not be seen.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		t := m.table.Load()
		var buf []entry[K, V]
		for i := range t.shards {
			s := &t.shards[i]
			buf = buf[:0]
			s.mu.Lock()
			for k, v := range s.items {
				buf = append(buf, entry[K, V]{k, v})
			}
			s.mu.Unlock()
			for _, e := range buf {
				if !yield(e.key, e.value) {
					return
				}
			}
		}
	}
}

// Keys iterates over the keys of the map, with the semantics of All.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values iterates over the values of the map, with the semantics of All.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// added bumps the item count and starts a resize when t crossed its
// threshold.
func (m *Map[K, V]) added(t *table[K, V]) {
	if m.count.Add(1) >= t.threshold {
		m.grow(t)
	}
}

// lockCurrent locks every shard of the published table and returns it.
func (m *Map[K, V]) lockCurrent() *table[K, V] {
	for {
		t := m.table.Load()
		t.lockAll()
		if m.table.Load() == t {
			return t
		}
		t.unlockAll()
	}
}

// grow replaces t with a larger table. Only one grow runs per table; losers
// return immediately and their items are rehashed by the winner.
func (m *Map[K, V]) grow(t *table[K, V]) {
	if !m.resizing.CompareAndSwap(nil, t) {
		return
	}
	defer m.resizing.Store(nil)
	if m.table.Load() != t {
		return
	}

	t.lockAll()
	count := m.count.Load()
	if count < t.threshold {
		// someone else already grew, or items were removed meanwhile
		t.unlockAll()
		return
	}

	n := nextPrime(len(t.shards) * 2)
	nt := newTable[K, V](n, int(count)/n+1)
	for i := range t.shards {
		for k, v := range t.shards[i].items {
			ns := &nt.shards[nt.index(route(m.hash(k)))]
			ns.items[k] = v
		}
	}
	m.table.Store(nt)
	m.resizes.Add(1)
	t.unlockAll()
}

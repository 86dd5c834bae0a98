package sharded

import (
	"hash/maphash"
	"math/bits"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shard is one independent section of a table.
type shard[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// table is an immutable shard array plus the fast-modulo multiplier for its
// length. A table is replaced wholesale on resize, never mutated in shape.
type table[K comparable, V any] struct {
	shards    []shard[K, V]
	mult      uint64
	threshold int64
}

func newTable[K comparable, V any](n int, hint int) *table[K, V] {
	if n < 1 {
		n = 1
	}
	t := &table[K, V]{
		shards:    make([]shard[K, V], n),
		mult:      fastModMultiplier(uint32(n)),
		threshold: int64(n)*int64(n) + int64(n),
	}
	for i := range t.shards {
		t.shards[i].items = make(map[K]V, hint)
	}
	return t
}

// index maps a routed hash onto a shard slot.
func (t *table[K, V]) index(h uint32) int {
	return int(fastMod(h, t.mult, uint32(len(t.shards))))
}

func (t *table[K, V]) lockAll() {
	for i := range t.shards {
		t.shards[i].mu.Lock()
	}
}

func (t *table[K, V]) unlockAll() {
	for i := len(t.shards) - 1; i >= 0; i-- {
		t.shards[i].mu.Unlock()
	}
}

// fastModMultiplier returns the Lemire multiplier for divisor d.
func fastModMultiplier(d uint32) uint64 {
	return ^uint64(0)/uint64(d) + 1
}

// fastMod computes a % d given m = fastModMultiplier(d).
func fastMod(a uint32, m uint64, d uint32) uint32 {
	hi, _ := bits.Mul64(m*uint64(a), uint64(d))
	return uint32(hi)
}

// route folds a 64-bit hash into the 32 bits used for shard selection.
// The rotation mixes the high half in, since maphash and xxhash both put
// good entropy there.
func route(h uint64) uint32 {
	h = bits.RotateLeft64(h, 29)
	return uint32(h ^ (h >> 32))
}

// defaultHasher picks xxhash for string keys and maphash for everything else.
func defaultHasher[K comparable]() func(K) uint64 {
	var zero K
	if _, ok := any(zero).(string); ok {
		return func(k K) uint64 {
			return xxhash.Sum64String(any(k).(string))
		}
	}
	seed := maphash.MakeSeed()
	return func(k K) uint64 {
		return maphash.Comparable(seed, k)
	}
}

// shardsFor returns the capacity-sequence shard count whose resize
// threshold first exceeds capacity.
func shardsFor(capacity int) int {
	if capacity <= 1 {
		return 1
	}
	n := 2
	for n*n+n <= capacity {
		n = nextPrime(n * 2)
	}
	return n
}

// nextPrime returns the smallest prime >= n.
func nextPrime(n int) int {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	for !isPrime(n) {
		n += 2
	}
	return n
}

func isPrime(n int) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := 3; d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

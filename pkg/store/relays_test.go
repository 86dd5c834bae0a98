package store

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

var now = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func huntState(id, world, zone uint32) *relay.State[*relay.HuntRelay] {
	h := &relay.HuntRelay{
		Base:      relay.Base{ID: id, Location: relay.Location{WorldID: world, ZoneID: zone}},
		ActorID:   id,
		CurrentHP: 10,
		MaxHP:     10,
	}
	h.SetHierarchy(1, 1, 1)
	return relay.NewState(h, now)
}

func newStore() *RelayStore[*relay.HuntRelay] {
	return New[*relay.HuntRelay](Options{Indexing: true})
}

func TestTryAddAndQuery(t *testing.T) {
	s := newStore()
	a := huntState(1, 40, 961)
	require.True(t, s.TryAddState(a))
	require.False(t, s.TryAddState(huntState(1, 40, 961)), "duplicate key must be rejected")
	assert.Equal(t, 1, s.Count())

	got, ok := s.GetState(a.Key())
	require.True(t, ok)
	assert.Same(t, a, got)

	world, err := s.GetIndexStates("hunt_world_40")
	require.NoError(t, err)
	assert.Equal(t, 1, world.Len())
	assert.True(t, world.Contains(a))

	all, err := s.GetIndexStates(relay.AllIndexKey)
	require.NoError(t, err)
	assert.Equal(t, 1, all.Len())

	none, err := s.GetIndexStates("hunt_world_999")
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())

	for k := range s.IndexKeys() {
		assert.NotEqual(t, relay.AllIndexKey, k, "all must never be materialized")
	}
}

func TestIndexingDisabled(t *testing.T) {
	s := New[*relay.HuntRelay](Options{})
	s.TryAddState(huntState(1, 40, 961))

	_, err := s.GetIndexStates("hunt_world_40")
	assert.ErrorIs(t, err, ErrIndexingDisabled)
	_, err = s.GetIndexStates(relay.AllIndexKey)
	assert.ErrorIs(t, err, ErrIndexingDisabled)
	assert.Equal(t, 0, s.IndexCount())

	s.SetIndexing(true)
	c, err := s.GetIndexStates("hunt_zone_40_961")
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	assert.Empty(t, s.DebugConsistencyCheck())
}

func TestRemoveVariants(t *testing.T) {
	s := newStore()
	a, b, c := huntState(1, 40, 1), huntState(2, 40, 1), huntState(3, 41, 1)
	for _, st := range []*relay.State[*relay.HuntRelay]{a, b, c} {
		s.TryAddState(st)
	}

	assert.False(t, s.RemoveState(huntState(1, 40, 1)), "a different state under the same key is not removed")
	assert.True(t, s.RemoveState(a))
	assert.True(t, s.RemoveRelay(b.Relay()))
	assert.False(t, s.Remove(b.Key()))

	n := s.RemoveWhere(func(st *relay.State[*relay.HuntRelay]) bool { return st.Relay().WorldID == 41 })
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.DebugConsistencyCheck())

	// buckets outlive their members until cleanup
	assert.Positive(t, s.IndexCount())
	assert.Positive(t, s.DebugCleanupIndex())
	assert.Equal(t, 0, s.IndexCount())
}

func TestClearFiresOnlyCleared(t *testing.T) {
	s := newStore()
	for i := uint32(1); i <= 10; i++ {
		s.TryAddState(huntState(i, 40, 1))
	}
	var removed, cleared int
	s.OnRemoved(func(*relay.State[*relay.HuntRelay]) { removed++ })
	s.OnCleared(func() { cleared++ })

	s.Clear()
	assert.Equal(t, 0, removed)
	assert.Equal(t, 1, cleared)
	assert.Equal(t, 0, s.Count())
	assert.Equal(t, 0, s.IndexCount())
}

func TestHandlerPanicRoutedToExceptions(t *testing.T) {
	s := newStore()
	s.OnAdded(func(*relay.State[*relay.HuntRelay]) { panic("bad handler") })
	added := 0
	s.OnAdded(func(*relay.State[*relay.HuntRelay]) { added++ })
	var faults []error
	s.OnException(func(err error) { faults = append(faults, err) })
	s.OnException(func(error) { panic("bad exception handler") })

	require.True(t, s.TryAddState(huntState(1, 40, 1)))
	assert.Equal(t, 1, added)
	require.Len(t, faults, 1)
	assert.Contains(t, faults[0].Error(), "bad handler")
}

func TestConcurrentAddRemoveKeepsIndexConsistent(t *testing.T) {
	s := newStore()
	var adds atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := uint32(i % 100)
				st := huntState(id+1, uint32(40+g%2), uint32(i%7))
				if s.TryAddState(st) {
					adds.Add(1)
				}
				if i%3 == 0 {
					s.Remove(st.Key())
				}
				if i%50 == 0 {
					s.DebugCleanupIndex()
				}
			}
		}(g)
	}
	wg.Wait()

	problems := s.DebugConsistencyCheck()
	assert.Empty(t, problems, fmt.Sprint(problems))
	assert.Positive(t, adds.Load())
}

func TestRemoveDuringAddedDeliversAddedFirst(t *testing.T) {
	s := newStore()
	s.OnAdded(func(st *relay.State[*relay.HuntRelay]) { s.Remove(st.Key()) })
	var order []string
	s.OnAdded(func(*relay.State[*relay.HuntRelay]) { order = append(order, "added") })
	s.OnRemoved(func(*relay.State[*relay.HuntRelay]) { order = append(order, "removed") })

	require.True(t, s.TryAddState(huntState(1, 40, 1)))
	assert.Equal(t, []string{"added", "removed"}, order)
	assert.Equal(t, 0, s.Count())
}

func TestConcurrentAddRemoveEventOrder(t *testing.T) {
	s := newStore()
	var mu sync.Mutex
	seen := make(map[*relay.State[*relay.HuntRelay]]string)
	var violations []string
	s.OnAdded(func(st *relay.State[*relay.HuntRelay]) {
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen[st]; ok {
			violations = append(violations, "added after "+prev)
		}
		seen[st] = "added"
	})
	s.OnRemoved(func(st *relay.State[*relay.HuntRelay]) {
		mu.Lock()
		defer mu.Unlock()
		if seen[st] != "added" {
			violations = append(violations, "removed before added")
		}
		seen[st] = "removed"
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := huntState(uint32(i%4)+1, 40, 1).Key()
				if g%2 == 0 {
					s.TryAddState(huntState(uint32(i%4)+1, 40, 1))
				} else {
					s.Remove(key)
				}
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, violations)
	live := 0
	for _, v := range seen {
		if v == "added" {
			live++
		}
	}
	assert.Equal(t, s.Count(), live)
}

func TestRemoveWhereSparesRefreshedState(t *testing.T) {
	s := newStore()
	st := huntState(1, 40, 1)
	require.True(t, s.TryAddState(st))
	cutoff := now.Add(time.Minute)

	calls := 0
	n := s.RemoveWhere(func(cur *relay.State[*relay.HuntRelay]) bool {
		stale := cur.LastSeen().Before(cutoff)
		calls++
		if calls == 1 {
			// a merge lands between the scan and the removal
			cur.Observe(st.Relay(), now.Add(time.Hour), 0)
		}
		return stale
	})
	assert.Zero(t, n)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, s.Count())
}

func TestConcurrentInsertExactlyOnce(t *testing.T) {
	s := newStore()
	var wins atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.TryAddState(huntState(7, 40, 1)) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, 1, s.Count())
}

func TestRebuildIndex(t *testing.T) {
	s := newStore()
	for i := uint32(1); i <= 50; i++ {
		s.TryAddState(huntState(i, 40+i%3, i%5))
	}
	before := s.IndexCount()
	s.DebugRebuildIndex()
	assert.Equal(t, before, s.IndexCount())
	assert.Empty(t, s.DebugConsistencyCheck())
}

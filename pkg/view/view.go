// Package view maintains bounded, incrementally refreshed subsets of a
// relay store. A View follows one index bucket through a predicate: store
// and lifecycle events are applied immediately, and a paced scan catches
// up on whatever the events did not cover.
package view

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/events"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

var ErrClosed = errors.New("view: closed")

// Lifecycle is the event surface of a tracker.
type Lifecycle[T relay.Entity[T]] interface {
	OnFound(func(*relay.State[T])) *events.Subscription
	OnUpdated(func(*relay.State[T])) *events.Subscription
	OnDead(func(*relay.State[T])) *events.Subscription
}

type Options[T relay.Entity[T]] struct {
	Name string
	// IndexKey selects the upstream bucket; empty means relay.AllIndexKey.
	IndexKey string
	// Predicate filters the bucket; nil accepts everything.
	Predicate    func(*relay.State[T]) bool
	Rate         ScanRate
	Acceleration Acceleration
	// Limit bounds the number of members; zero means unbounded.
	Limit   int
	Metrics *telemetry.Metrics
}

// Stats describes one tick.
type Stats struct {
	Quota    int
	Accepted int
	Dropped  int
	Level    int
}

// entry is a queue slot. It is live while members maps its state to the
// same ticket; re-adding a state issues a new ticket and orphans old slots.
type entry[T relay.Entity[T]] struct {
	state  *relay.State[T]
	ticket uint64
}

// View is a materialized, predicate-filtered subset of one index bucket.
type View[T relay.Entity[T]] struct {
	name      string
	indexKey  string
	predicate func(*relay.State[T]) bool
	rate      ScanRate
	accel     Acceleration
	limit     int
	metrics   *telemetry.Metrics
	store     *store.RelayStore[T]

	mu      sync.Mutex
	members map[*relay.State[T]]uint64
	fifo    []entry[T]
	ticket  uint64
	level   int
	next    func() (*relay.State[T], bool)
	stop    func()
	closed  bool

	changes atomic.Int64
	subs    []*events.Subscription
}

// New creates a view over st and subscribes it to st and lc. lc may be nil.
func New[T relay.Entity[T]](st *store.RelayStore[T], lc Lifecycle[T], opts Options[T]) *View[T] {
	v := &View[T]{
		name:      opts.Name,
		indexKey:  opts.IndexKey,
		predicate: opts.Predicate,
		rate:      opts.Rate,
		accel:     opts.Acceleration,
		limit:     opts.Limit,
		metrics:   opts.Metrics,
		store:     st,
		members:   make(map[*relay.State[T]]uint64),
	}
	if v.indexKey == "" {
		v.indexKey = relay.AllIndexKey
	}
	if v.name == "" {
		v.name = v.indexKey
	}
	v.subs = append(v.subs,
		st.OnAdded(v.observe),
		st.OnRemoved(v.forget),
		st.OnCleared(v.reset),
	)
	if lc != nil {
		v.subs = append(v.subs,
			lc.OnFound(v.observe),
			lc.OnUpdated(v.observe),
			lc.OnDead(v.observe),
		)
	}
	return v
}

func (v *View[T]) Name() string { return v.name }

// Len returns the number of members.
func (v *View[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.members)
}

// Contains reports whether state is a member.
func (v *View[T]) Contains(state *relay.State[T]) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.members[state]
	return ok
}

// Snapshot copies the members in acceptance order.
func (v *View[T]) Snapshot() []relay.Snapshot[T] {
	v.mu.Lock()
	states := make([]*relay.State[T], 0, len(v.members))
	for _, e := range v.fifo {
		if v.live(e) {
			states = append(states, e.state)
		}
	}
	v.mu.Unlock()

	out := make([]relay.Snapshot[T], len(states))
	for i, s := range states {
		out[i] = s.Snapshot()
	}
	return out
}

// Close unsubscribes the view and releases its scan cursor.
func (v *View[T]) Close() {
	for _, s := range v.subs {
		s.Remove()
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.resetCursor()
	v.members = make(map[*relay.State[T]]uint64)
	v.fifo = nil
}

// Run ticks the view every interval until ctx is done or the view closes.
func (v *View[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		panic("view.View.Run: interval must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := v.Tick(); err != nil {
				return
			}
		}
	}
}

// Tick spends one quota of work: part revalidates existing members, the
// rest scans the upstream bucket for new ones.
func (v *View[T]) Tick() (Stats, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return Stats{}, ErrClosed
	}
	tr := telemetry.Track("view.tick")
	defer tr.Finish()

	total := max(v.upstreamLen(), len(v.members))
	st := Stats{Quota: Quota(total, v.rate, v.accel, v.level)}
	revalidate := min(len(v.members), (st.Quota+1)/2)
	scan := st.Quota - revalidate

	st.Dropped = v.revalidate(revalidate)
	tr.Mark("revalidate")
	st.Accepted = v.scan(scan)
	tr.Mark("scan")

	if v.changes.Swap(0)+int64(st.Accepted+st.Dropped) > 0 {
		v.level = min(v.level+1, MaxLevel)
	} else {
		v.level = 0
	}
	st.Level = v.level
	v.metrics.ViewChange(v.name, "accepted", st.Accepted)
	v.metrics.ViewChange(v.name, "dropped", st.Dropped)
	return st, nil
}

// revalidate checks up to n members from the front of the queue and moves
// the survivors to the back.
func (v *View[T]) revalidate(n int) int {
	dropped := 0
	for checked := 0; checked < n && len(v.fifo) > 0; {
		e := v.fifo[0]
		v.fifo[0] = entry[T]{}
		v.fifo = v.fifo[1:]
		if !v.live(e) {
			// orphaned by an event; not counted against the quota
			continue
		}
		checked++
		if v.accepts(e.state) {
			v.fifo = append(v.fifo, e)
			continue
		}
		delete(v.members, e.state)
		dropped++
	}
	return dropped
}

// scan pulls up to n candidates from the bucket cursor, wrapping around
// at most once per tick.
func (v *View[T]) scan(n int) int {
	accepted := 0
	wrapped := false
	for i := 0; i < n; i++ {
		if v.limit > 0 && len(v.members) >= v.limit {
			break
		}
		if v.next == nil {
			v.openCursor()
		}
		s, ok := v.next()
		if !ok {
			v.resetCursor()
			if wrapped {
				break
			}
			wrapped = true
			i--
			continue
		}
		if _, ok := v.members[s]; ok {
			continue
		}
		if v.accepts(s) {
			v.add(s)
			accepted++
		}
	}
	return accepted
}

func (v *View[T]) openCursor() {
	v.next, v.stop = iter.Pull(v.upstream())
}

func (v *View[T]) resetCursor() {
	if v.stop != nil {
		v.stop()
	}
	v.next, v.stop = nil, nil
}

// upstream enumerates the bucket. Without indexing it filters the state
// table by index key instead.
func (v *View[T]) upstream() iter.Seq[*relay.State[T]] {
	if c, err := v.store.GetIndexStates(v.indexKey); err == nil {
		return c.All()
	}
	key := v.indexKey
	return func(yield func(*relay.State[T]) bool) {
		for s := range v.store.States() {
			if key == relay.AllIndexKey || s.HasIndexKey(key) {
				if !yield(s) {
					return
				}
			}
		}
	}
}

func (v *View[T]) upstreamLen() int {
	if c, err := v.store.GetIndexStates(v.indexKey); err == nil {
		return c.Len()
	}
	return v.store.Count()
}

// accepts reports whether s belongs in the view right now.
func (v *View[T]) accepts(s *relay.State[T]) bool {
	if v.indexKey != relay.AllIndexKey && !s.HasIndexKey(v.indexKey) {
		return false
	}
	if cur, ok := v.store.GetState(s.Key()); !ok || cur != s {
		return false
	}
	return v.test(s)
}

// test runs the predicate; a panic counts as rejection.
func (v *View[T]) test(s *relay.State[T]) (ok bool) {
	if v.predicate == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("view_predicate_panic", "view", v.name, "key", s.Key(), "error", r)
			v.metrics.Panic("view")
			ok = false
		}
	}()
	return v.predicate(s)
}

func (v *View[T]) add(s *relay.State[T]) {
	v.ticket++
	v.members[s] = v.ticket
	v.fifo = append(v.fifo, entry[T]{state: s, ticket: v.ticket})
	v.compact()
}

// compactSlack is how many orphaned slots the queue may carry beyond twice
// the member count before it is rewritten.
const compactSlack = 64

// compact drops orphaned slots once they outnumber the live ones, so the
// queue stays proportional to members even when no tick revalidates.
func (v *View[T]) compact() {
	if len(v.fifo) <= 2*len(v.members)+compactSlack {
		return
	}
	live := v.fifo[:0]
	for _, e := range v.fifo {
		if v.live(e) {
			live = append(live, e)
		}
	}
	clear(v.fifo[len(live):])
	v.fifo = live
}

func (v *View[T]) live(e entry[T]) bool {
	t, ok := v.members[e.state]
	return ok && t == e.ticket
}

// observe applies an upstream change to s immediately.
func (v *View[T]) observe(s *relay.State[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.changes.Add(1)
	_, member := v.members[s]
	ok := v.accepts(s)
	switch {
	case ok && !member:
		if v.limit == 0 || len(v.members) < v.limit {
			v.add(s)
		}
	case !ok && member:
		delete(v.members, s)
		v.compact()
	}
}

func (v *View[T]) forget(s *relay.State[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.members[s]; ok {
		delete(v.members, s)
		v.changes.Add(1)
		v.compact()
	}
}

func (v *View[T]) reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.members = make(map[*relay.State[T]]uint64)
	v.fifo = nil
	v.level = 0
	v.changes.Store(0)
	v.resetCursor()
}

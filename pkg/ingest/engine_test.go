package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/contribute"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

const (
	zoneField     = 961
	zoneSanctuary = 1044
)

func testCatalog() *catalog.Static {
	return catalog.NewStatic(
		[]catalog.World{
			{ID: 40, DatacenterID: 4, RegionID: 2, AudienceID: 1},
			{ID: 41, DatacenterID: 4, RegionID: 2, AudienceID: 1},
			{ID: 70, DatacenterID: 7, RegionID: 2, AudienceID: 1},
		},
		[]catalog.Zone{{ID: zoneField}, {ID: zoneSanctuary, LocalOnly: true}},
	)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	connected atomic.Bool
	mu        sync.Mutex
	batches   [][]relay.Relay
}

func (s *fakeSender) Connected() bool { return s.connected.Load() }

func (s *fakeSender) SendBatch(_ context.Context, b []relay.Relay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, b)
	return nil
}

type counter struct {
	found, updated, dead, all atomic.Int64
}

func (c *counter) watch(tr *Tracker[*relay.HuntRelay]) {
	tr.OnFound(func(*relay.State[*relay.HuntRelay]) { c.found.Add(1) })
	tr.OnUpdated(func(*relay.State[*relay.HuntRelay]) { c.updated.Add(1) })
	tr.OnDead(func(*relay.State[*relay.HuntRelay]) { c.dead.Add(1) })
	tr.OnAll(func(*relay.State[*relay.HuntRelay]) { c.all.Add(1) })
}

func newEngine(t *testing.T, mutate func(*Options)) (*Engine, *clock, *counter) {
	t.Helper()
	clk := newClock()
	opts := Options{
		Catalog:         testCatalog(),
		Jurisdiction:    jurisdiction.Fixed(jurisdiction.World),
		Now:             clk.Now,
		Grace:           5 * time.Second,
		Home:            relay.Location{WorldID: 40, ZoneID: zoneField},
		HandlersEnabled: true,
		Indexing:        true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	e := New(opts)
	c := &counter{}
	c.watch(e.Hunts)
	return e, clk, c
}

func hunt(world uint32, actor, hp uint32) *relay.HuntRelay {
	return &relay.HuntRelay{
		Base:      relay.Base{ID: 4375, Location: relay.Location{WorldID: world, ZoneID: zoneField}},
		ActorID:   actor,
		CurrentHP: hp,
		MaxHP:     100,
	}
}

func TestFeedIdempotent(t *testing.T) {
	e, clk, c := newEngine(t, nil)
	require.True(t, e.Feed(hunt(40, 1, 100)))
	clk.Advance(time.Second)
	require.True(t, e.Feed(hunt(40, 1, 100)))

	assert.EqualValues(t, 1, c.found.Load())
	assert.EqualValues(t, 0, c.updated.Load())
	assert.Equal(t, 1, e.Hunts.Store().Count())
}

func TestFeedLifecycle(t *testing.T) {
	e, clk, c := newEngine(t, nil)
	e.Feed(hunt(40, 1, 100))
	clk.Advance(10 * time.Second)
	e.Feed(hunt(40, 1, 60))
	clk.Advance(10 * time.Second)
	e.Feed(hunt(40, 1, 0))
	clk.Advance(10 * time.Second)
	// dead report again from a late observer
	require.True(t, e.Feed(hunt(40, 1, 0)))
	clk.Advance(10 * time.Second)
	e.Feed(hunt(40, 2, 100))

	assert.EqualValues(t, 2, c.found.Load())
	assert.EqualValues(t, 1, c.updated.Load())
	assert.EqualValues(t, 1, c.dead.Load())
	assert.EqualValues(t, 4, c.all.Load())

	snap, ok := e.StateInfo(relay.TypeHunt, hunt(40, 2, 100).Key())
	require.True(t, ok)
	assert.Equal(t, relay.StatusFound, snap.Status)
	assert.Equal(t, uint32(4), snap.Relay.Place().DatacenterID, "hierarchy resolved from catalog")
}

func TestConcurrentFeedInsertsOnce(t *testing.T) {
	e, _, c := newEngine(t, nil)
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Feed(hunt(40, 1, 100))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, c.found.Load())
	assert.EqualValues(t, 0, c.updated.Load())
	assert.Equal(t, 1, e.Hunts.Store().Count())
}

func TestJurisdictionGating(t *testing.T) {
	e, _, c := newEngine(t, nil)
	far := hunt(70, 1, 100)

	assert.False(t, e.FeedRemote(far))
	assert.Equal(t, 0, e.Hunts.Store().Count())
	assert.EqualValues(t, 0, c.all.Load())

	e.SetTrackAll(true)
	require.True(t, e.Feed(far))
	assert.Equal(t, 1, e.Hunts.Store().Count())
	// tracked but outside the dispatch jurisdiction
	assert.EqualValues(t, 0, c.found.Load())
	assert.EqualValues(t, 1, c.all.Load())

	require.True(t, e.FeedRemote(hunt(70, 2, 100)))
	assert.EqualValues(t, 0, c.found.Load())

	e.SetAlwaysDispatch(true)
	require.True(t, e.FeedRemote(hunt(70, 3, 100)))
	assert.EqualValues(t, 1, c.found.Load())
}

func TestHandlersDisabledStillFiresAll(t *testing.T) {
	e, _, c := newEngine(t, func(o *Options) { o.HandlersEnabled = false })
	require.True(t, e.Feed(hunt(40, 1, 100)))
	assert.EqualValues(t, 0, c.found.Load())
	assert.EqualValues(t, 1, c.all.Load())
}

func TestContributionQueue(t *testing.T) {
	sender := &fakeSender{}
	sender.connected.Store(true)
	e, _, c := newEngine(t, func(o *Options) {
		o.Sender = sender
		o.Contribute = true
	})

	require.True(t, e.Feed(hunt(40, 1, 100)))
	require.True(t, e.Feed(hunt(40, 1, 90)))
	assert.Equal(t, 0, e.Hunts.Store().Count(), "contributed data is not applied locally")
	assert.Equal(t, 1, e.Pending())

	local := &relay.HuntRelay{Base: relay.Base{ID: 9, Location: relay.Location{WorldID: 40, ZoneID: zoneSanctuary}}, CurrentHP: 1, MaxHP: 1}
	require.True(t, e.Feed(local))
	assert.Equal(t, 1, e.Hunts.Store().Count(), "local-only zones stay local")

	n, err := e.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sender.batches, 1)
	assert.Equal(t, uint32(90), sender.batches[0][0].(*relay.HuntRelay).CurrentHP)
	assert.EqualValues(t, 1, c.found.Load())

	sender.connected.Store(false)
	require.True(t, e.Feed(hunt(40, 5, 100)))
	assert.Equal(t, 2, e.Hunts.Store().Count(), "disconnected engine processes locally")
	n, err = e.Tick(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestTickDropsWhenDisconnected(t *testing.T) {
	sender := &fakeSender{}
	sender.connected.Store(true)
	e, _, _ := newEngine(t, func(o *Options) {
		o.Sender = sender
		o.Contribute = true
	})
	e.Feed(hunt(40, 1, 100))
	sender.connected.Store(false)
	_, err := e.Tick(context.Background())
	assert.True(t, errors.Is(err, contribute.ErrNotConnected))
	assert.Equal(t, 0, e.Pending())
}

func TestRejectInvalid(t *testing.T) {
	e, _, c := newEngine(t, nil)
	var nilHunt *relay.HuntRelay
	assert.False(t, e.Feed(nilHunt))
	assert.False(t, e.Feed(&relay.HuntRelay{Base: relay.Base{ID: 1, Location: relay.Location{WorldID: 40, ZoneID: 5}}}))
	assert.False(t, e.Feed(&relay.HuntRelay{Base: relay.Base{ID: 1, Location: relay.Location{WorldID: 99, ZoneID: zoneField}}}))
	assert.False(t, e.Feed(&relay.HuntRelay{Base: relay.Base{Location: relay.Location{WorldID: 40, ZoneID: zoneField}}}))
	assert.Equal(t, 0, e.Hunts.Store().Count())
	assert.EqualValues(t, 0, c.all.Load())
}

func TestStaleRemoteDiscarded(t *testing.T) {
	e, clk, _ := newEngine(t, nil)
	now := clk.Now()
	require.True(t, e.FeedRemoteAt(hunt(40, 1, 50), now))
	assert.False(t, e.FeedRemoteAt(hunt(40, 1, 80), now.Add(-time.Second)))

	snap, _ := e.StateInfo(relay.TypeHunt, hunt(40, 1, 0).Key())
	assert.Equal(t, uint32(50), snap.Relay.(*relay.HuntRelay).CurrentHP)
}

func TestHandlerPanicIsolated(t *testing.T) {
	e, _, c := newEngine(t, nil)
	e.Hunts.OnFound(func(*relay.State[*relay.HuntRelay]) { panic("bad subscriber") })
	var faults atomic.Int64
	e.Hunts.Store().OnException(func(error) { faults.Add(1) })

	require.True(t, e.Feed(hunt(40, 1, 100)))
	assert.EqualValues(t, 1, c.found.Load())
	assert.EqualValues(t, 1, faults.Load())
}

func TestFeedManyMixedTypes(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	fate := &relay.FateRelay{Base: relay.Base{ID: 3, Location: relay.Location{WorldID: 40, ZoneID: zoneField}}, Status: relay.FateRunning}
	n := e.FeedMany([]relay.Relay{hunt(40, 1, 100), fate})
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, e.Fates.Store().Count())

	n = e.FeedRemoteMany([]relay.Relay{hunt(70, 1, 100)})
	assert.Zero(t, n)
}

func TestIntake(t *testing.T) {
	e, _, _ := newEngine(t, nil)
	q := NewIntake(e, 4)
	for i := range 4 {
		require.NoError(t, q.Enqueue(Item{Relay: hunt(40, uint32(i+1), 100), Remote: true}))
	}
	assert.ErrorIs(t, q.Enqueue(Item{Relay: hunt(40, 9, 100)}), ErrQueueFull)
	assert.EqualValues(t, 1, q.Dropped())

	q.Start(2)
	q.Close()
	assert.ErrorIs(t, q.Enqueue(Item{Relay: hunt(40, 1, 100)}), ErrQueueClosed)
	assert.EqualValues(t, 4, q.Accepted())
	assert.Equal(t, 1, e.Hunts.Store().Count(), "all four observations share one key")
}

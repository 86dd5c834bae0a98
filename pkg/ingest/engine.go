// Package ingest turns raw relay observations into canonical states. It
// validates each observation, routes local ones upstream while
// contributing, filters network ones by jurisdiction, merges them into the
// per-type stores and fans out lifecycle events.
package ingest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/contribute"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

// Options configures an Engine. Catalog and Jurisdiction are required.
type Options struct {
	Catalog      catalog.Catalog
	Jurisdiction jurisdiction.Resolver
	// Sender receives the outbound batch on every Tick. Nil means never
	// connected.
	Sender  contribute.Sender
	Metrics *telemetry.Metrics
	// Now is the clock used to stamp observations.
	Now func() time.Time
	// Grace is the window within which an unchanged observation is not
	// re-applied.
	Grace time.Duration
	Home  relay.Location

	Contribute      bool
	TrackAll        bool
	AlwaysDispatch  bool
	HandlersEnabled bool
	LocalOnlyZones  []uint32

	Indexing        bool
	InitialCapacity int
}

// env is the configuration shared by both trackers. Toggles are atomics so
// the engine can be reconfigured while feeding.
type env struct {
	catalog  catalog.Catalog
	resolver jurisdiction.Resolver
	sender   contribute.Sender
	queue    *contribute.Queue
	metrics  *telemetry.Metrics
	now      func() time.Time
	grace    time.Duration
	local    localOnly

	homePlace       atomic.Pointer[relay.Location]
	contribute      atomic.Bool
	trackAll        atomic.Bool
	alwaysDispatch  atomic.Bool
	handlersEnabled atomic.Bool
}

func (e *env) home() relay.Location { return *e.homePlace.Load() }

func (e *env) contributing() bool {
	return e.contribute.Load() && e.sender.Connected()
}

func (e *env) isLocalOnly(z catalog.Zone) bool {
	return z.LocalOnly || e.local.contains(z.ID)
}

// Engine holds the hunt and fate trackers and the outbound queue they
// share.
type Engine struct {
	Hunts *Tracker[*relay.HuntRelay]
	Fates *Tracker[*relay.FateRelay]

	env *env
}

// New builds an Engine.
func New(opts Options) *Engine {
	if opts.Catalog == nil || opts.Jurisdiction == nil {
		panic("ingest.New: catalog and jurisdiction are required; ensure the app wired its collaborators")
	}
	e := &env{
		catalog:  opts.Catalog,
		resolver: opts.Jurisdiction,
		sender:   opts.Sender,
		queue:    contribute.NewQueue(),
		metrics:  opts.Metrics,
		now:      opts.Now,
		grace:    opts.Grace,
		local:    localOnly(opts.LocalOnlyZones),
	}
	if e.sender == nil {
		e.sender = contribute.Discard{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	home := opts.Home
	e.homePlace.Store(&home)
	e.contribute.Store(opts.Contribute)
	e.trackAll.Store(opts.TrackAll)
	e.alwaysDispatch.Store(opts.AlwaysDispatch)
	e.handlersEnabled.Store(opts.HandlersEnabled)

	so := store.Options{Indexing: opts.Indexing, InitialCapacity: opts.InitialCapacity}
	return &Engine{
		Hunts: newTracker[*relay.HuntRelay](relay.TypeHunt, e, so),
		Fates: newTracker[*relay.FateRelay](relay.TypeFate, e, so),
		env:   e,
	}
}

// Feed processes a local observation of any supported type.
func (e *Engine) Feed(r relay.Relay) bool {
	switch v := r.(type) {
	case *relay.HuntRelay:
		return e.Hunts.Feed(v)
	case *relay.FateRelay:
		return e.Fates.Feed(v)
	}
	return false
}

// FeedMany feeds every relay and returns how many were accepted.
func (e *Engine) FeedMany(rs []relay.Relay) int {
	n := 0
	for _, r := range rs {
		if e.Feed(r) {
			n++
		}
	}
	return n
}

// FeedRemote processes a network observation of any supported type.
func (e *Engine) FeedRemote(r relay.Relay) bool {
	return e.FeedRemoteAt(r, time.Time{})
}

// FeedRemoteAt is FeedRemote with the peer's observation time. A zero
// seen means now.
func (e *Engine) FeedRemoteAt(r relay.Relay, seen time.Time) bool {
	if seen.IsZero() {
		seen = e.env.now()
	}
	switch v := r.(type) {
	case *relay.HuntRelay:
		return e.Hunts.FeedRemoteAt(v, seen)
	case *relay.FateRelay:
		return e.Fates.FeedRemoteAt(v, seen)
	}
	return false
}

// FeedRemoteMany feeds every network relay and returns how many were
// accepted.
func (e *Engine) FeedRemoteMany(rs []relay.Relay) int {
	n := 0
	for _, r := range rs {
		if e.FeedRemote(r) {
			n++
		}
	}
	return n
}

// Tick flushes the outbound queue to the sender. When the sender is not
// connected the batch is dropped and contribute.ErrNotConnected returned.
func (e *Engine) Tick(ctx context.Context) (int, error) {
	batch := e.env.queue.Flush()
	if len(batch) == 0 {
		return 0, nil
	}
	if !e.env.sender.Connected() {
		e.env.metrics.Contribution("dropped", len(batch))
		return 0, contribute.ErrNotConnected
	}
	if err := e.env.sender.SendBatch(ctx, batch); err != nil {
		e.env.metrics.Contribution("failed", len(batch))
		return 0, err
	}
	e.env.metrics.Contribution("sent", len(batch))
	return len(batch), nil
}

// Run calls Tick every interval until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		panic("ingest.Engine.Run: interval must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr := telemetry.Track("ingest.tick")
			n, err := e.Tick(ctx)
			tr.Set("sent", uint64(n))
			tr.Finish()
			if err != nil && !errors.Is(err, contribute.ErrNotConnected) {
				logger.Warn("contribute_failed", "error", err)
			}
		}
	}
}

// Pending returns the number of relays waiting for the next Tick.
func (e *Engine) Pending() int { return e.env.queue.Len() }

func (e *Engine) SetHome(loc relay.Location) { e.env.homePlace.Store(&loc) }
func (e *Engine) Home() relay.Location       { return e.env.home() }
func (e *Engine) SetContribute(on bool)      { e.env.contribute.Store(on) }
func (e *Engine) SetTrackAll(on bool)        { e.env.trackAll.Store(on) }
func (e *Engine) SetAlwaysDispatch(on bool)  { e.env.alwaysDispatch.Store(on) }
func (e *Engine) SetHandlersEnabled(on bool) { e.env.handlersEnabled.Store(on) }

// Contributing reports whether local observations currently go upstream.
func (e *Engine) Contributing() bool { return e.env.contributing() }

// StateInfo looks up a state by type and key without exposing the
// generic store.
func (e *Engine) StateInfo(t relay.Type, key string) (relay.Snapshot[relay.Relay], bool) {
	switch t {
	case relay.TypeHunt:
		if s, ok := e.Hunts.store.GetState(key); ok {
			return s.Info(), true
		}
	case relay.TypeFate:
		if s, ok := e.Fates.store.GetState(key); ok {
			return s.Info(), true
		}
	}
	return relay.Snapshot[relay.Relay]{}, false
}

package ingest

import (
	"slices"
	"time"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/events"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/store"
)

// maxInsertAttempts bounds the lookup-or-create loop. Losing an insert race
// normally costs one extra lookup; more attempts mean a concurrent remover.
const maxInsertAttempts = 4

// EventKind is the lifecycle event an accepted observation produced.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventFound
	EventUpdated
	EventDead
)

func (k EventKind) String() string {
	switch k {
	case EventFound:
		return "found"
	case EventUpdated:
		return "updated"
	case EventDead:
		return "dead"
	default:
		return "none"
	}
}

// Outcome labels the result of one feed for metrics.
type Outcome string

const (
	OutcomeAccepted     Outcome = "accepted"
	OutcomeSimilar      Outcome = "similar"
	OutcomeQueued       Outcome = "queued"
	OutcomeStale        Outcome = "stale"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeJurisdiction Outcome = "jurisdiction"
	OutcomeContended    Outcome = "contended"
)

// Tracker runs the merge protocol for one relay type over its store and
// fans out lifecycle events.
type Tracker[T relay.Entity[T]] struct {
	typ   relay.Type
	store *store.RelayStore[T]
	env   *env

	found   events.List[*relay.State[T]]
	updated events.List[*relay.State[T]]
	dead    events.List[*relay.State[T]]
	all     events.List[*relay.State[T]]
}

func newTracker[T relay.Entity[T]](typ relay.Type, e *env, opts store.Options) *Tracker[T] {
	return &Tracker[T]{typ: typ, store: store.New[T](opts), env: e}
}

// Store returns the tracker's state store.
func (t *Tracker[T]) Store() *store.RelayStore[T] { return t.store }

// Type returns the relay type the tracker handles.
func (t *Tracker[T]) Type() relay.Type { return t.typ }

func (t *Tracker[T]) OnFound(fn func(*relay.State[T])) *events.Subscription {
	return t.found.Add(fn)
}

func (t *Tracker[T]) OnUpdated(fn func(*relay.State[T])) *events.Subscription {
	return t.updated.Add(fn)
}

func (t *Tracker[T]) OnDead(fn func(*relay.State[T])) *events.Subscription {
	return t.dead.Add(fn)
}

// OnAll fires after every dispatched observation, regardless of the
// handler and jurisdiction gates.
func (t *Tracker[T]) OnAll(fn func(*relay.State[T])) *events.Subscription {
	return t.all.Add(fn)
}

// Feed processes a local observation seen now.
func (t *Tracker[T]) Feed(r T) bool {
	ok, _ := t.feed(r, t.env.now(), false)
	return ok
}

// FeedRemote processes an observation received from the network, seen now.
func (t *Tracker[T]) FeedRemote(r T) bool {
	ok, _ := t.feed(r, t.env.now(), true)
	return ok
}

// FeedRemoteAt processes a network observation stamped with the time the
// peer saw it.
func (t *Tracker[T]) FeedRemoteAt(r T, seen time.Time) bool {
	ok, _ := t.feed(r, seen, true)
	return ok
}

func (t *Tracker[T]) feed(r T, seen time.Time, remote bool) (accepted bool, outcome Outcome) {
	source := "local"
	if remote {
		source = "remote"
	}
	defer func() { t.env.metrics.Feed(t.typ.String(), source, string(outcome)) }()

	r, zone, ok := t.validate(r)
	if !ok {
		return false, OutcomeInvalid
	}

	if !remote && !t.env.isLocalOnly(zone) && t.env.contributing() {
		// authoritative once it comes back from the network
		t.env.queue.Push(r)
		return true, OutcomeQueued
	}

	if remote && !t.env.trackAll.Load() {
		lvl := t.env.resolver.Jurisdiction(t.typ, r.RelayID(), false)
		if !jurisdiction.IsWithin(r, lvl, t.env.home(), t.env.catalog) {
			return false, OutcomeJurisdiction
		}
	}

	for range maxInsertAttempts {
		state, ok := t.store.GetState(r.Key())
		if !ok {
			state = relay.NewState(r, seen)
			if !t.store.TryAddState(state) {
				// lost the insert race; merge into the winner
				continue
			}
			kind := EventFound
			if !r.IsAlive() {
				kind = EventDead
			}
			t.dispatch(state, r, kind)
			return true, OutcomeAccepted
		}

		res := state.Observe(r, seen, t.env.grace)
		switch {
		case res.Stale:
			return false, OutcomeStale
		case res.Similar:
			return true, OutcomeSimilar
		case !res.NewIncarnation && !res.WasAlive:
			// still dead: keep the data fresh, nothing to announce
			return true, OutcomeAccepted
		}
		kind := EventUpdated
		switch {
		case !r.IsAlive():
			kind = EventDead
		case res.NewIncarnation:
			kind = EventFound
		}
		t.dispatch(state, r, kind)
		return true, OutcomeAccepted
	}
	logger.Warn("feed_contended", "type", t.typ, "key", r.Key())
	return false, OutcomeContended
}

// validate checks the relay against the catalog and returns a private copy
// carrying the resolved hierarchy.
func (t *Tracker[T]) validate(r T) (T, catalog.Zone, bool) {
	var zero T
	if any(r) == any(zero) || r.RelayID() == 0 {
		return zero, catalog.Zone{}, false
	}
	loc := r.Place()
	if loc.WorldID == 0 || loc.ZoneID == 0 {
		return zero, catalog.Zone{}, false
	}
	world, zone, err := catalog.Resolve(t.env.catalog, loc.WorldID, loc.ZoneID)
	if err != nil {
		logger.Debug("relay_rejected", "type", t.typ, "key", r.Key(), "error", err)
		return zero, catalog.Zone{}, false
	}
	c := r.Clone()
	c.SetHierarchy(world.DatacenterID, world.RegionID, world.AudienceID)
	return c, zone, true
}

func (t *Tracker[T]) dispatch(state *relay.State[T], r T, kind EventKind) {
	if t.env.handlersEnabled.Load() && (t.env.alwaysDispatch.Load() || t.inJurisdiction(r)) {
		var list *events.List[*relay.State[T]]
		switch kind {
		case EventFound:
			list = &t.found
		case EventUpdated:
			list = &t.updated
		case EventDead:
			list = &t.dead
		}
		if list != nil {
			t.env.metrics.Event(t.typ.String(), kind.String())
			list.Fire(state, t.fault(kind.String()))
		}
	}
	t.all.Fire(state, t.fault("all"))
}

func (t *Tracker[T]) inJurisdiction(r T) bool {
	lvl := t.env.resolver.Jurisdiction(t.typ, r.RelayID(), true)
	return jurisdiction.IsWithin(r, lvl, t.env.home(), t.env.catalog)
}

func (t *Tracker[T]) fault(event string) func(error) {
	return func(err error) {
		logger.Warn("handler_panic", "type", t.typ, "event", event, "error", err)
		t.env.metrics.Panic("tracker")
		t.store.Fault(err)
	}
}

// localOnly holds the zone ids that are never contributed.
type localOnly []uint32

func (l localOnly) contains(zone uint32) bool { return slices.Contains(l, zone) }

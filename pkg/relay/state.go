package relay

import (
	"sync"
	"time"
)

// Status is the lifecycle classification of a State.
type Status uint8

const (
	StatusFound Status = iota
	StatusUpdated
	StatusKilled
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusUpdated:
		return "updated"
	case StatusKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// StateInfo is the type-independent view of a State.
type StateInfo interface {
	Key() string
	IndexKeys() []string
	Status() Status
	LastSeen() time.Time
	Info() Snapshot[Relay]
}

// Snapshot is a consistent copy of a State taken under its lock.
type Snapshot[T any] struct {
	Relay         T         `json:"relay"`
	Status        Status    `json:"status"`
	LastSeen      time.Time `json:"last_seen"`
	LastFound     time.Time `json:"last_found"`
	LastKilled    time.Time `json:"last_killed,omitzero"`
	LastUntouched time.Time `json:"last_untouched,omitzero"`
}

// State wraps the latest observation of one entity together with its
// lifecycle timestamps. Key and IndexKeys are fixed at construction; every
// other field is read and written under the state's own lock.
type State[T Entity[T]] struct {
	key       string
	indexKeys []string

	mu            sync.Mutex
	relay         T
	lastSeen      time.Time
	lastFound     time.Time
	lastKilled    time.Time
	lastUntouched time.Time
}

// NewState creates the first incarnation of the entity r describes, as
// observed at now. r is copied.
func NewState[T Entity[T]](r T, now time.Time) *State[T] {
	s := &State[T]{
		key:       r.Key(),
		indexKeys: r.IndexKeys(),
		relay:     r.Clone(),
		lastSeen:  now,
		lastFound: now,
	}
	if !r.IsAlive() {
		s.lastKilled = now
	} else if r.IsUntouched() {
		s.lastUntouched = now
	}
	return s
}

func (s *State[T]) Key() string         { return s.key }
func (s *State[T]) IndexKeys() []string { return s.indexKeys }

// HasIndexKey reports whether key is one of the state's index keys.
func (s *State[T]) HasIndexKey(key string) bool {
	for _, k := range s.indexKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Relay returns a copy of the current observation.
func (s *State[T]) Relay() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay.Clone()
}

func (s *State[T]) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *State[T]) LastFound() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFound
}

func (s *State[T]) LastKilled() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKilled
}

func (s *State[T]) LastUntouched() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUntouched
}

// IsAlive reports whether the current observation is alive.
func (s *State[T]) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay.IsAlive()
}

// Status derives Found/Updated/Killed from which timestamp the last
// observation touched.
func (s *State[T]) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status()
}

func (s *State[T]) status() Status {
	switch {
	case s.lastSeen.Equal(s.lastKilled):
		return StatusKilled
	case s.lastSeen.Equal(s.lastFound):
		return StatusFound
	default:
		return StatusUpdated
	}
}

// Snapshot copies the state under its lock.
func (s *State[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot[T]{
		Relay:         s.relay.Clone(),
		Status:        s.status(),
		LastSeen:      s.lastSeen,
		LastFound:     s.lastFound,
		LastKilled:    s.lastKilled,
		LastUntouched: s.lastUntouched,
	}
}

// Info is Snapshot with the relay widened to the Relay interface.
func (s *State[T]) Info() Snapshot[Relay] {
	snap := s.Snapshot()
	return Snapshot[Relay]{
		Relay:         snap.Relay,
		Status:        snap.Status,
		LastSeen:      snap.LastSeen,
		LastFound:     snap.LastFound,
		LastKilled:    snap.LastKilled,
		LastUntouched: snap.LastUntouched,
	}
}

// MergeResult describes what Observe did with an incoming observation.
type MergeResult struct {
	// Stale is set when the observation was older than the stored one and
	// was discarded.
	Stale bool
	// Similar is set when the observation carried nothing new within the
	// grace window; the state was left untouched.
	Similar bool
	// NewIncarnation is set when the observation is a different
	// occurrence of the entity than the stored one.
	NewIncarnation bool
	// WasAlive is the stored aliveness before the merge.
	WasAlive bool
}

// Applied reports whether the state changed.
func (r MergeResult) Applied() bool { return !r.Stale && !r.Similar }

// Observe merges an incoming observation seen at the given time. Data older
// than what is stored is discarded; data equal to the stored data within
// grace of the last sighting is ignored.
func (s *State[T]) Observe(incoming T, seen time.Time, grace time.Duration) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seen.Before(s.lastSeen) {
		return MergeResult{Stale: true}
	}
	res := MergeResult{
		NewIncarnation: !s.relay.IsSameEntity(incoming),
		WasAlive:       s.relay.IsAlive(),
	}
	if !res.NewIncarnation && seen.Sub(s.lastSeen) < grace && s.relay.IsSimilarData(incoming) {
		res.Similar = true
		return res
	}
	s.apply(incoming, seen, res.NewIncarnation)
	return res
}

func (s *State[T]) apply(incoming T, seen time.Time, newIncarnation bool) {
	if !incoming.IsAlive() {
		s.lastKilled = seen
	} else {
		if newIncarnation {
			s.lastFound = seen
			s.lastUntouched = time.Time{}
		}
		if incoming.IsUntouched() {
			s.lastUntouched = seen
		}
	}
	s.lastSeen = seen
	s.relay.UpdateWith(incoming)
}

// Merge folds other into s. When other is older s is left as is; otherwise
// s takes other's data and the later of each timestamp. It reports whether
// s changed.
func (s *State[T]) Merge(other *State[T]) bool {
	if other == s {
		return false
	}
	o := other.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if o.LastSeen.Before(s.lastSeen) {
		return false
	}
	s.relay.UpdateWith(o.Relay)
	s.lastSeen = o.LastSeen
	s.lastFound = later(s.lastFound, o.LastFound)
	s.lastKilled = later(s.lastKilled, o.LastKilled)
	s.lastUntouched = later(s.lastUntouched, o.LastUntouched)
	return true
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

package relay

import "time"

// FateStatus is the progress phase of a timed world event.
type FateStatus uint8

const (
	FateUnknown FateStatus = iota
	FatePreparation
	FateRunning
	FateComplete
	FateFailed
)

func (s FateStatus) String() string {
	switch s {
	case FatePreparation:
		return "preparation"
	case FateRunning:
		return "running"
	case FateComplete:
		return "complete"
	case FateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FateRelay is an observation of a timed world event.
type FateRelay struct {
	Base
	Status   FateStatus `json:"status"`
	Progress uint8      `json:"progress"`
	// StartedAt and EndsAt are zero when not known to the observer.
	StartedAt time.Time `json:"started_at,omitzero"`
	EndsAt    time.Time `json:"ends_at,omitzero"`
}

func (f *FateRelay) Type() Type          { return TypeFate }
func (f *FateRelay) IsUntouched() bool   { return f.Progress == 0 }
func (f *FateRelay) Key() string         { return Key(TypeFate, f.ID, f.Location) }
func (f *FateRelay) IndexKeys() []string { return IndexKeys(TypeFate, f.Location) }

func (f *FateRelay) IsAlive() bool {
	return f.Status == FatePreparation || f.Status == FateRunning
}

// Remaining returns how long the fate still runs at now, or zero.
func (f *FateRelay) Remaining(now time.Time) time.Duration {
	if f.EndsAt.IsZero() || !f.EndsAt.After(now) {
		return 0
	}
	return f.EndsAt.Sub(now)
}

func (f *FateRelay) IsSameEntity(other *FateRelay) bool {
	if !f.StartedAt.IsZero() && !other.StartedAt.IsZero() && !f.StartedAt.Equal(other.StartedAt) {
		return false
	}
	// finished and then running again: a new occurrence
	if !f.IsAlive() && other.IsAlive() {
		return false
	}
	return true
}

func (f *FateRelay) IsSimilarData(other *FateRelay) bool {
	return f.Status == other.Status &&
		f.Progress == other.Progress &&
		f.EndsAt.Equal(other.EndsAt) &&
		closeTo(f.Coords, other.Coords, 0)
}

func (f *FateRelay) UpdateWith(other *FateRelay) {
	*f = *other
}

func (f *FateRelay) Clone() *FateRelay {
	c := *f
	return &c
}

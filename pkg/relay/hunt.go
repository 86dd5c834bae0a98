package relay

// HuntRelay is an observation of a roaming hunt target.
type HuntRelay struct {
	Base
	// ActorID identifies one spawn of the hunt. A new spawn of the same
	// hunt in the same place gets a new ActorID; zero means unknown.
	ActorID   uint32 `json:"actor_id"`
	CurrentHP uint32 `json:"current_hp"`
	MaxHP     uint32 `json:"max_hp"`
	Players   int    `json:"players"`
}

// huntCoordsTolerance mirrors the drift a stationary target shows between
// two observations.
const huntCoordsTolerance = 1.0

func (h *HuntRelay) Type() Type          { return TypeHunt }
func (h *HuntRelay) IsAlive() bool       { return h.CurrentHP > 0 }
func (h *HuntRelay) IsUntouched() bool   { return h.CurrentHP == h.MaxHP }
func (h *HuntRelay) Key() string         { return Key(TypeHunt, h.ID, h.Location) }
func (h *HuntRelay) IndexKeys() []string { return IndexKeys(TypeHunt, h.Location) }

func (h *HuntRelay) IsSameEntity(other *HuntRelay) bool {
	if h.ActorID != 0 && other.ActorID != 0 && h.ActorID != other.ActorID {
		return false
	}
	// dead and then seen fresh again: respawn
	if !h.IsAlive() && other.IsAlive() && other.IsUntouched() {
		return false
	}
	return true
}

func (h *HuntRelay) IsSimilarData(other *HuntRelay) bool {
	return h.ActorID == other.ActorID &&
		h.CurrentHP == other.CurrentHP &&
		h.MaxHP == other.MaxHP &&
		h.Players == other.Players &&
		closeTo(h.Coords, other.Coords, huntCoordsTolerance)
}

func (h *HuntRelay) UpdateWith(other *HuntRelay) {
	*h = *other
}

func (h *HuntRelay) Clone() *HuntRelay {
	c := *h
	return &c
}

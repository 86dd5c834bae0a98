package jurisdiction

import (
	"sync/atomic"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

// Static is a Resolver backed by fixed per-type defaults and per-id
// overrides. While contributing, levels below ContributeMinimum are raised
// to it unless the caller asks to ignore contribution.
type Static struct {
	Defaults          map[relay.Type]Level
	Overrides         map[relay.Type]map[uint32]Level
	ContributeMinimum Level

	contributing atomic.Bool
}

// SetContributing tells the resolver whether contribution is active.
func (s *Static) SetContributing(on bool) { s.contributing.Store(on) }

func (s *Static) Jurisdiction(t relay.Type, id uint32, ignoreContribution bool) Level {
	lvl, ok := s.Overrides[t][id]
	if !ok {
		lvl = s.Defaults[t]
	}
	if !ignoreContribution && s.contributing.Load() && lvl < s.ContributeMinimum {
		lvl = s.ContributeMinimum
	}
	return lvl
}

// Fixed is a Resolver that returns the same level for everything.
type Fixed Level

func (f Fixed) Jurisdiction(relay.Type, uint32, bool) Level { return Level(f) }

// Package jurisdiction decides which observations are close enough to the
// local player's place to be tracked and dispatched.
package jurisdiction

import (
	"fmt"
	"strings"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

// Level is a visibility scope, ordered from narrowest to widest.
type Level uint8

const (
	None Level = iota
	Instance
	Zone
	World
	Datacenter
	Region
	Audience
	All
)

var levelNames = [...]string{"none", "instance", "zone", "world", "datacenter", "region", "audience", "all"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// ParseLevel parses the String form of a Level, case-insensitively.
func ParseLevel(s string) (Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return Level(i), nil
		}
	}
	return None, fmt.Errorf("unknown jurisdiction %q", s)
}

func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Resolver returns the configured jurisdiction for an entity.
type Resolver interface {
	// Jurisdiction returns the level for entity id of type t. When
	// ignoreContribution is false the level may be widened while the
	// process is contributing to the network.
	Jurisdiction(t relay.Type, id uint32, ignoreContribution bool) Level
}

// WorldTable resolves a world to its place in the hierarchy.
type WorldTable interface {
	World(id uint32) (catalog.World, bool)
}

// IsWithin reports whether r lies inside level as seen from home. Scopes
// above world compare the catalog entries of both worlds; an unknown world
// is never within those scopes.
func IsWithin(r relay.Relay, level Level, home relay.Location, worlds WorldTable) bool {
	loc := r.Place()
	switch level {
	case None:
		return false
	case All:
		return true
	case Instance:
		return loc.WorldID == home.WorldID && loc.ZoneID == home.ZoneID && loc.InstanceID == home.InstanceID
	case Zone:
		return loc.WorldID == home.WorldID && loc.ZoneID == home.ZoneID
	case World:
		return loc.WorldID == home.WorldID
	}

	if worlds == nil {
		return false
	}
	a, ok := worlds.World(loc.WorldID)
	if !ok {
		return false
	}
	b, ok := worlds.World(home.WorldID)
	if !ok {
		return false
	}
	switch level {
	case Datacenter:
		return a.DatacenterID == b.DatacenterID
	case Region:
		return a.RegionID == b.RegionID
	case Audience:
		return a.AudienceID == b.AudienceID
	}
	return false
}

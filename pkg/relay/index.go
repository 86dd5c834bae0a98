package relay

import "strconv"

// AllIndexKey is the reserved index key that stands for every state of a
// store. It is answered from the state table and never materialized.
const AllIndexKey = "all"

// Scope is one level of the location hierarchy used for indexing.
type Scope uint8

const (
	ScopeInstance Scope = iota
	ScopeZone
	ScopeWorld
	ScopeDatacenter
	ScopeRegion
	ScopeAudience
)

var scopeNames = [...]string{"instance", "zone", "world", "datacenter", "region", "audience"}

func (s Scope) String() string {
	if int(s) < len(scopeNames) {
		return scopeNames[s]
	}
	return "scope(" + strconv.Itoa(int(s)) + ")"
}

// IndexKey builds the index key for type t at scope s of loc, for example
// "hunt_world_40" or "fate_instance_40_961_1".
func IndexKey(t Type, s Scope, loc Location) string {
	buf := make([]byte, 0, 32)
	buf = append(buf, t.String()...)
	buf = append(buf, '_')
	buf = append(buf, s.String()...)
	buf = append(buf, '_')
	switch s {
	case ScopeInstance:
		buf = appendPlace(buf, loc)
	case ScopeZone:
		buf = strconv.AppendUint(buf, uint64(loc.WorldID), 10)
		buf = append(buf, '_')
		buf = strconv.AppendUint(buf, uint64(loc.ZoneID), 10)
	case ScopeWorld:
		buf = strconv.AppendUint(buf, uint64(loc.WorldID), 10)
	case ScopeDatacenter:
		buf = strconv.AppendUint(buf, uint64(loc.DatacenterID), 10)
	case ScopeRegion:
		buf = strconv.AppendUint(buf, uint64(loc.RegionID), 10)
	case ScopeAudience:
		buf = strconv.AppendUint(buf, uint64(loc.AudienceID), 10)
	}
	return string(buf)
}

// IndexKeys returns every index key a relay of type t at loc belongs to,
// starting with AllIndexKey.
func IndexKeys(t Type, loc Location) []string {
	keys := make([]string, 0, len(scopeNames)+1)
	keys = append(keys, AllIndexKey)
	for s := ScopeInstance; s <= ScopeAudience; s++ {
		keys = append(keys, IndexKey(t, s, loc))
	}
	return keys
}

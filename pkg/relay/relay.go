// Package relay defines the observed entities ("relays") tracked by the
// store and the mutable State wrapper that accumulates their lifecycle.
package relay

import (
	"strconv"
)

// Type tags the kind of entity a relay describes.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeHunt
	TypeFate
)

func (t Type) String() string {
	switch t {
	case TypeHunt:
		return "hunt"
	case TypeFate:
		return "fate"
	default:
		return "unknown"
	}
}

// ParseType parses the String form of a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "hunt", "hunts":
		return TypeHunt, true
	case "fate", "fates":
		return TypeFate, true
	}
	return TypeUnknown, false
}

// Location places a relay in the world hierarchy. World, zone and instance
// come with the observation; datacenter, region and audience are resolved
// from the catalog during validation.
type Location struct {
	WorldID      uint32 `json:"world_id"`
	ZoneID       uint32 `json:"zone_id"`
	InstanceID   uint32 `json:"instance_id"`
	DatacenterID uint32 `json:"datacenter_id,omitempty"`
	RegionID     uint32 `json:"region_id,omitempty"`
	AudienceID   uint32 `json:"audience_id,omitempty"`
}

// Coords is a position inside a zone.
type Coords struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Relay is the type-independent view of an observation.
type Relay interface {
	Type() Type
	RelayID() uint32
	Place() Location
	Position() Coords
	IsAlive() bool
	IsUntouched() bool
	Key() string
	PlaceKey() string
	IndexKeys() []string
}

// Entity is implemented by concrete relay pointer types. T is the
// implementing type itself, e.g. *HuntRelay.
type Entity[T any] interface {
	Relay
	// IsSameEntity reports whether other describes the same live
	// occurrence as the receiver. It is false when the entity died and
	// came back, or when a different spawn took its place.
	IsSameEntity(other T) bool
	// IsSimilarData reports whether other carries no new information
	// compared to the receiver.
	IsSimilarData(other T) bool
	// UpdateWith copies every field from other into the receiver.
	UpdateWith(other T)
	// Clone returns an independent copy.
	Clone() T
	// SetHierarchy attaches the catalog-resolved part of the location.
	SetHierarchy(datacenter, region, audience uint32)
}

// Base holds the fields shared by every relay type.
type Base struct {
	ID uint32 `json:"id"`
	Location
	Coords Coords `json:"coords"`
}

func (b *Base) RelayID() uint32  { return b.ID }
func (b *Base) Place() Location  { return b.Location }
func (b *Base) Position() Coords { return b.Coords }
func (b *Base) PlaceKey() string { return PlaceKey(b.Location) }

func (b *Base) SetHierarchy(datacenter, region, audience uint32) {
	b.DatacenterID = datacenter
	b.RegionID = region
	b.AudienceID = audience
}

// closeTo reports whether two positions are within tolerance on every axis.
func closeTo(a, b Coords, tolerance float32) bool {
	return abs32(a.X-b.X) <= tolerance && abs32(a.Y-b.Y) <= tolerance && abs32(a.Z-b.Z) <= tolerance
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Key builds the RelayKey for an entity of type t with the given id at loc:
// "{type}_{id}_{world}_{zone}_{instance}".
func Key(t Type, id uint32, loc Location) string {
	buf := make([]byte, 0, 40)
	buf = append(buf, t.String()...)
	buf = append(buf, '_')
	buf = strconv.AppendUint(buf, uint64(id), 10)
	buf = append(buf, '_')
	buf = appendPlace(buf, loc)
	return string(buf)
}

// PlaceKey builds "{world}_{zone}_{instance}".
func PlaceKey(loc Location) string {
	return string(appendPlace(make([]byte, 0, 24), loc))
}

func appendPlace(buf []byte, loc Location) []byte {
	buf = strconv.AppendUint(buf, uint64(loc.WorldID), 10)
	buf = append(buf, '_')
	buf = strconv.AppendUint(buf, uint64(loc.ZoneID), 10)
	buf = append(buf, '_')
	buf = strconv.AppendUint(buf, uint64(loc.InstanceID), 10)
	return buf
}

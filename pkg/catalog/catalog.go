// Package catalog resolves the static game data the tracker needs for
// validation: which worlds and zones exist, where a world sits in the
// datacenter/region/audience hierarchy, and which zones never leave the
// local process.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownWorld = errors.New("catalog: unknown world")
	ErrUnknownZone  = errors.New("catalog: unknown zone")
)

type World struct {
	ID           uint32 `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	DatacenterID uint32 `yaml:"datacenter" json:"datacenter_id"`
	RegionID     uint32 `yaml:"region" json:"region_id"`
	AudienceID   uint32 `yaml:"audience" json:"audience_id"`
}

type Zone struct {
	ID   uint32 `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// LocalOnly zones are tracked but never contributed upstream.
	LocalOnly bool `yaml:"local_only" json:"local_only"`
}

// Catalog is the lookup surface the ingestion engine depends on.
type Catalog interface {
	World(id uint32) (World, bool)
	Zone(id uint32) (Zone, bool)
}

// Static is an in-memory catalog. It is safe for concurrent use; Replace
// swaps the whole table at once.
type Static struct {
	mu     sync.RWMutex
	worlds map[uint32]World
	zones  map[uint32]Zone
}

// NewStatic builds a catalog from the given worlds and zones.
func NewStatic(worlds []World, zones []Zone) *Static {
	s := &Static{}
	s.Replace(worlds, zones)
	return s
}

func (s *Static) Replace(worlds []World, zones []Zone) {
	wm := make(map[uint32]World, len(worlds))
	for _, w := range worlds {
		wm[w.ID] = w
	}
	zm := make(map[uint32]Zone, len(zones))
	for _, z := range zones {
		zm[z.ID] = z
	}
	s.mu.Lock()
	s.worlds, s.zones = wm, zm
	s.mu.Unlock()
}

func (s *Static) World(id uint32) (World, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.worlds[id]
	return w, ok
}

func (s *Static) Zone(id uint32) (Zone, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	z, ok := s.zones[id]
	return z, ok
}

// Len returns the number of worlds and zones.
func (s *Static) Len() (worlds, zones int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.worlds), len(s.zones)
}

type file struct {
	Worlds []World `yaml:"worlds"`
	Zones  []Zone  `yaml:"zones"`
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Static, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for _, w := range f.Worlds {
		if w.ID == 0 {
			return nil, fmt.Errorf("parse catalog: world %q has no id", w.Name)
		}
	}
	for _, z := range f.Zones {
		if z.ID == 0 {
			return nil, fmt.Errorf("parse catalog: zone %q has no id", z.Name)
		}
	}
	return NewStatic(f.Worlds, f.Zones), nil
}

// Load reads and parses the catalog file at path.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Resolve returns the world and zone a location refers to.
func Resolve(c Catalog, worldID, zoneID uint32) (World, Zone, error) {
	w, ok := c.World(worldID)
	if !ok {
		return World{}, Zone{}, fmt.Errorf("%w: %d", ErrUnknownWorld, worldID)
	}
	z, ok := c.Zone(zoneID)
	if !ok {
		return World{}, Zone{}, fmt.Errorf("%w: %d", ErrUnknownZone, zoneID)
	}
	return w, z, nil
}

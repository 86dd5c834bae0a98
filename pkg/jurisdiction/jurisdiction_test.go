package jurisdiction

import (
	"testing"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
)

func TestIsWithin(t *testing.T) {
	worlds := catalog.NewStatic([]catalog.World{
		{ID: 40, DatacenterID: 4, RegionID: 2, AudienceID: 1},
		{ID: 41, DatacenterID: 4, RegionID: 2, AudienceID: 1},
		{ID: 70, DatacenterID: 7, RegionID: 2, AudienceID: 1},
		{ID: 90, DatacenterID: 9, RegionID: 3, AudienceID: 2},
	}, nil)
	home := relay.Location{WorldID: 40, ZoneID: 961, InstanceID: 1}
	at := func(world, zone, inst uint32) relay.Relay {
		return &relay.HuntRelay{Base: relay.Base{ID: 1, Location: relay.Location{WorldID: world, ZoneID: zone, InstanceID: inst}}}
	}

	cases := []struct {
		name  string
		r     relay.Relay
		level Level
		want  bool
	}{
		{"none", at(40, 961, 1), None, false},
		{"same instance", at(40, 961, 1), Instance, true},
		{"other instance", at(40, 961, 2), Instance, false},
		{"zone ignores instance", at(40, 961, 2), Zone, true},
		{"other zone", at(40, 960, 1), Zone, false},
		{"world", at(40, 1, 0), World, true},
		{"datacenter", at(41, 1, 0), Datacenter, true},
		{"other datacenter", at(70, 1, 0), Datacenter, false},
		{"region", at(70, 1, 0), Region, true},
		{"other region", at(90, 1, 0), Region, false},
		{"other audience", at(90, 1, 0), Audience, false},
		{"unknown world", at(99, 1, 0), Audience, false},
		{"all", at(99, 1, 0), All, true},
	}
	for _, tc := range cases {
		if got := IsWithin(tc.r, tc.level, home, worlds); got != tc.want {
			t.Errorf("%s: IsWithin = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStaticResolver(t *testing.T) {
	s := &Static{
		Defaults:          map[relay.Type]Level{relay.TypeHunt: World, relay.TypeFate: Zone},
		Overrides:         map[relay.Type]map[uint32]Level{relay.TypeHunt: {7: None}},
		ContributeMinimum: Datacenter,
	}
	if got := s.Jurisdiction(relay.TypeHunt, 1, false); got != World {
		t.Fatalf("default: got %s", got)
	}
	if got := s.Jurisdiction(relay.TypeHunt, 7, true); got != None {
		t.Fatalf("override: got %s", got)
	}

	s.SetContributing(true)
	if got := s.Jurisdiction(relay.TypeHunt, 7, false); got != Datacenter {
		t.Fatalf("contributing should widen to minimum, got %s", got)
	}
	if got := s.Jurisdiction(relay.TypeHunt, 7, true); got != None {
		t.Fatalf("ignoreContribution should keep configured level, got %s", got)
	}
}

func TestParseLevel(t *testing.T) {
	for i, n := range levelNames {
		l, err := ParseLevel(n)
		if err != nil || l != Level(i) {
			t.Fatalf("ParseLevel(%q) = %v, %v", n, l, err)
		}
	}
	if _, err := ParseLevel("galaxy"); err == nil {
		t.Fatal("expected error")
	}
}

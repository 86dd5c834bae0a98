package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/view"
)

const sample = `
server:
  port: 9090
  max_body_size: 1MB
ingest:
  grace: 2s
  handlers_enabled: false
  local_only_zones: [100, 101]
jurisdiction:
  home:
    world_id: 40
    zone_id: 7
  defaults:
    hunt: datacenter
    fate: world
  overrides:
    hunt:
      1234: all
  contribute_minimum: region
views:
  scan_rate: fast
  acceleration: linear
expiry:
  enabled: true
  cron: "0 * * * *"
  hunt_max_age: 3600
`

func lookupFrom(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParseAndValidate(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:9090" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
	if cfg.Server.MaxBodySize != 1000*1000 {
		t.Fatalf("max body size = %d", cfg.Server.MaxBodySize)
	}
	if cfg.Ingest.Grace.Duration() != 2*time.Second {
		t.Fatalf("grace = %s", cfg.Ingest.Grace)
	}
	if cfg.HandlersEnabled() {
		t.Fatal("handlers_enabled: false was not honored")
	}
	if !cfg.IndexingEnabled() {
		t.Fatal("indexing should default to enabled")
	}
	if cfg.Expiry.HuntMaxAge.Duration() != time.Hour {
		t.Fatalf("numeric seconds not parsed: %s", cfg.Expiry.HuntMaxAge)
	}
	if cfg.Expiry.DeadMaxAge.Duration() != defaultDeadMaxAge {
		t.Fatalf("dead max age default = %s", cfg.Expiry.DeadMaxAge)
	}

	rate, accel, err := cfg.Views.Pace()
	if err != nil || rate != view.RateFast || accel != view.AccelLinear {
		t.Fatalf("pace = %v %v %v", rate, accel, err)
	}

	res, err := cfg.Jurisdiction.Resolver()
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	if got := res.Jurisdiction(relay.TypeHunt, 1, true); got != jurisdiction.Datacenter {
		t.Fatalf("hunt default = %s", got)
	}
	if got := res.Jurisdiction(relay.TypeHunt, 1234, true); got != jurisdiction.All {
		t.Fatalf("hunt override = %s", got)
	}
	if res.ContributeMinimum != jurisdiction.Region {
		t.Fatalf("contribute minimum = %s", res.ContributeMinimum)
	}
	if home := cfg.Jurisdiction.HomeLocation(); home.WorldID != 40 || home.ZoneID != 7 {
		t.Fatalf("home = %+v", home)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"cron":     "expiry:\n  cron: \"not a cron\"\n",
		"level":    "jurisdiction:\n  defaults:\n    hunt: galaxy\n",
		"type":     "jurisdiction:\n  defaults:\n    mob: world\n",
		"rate":     "views:\n  scan_rate: warp\n",
		"format":   "peer:\n  format: xml\n",
		"endpoint": "peer:\n  endpoint: ftp://example\n",
		"tls":      "server:\n  tls:\n    cert_file: a.pem\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(doc))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := cfg.ValidateConfig(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestBadScalars(t *testing.T) {
	if _, err := Parse([]byte("server:\n  max_body_size: lots\n")); err == nil {
		t.Fatal("expected size error")
	}
	if _, err := Parse([]byte("ingest:\n  grace: soon\n")); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 1
	err := ApplyEnv(cfg, lookupFrom(map[string]string{
		"RELAYD_ADDR":                    "127.0.0.1:7000",
		"RELAYD_LOG_LEVEL":               "debug",
		"RELAYD_INGEST_CONTRIBUTE":       "yes",
		"RELAYD_INGEST_HANDLERS_ENABLED": "false",
		"RELAYD_INGEST_LOCAL_ONLY_ZONES": "5, 6",
		"RELAYD_JURISDICTION_HUNT":       "world",
		"RELAYD_EXPIRY_DEAD_MAX_AGE":     "10m",
		"RELAYD_SENSOR_RSS_HIGH_BYTES":   "2GiB",
		"RELAYD_PEER_ENDPOINT":           "",
	}))
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:7000" {
		t.Fatalf("addr = %s", cfg.Addr())
	}
	if cfg.Logging.Level != "debug" || !cfg.Ingest.Contribute {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.Ingest.HandlersEnabled == nil || *cfg.Ingest.HandlersEnabled {
		t.Fatal("handlers override not applied")
	}
	if len(cfg.Ingest.LocalOnlyZones) != 2 || cfg.Ingest.LocalOnlyZones[1] != 6 {
		t.Fatalf("zones = %v", cfg.Ingest.LocalOnlyZones)
	}
	if cfg.Jurisdiction.Defaults["hunt"] != "world" {
		t.Fatalf("defaults = %v", cfg.Jurisdiction.Defaults)
	}
	if cfg.Expiry.DeadMaxAge.Duration() != 10*time.Minute {
		t.Fatalf("dead max age = %s", cfg.Expiry.DeadMaxAge)
	}
	if cfg.Sensor.RSSHighBytes != 2<<30 {
		t.Fatalf("rss = %d", cfg.Sensor.RSSHighBytes)
	}
}

func TestApplyEnvCollectsErrors(t *testing.T) {
	err := ApplyEnv(&Config{}, lookupFrom(map[string]string{
		"RELAYD_SERVER_PORT":      "eighty",
		"RELAYD_INGEST_TRACK_ALL": "maybe",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"RELAYD_SERVER_PORT", "RELAYD_INGEST_TRACK_ALL"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.yaml")
	if _, err := Load(missing, true); err == nil {
		t.Fatal("required missing file should fail")
	}
	cfg, err := Load(missing, false)
	if err != nil {
		t.Fatalf("optional missing file: %v", err)
	}
	if cfg == nil {
		t.Fatal("nil config")
	}

	path := filepath.Join(dir, "relayd.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
}

func TestCheckFiles(t *testing.T) {
	cfg := &Config{}
	cfg.Catalog.Path = filepath.Join(t.TempDir(), "nope.yaml")
	if err := cfg.CheckFiles(); err == nil {
		t.Fatal("expected missing catalog error")
	}
}

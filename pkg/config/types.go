package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Ingest       IngestConfig       `yaml:"ingest"`
	Jurisdiction JurisdictionConfig `yaml:"jurisdiction"`
	Index        IndexConfig        `yaml:"index"`
	Views        ViewsConfig        `yaml:"views"`
	Expiry       ExpiryConfig       `yaml:"expiry"`
	Peer         PeerConfig         `yaml:"peer"`
	Catalog      CatalogConfig      `yaml:"catalog"`
	Sensor       SensorConfig       `yaml:"sensor"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address      string    `yaml:"address"`
	Port         int       `yaml:"port"`
	TLS          TLSConfig `yaml:"tls"`
	MaxBodySize  SizeBytes `yaml:"max_body_size"`
	ReadTimeout  Duration  `yaml:"read_timeout"`
	WriteTimeout Duration  `yaml:"write_timeout"`
	RateLimit    struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	// AdminToken guards /admin routes and the local feed when set.
	AdminToken string `yaml:"admin_token"`
	// RelayTokens, when non-empty, are the tokens accepted on network uploads.
	RelayTokens []string `yaml:"relay_tokens"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// IngestConfig controls the feed engine and the network intake queue.
type IngestConfig struct {
	Workers        int      `yaml:"workers"`
	QueueCapacity  int      `yaml:"queue_capacity"`
	TickInterval   Duration `yaml:"tick_interval"`
	Grace          Duration `yaml:"grace"`
	Contribute     bool     `yaml:"contribute"`
	TrackAll       bool     `yaml:"track_all"`
	AlwaysDispatch bool     `yaml:"always_dispatch"`
	// HandlersEnabled defaults to true when unset.
	HandlersEnabled *bool    `yaml:"handlers_enabled"`
	LocalOnlyZones  []uint32 `yaml:"local_only_zones"`
}

// JurisdictionConfig describes the home place and the per-type filters.
// Levels are names accepted by jurisdiction.ParseLevel.
type JurisdictionConfig struct {
	Home struct {
		WorldID    uint32 `yaml:"world_id"`
		ZoneID     uint32 `yaml:"zone_id"`
		InstanceID uint32 `yaml:"instance_id"`
	} `yaml:"home"`
	Defaults          map[string]string            `yaml:"defaults"`
	Overrides         map[string]map[uint32]string `yaml:"overrides"`
	ContributeMinimum string                       `yaml:"contribute_minimum"`
}

// IndexConfig controls store indexing.
type IndexConfig struct {
	// Enabled defaults to true when unset.
	Enabled         *bool `yaml:"enabled"`
	InitialCapacity int   `yaml:"initial_capacity"`
}

// ViewsConfig controls the default per-type views.
type ViewsConfig struct {
	ScanRate     string   `yaml:"scan_rate"`
	Acceleration string   `yaml:"acceleration"`
	Interval     Duration `yaml:"interval"`
	Limit        int      `yaml:"limit"`
}

// ExpiryConfig holds configuration for the scheduled expiry runner.
type ExpiryConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Cron       string   `yaml:"cron"`
	HuntMaxAge Duration `yaml:"hunt_max_age"`
	FateMaxAge Duration `yaml:"fate_max_age"`
	// DeadMaxAge applies to dead hunts and finished fates.
	DeadMaxAge Duration `yaml:"dead_max_age"`
}

// PeerConfig configures the upstream that receives contributed relays.
// An empty endpoint disables contribution transport.
type PeerConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	Token          string   `yaml:"token"`
	Format         string   `yaml:"format"` // "json" or "cbor"
	Timeout        Duration `yaml:"timeout"`
	HealthInterval Duration `yaml:"health_interval"`
}

// CatalogConfig points at the worlds/zones YAML file.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// SensorConfig holds sensor related tuning knobs.
type SensorConfig struct {
	Enabled        bool      `yaml:"enabled"`
	PollInterval   Duration  `yaml:"poll_interval"`
	RSSHighBytes   SizeBytes `yaml:"rss_high_bytes"`
	HeapHighBytes  SizeBytes `yaml:"heap_high_bytes"`
	RecoveryWindow Duration  `yaml:"recovery_window"`
}

// TelemetryConfig controls the trace writer.
type TelemetryConfig struct {
	Enabled       bool      `yaml:"enabled"`
	Path          string    `yaml:"path"`
	BufferSize    SizeBytes `yaml:"buffer_size"`
	QueueCapacity int       `yaml:"queue_capacity"`
	FlushInterval Duration  `yaml:"flush_interval"`
	FileMaxSize   SizeBytes `yaml:"file_max_size"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(max(s, 0))) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

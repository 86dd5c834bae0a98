package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/view"
)

// DefaultPath is used when neither a flag nor RELAYD_CONFIG names a file.
const DefaultPath = "./relayd.yaml"

const (
	defaultPort          = 8080
	defaultMaxBodySize   = 4 * 1024 * 1024 // 4 MiB
	defaultReadTimeout   = 10 * time.Second
	defaultWriteTimeout  = 10 * time.Second
	defaultRateRPS       = 50
	defaultRateBurst     = 100
	defaultQueueCapacity = 65536
	defaultTickInterval  = time.Second
	defaultGrace         = 5 * time.Second
	// views
	defaultViewInterval = 250 * time.Millisecond
	defaultScanRate     = "normal"
	defaultAcceleration = "exponential"
	// expiry
	defaultExpiryCron = "*/5 * * * *"
	defaultHuntMaxAge = 6 * time.Hour
	defaultFateMaxAge = 2 * time.Hour
	defaultDeadMaxAge = 30 * time.Minute
	// peer
	defaultPeerFormat         = "json"
	defaultPeerTimeout        = 5 * time.Second
	defaultPeerHealthInterval = 30 * time.Second
	// sensor
	defaultSensorPollInterval   = 5 * time.Second
	defaultSensorRecoveryWindow = 30 * time.Second
	// telemetry
	defaultTelemetryPath          = "./telemetry"
	defaultTelemetryBufferSize    = 1024 * 1024 // 1MB
	defaultTelemetryFileMaxSize   = 40 * 1024 * 1024
	defaultTelemetryFlushInterval = 2 * time.Second
	defaultTelemetryQueueCapacity = 2048
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a YAML document into a Config.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Load builds the effective config: the file at path (optional unless
// required), then RELAYD_* environment overrides. Defaults are not applied;
// call ValidateConfig.
func Load(path string, required bool) (*Config, error) {
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if required || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet && flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("RELAYD_CONFIG"); p != "" {
		return p
	}
	if flagPath != "" {
		return flagPath
	}
	return DefaultPath
}

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults and returns an error if
// any configuration value is invalid.
func (c *Config) ValidateConfig() error {
	// server
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		c.Server.MaxBodySize = SizeBytes(defaultMaxBodySize)
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Server.RateLimit.RPS <= 0 {
		c.Server.RateLimit.RPS = defaultRateRPS
	}
	if c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = defaultRateBurst
	}
	cert, key := c.Server.TLS.CertFile, c.Server.TLS.KeyFile
	if (cert != "") != (key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}

	// ingest
	numCPU := runtime.NumCPU()
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = numCPU
	}
	if c.Ingest.QueueCapacity <= 0 {
		c.Ingest.QueueCapacity = defaultQueueCapacity
	}
	if c.Ingest.TickInterval <= 0 {
		c.Ingest.TickInterval = Duration(defaultTickInterval)
	}
	if c.Ingest.Grace < 0 {
		return fmt.Errorf("invalid ingest.grace: %s", c.Ingest.Grace)
	}
	if c.Ingest.Grace == 0 {
		c.Ingest.Grace = Duration(defaultGrace)
	}
	if c.Ingest.HandlersEnabled == nil {
		on := true
		c.Ingest.HandlersEnabled = &on
	}

	// jurisdiction
	if _, err := c.Jurisdiction.Resolver(); err != nil {
		return err
	}

	// index
	if c.Index.Enabled == nil {
		on := true
		c.Index.Enabled = &on
	}
	if c.Index.InitialCapacity < 0 {
		return fmt.Errorf("invalid index.initial_capacity: %d", c.Index.InitialCapacity)
	}

	// views
	if c.Views.ScanRate == "" {
		c.Views.ScanRate = defaultScanRate
	}
	if c.Views.Acceleration == "" {
		c.Views.Acceleration = defaultAcceleration
	}
	if _, _, err := c.Views.Pace(); err != nil {
		return err
	}
	if c.Views.Interval <= 0 {
		c.Views.Interval = Duration(defaultViewInterval)
	}
	if c.Views.Limit < 0 {
		return fmt.Errorf("invalid views.limit: %d", c.Views.Limit)
	}

	// expiry
	if c.Expiry.Cron == "" {
		c.Expiry.Cron = defaultExpiryCron
	}
	if !gronx.IsValid(c.Expiry.Cron) {
		return fmt.Errorf("invalid expiry cron expression: %s", c.Expiry.Cron)
	}
	if c.Expiry.HuntMaxAge <= 0 {
		c.Expiry.HuntMaxAge = Duration(defaultHuntMaxAge)
	}
	if c.Expiry.FateMaxAge <= 0 {
		c.Expiry.FateMaxAge = Duration(defaultFateMaxAge)
	}
	if c.Expiry.DeadMaxAge <= 0 {
		c.Expiry.DeadMaxAge = Duration(defaultDeadMaxAge)
	}

	// peer
	c.Peer.Format = strings.ToLower(strings.TrimSpace(c.Peer.Format))
	switch c.Peer.Format {
	case "":
		c.Peer.Format = defaultPeerFormat
	case "json", "cbor":
	default:
		return fmt.Errorf("invalid peer.format %q: want json or cbor", c.Peer.Format)
	}
	if c.Peer.Timeout <= 0 {
		c.Peer.Timeout = Duration(defaultPeerTimeout)
	}
	if c.Peer.HealthInterval <= 0 {
		c.Peer.HealthInterval = Duration(defaultPeerHealthInterval)
	}
	if c.Peer.Endpoint != "" && !strings.HasPrefix(c.Peer.Endpoint, "http://") && !strings.HasPrefix(c.Peer.Endpoint, "https://") {
		return fmt.Errorf("invalid peer.endpoint %q: want an http(s) url", c.Peer.Endpoint)
	}

	// sensor
	if c.Sensor.PollInterval <= 0 {
		c.Sensor.PollInterval = Duration(defaultSensorPollInterval)
	}
	if c.Sensor.RecoveryWindow <= 0 {
		c.Sensor.RecoveryWindow = Duration(defaultSensorRecoveryWindow)
	}

	// telemetry
	if c.Telemetry.Path == "" {
		c.Telemetry.Path = defaultTelemetryPath
	}
	if c.Telemetry.BufferSize <= 0 {
		c.Telemetry.BufferSize = SizeBytes(defaultTelemetryBufferSize)
	}
	if c.Telemetry.FileMaxSize <= 0 {
		c.Telemetry.FileMaxSize = SizeBytes(defaultTelemetryFileMaxSize)
	}
	if c.Telemetry.FlushInterval <= 0 {
		c.Telemetry.FlushInterval = Duration(defaultTelemetryFlushInterval)
	}
	if c.Telemetry.QueueCapacity <= 0 {
		c.Telemetry.QueueCapacity = defaultTelemetryQueueCapacity
	}
	return nil
}

// Resolver builds the jurisdiction resolver described by the section.
func (j JurisdictionConfig) Resolver() (*jurisdiction.Static, error) {
	s := &jurisdiction.Static{
		Defaults:  make(map[relay.Type]jurisdiction.Level),
		Overrides: make(map[relay.Type]map[uint32]jurisdiction.Level),
	}
	for name, lvl := range j.Defaults {
		t, ok := relay.ParseType(name)
		if !ok {
			return nil, fmt.Errorf("invalid jurisdiction.defaults: unknown relay type %q", name)
		}
		l, err := jurisdiction.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("invalid jurisdiction.defaults.%s: %w", name, err)
		}
		s.Defaults[t] = l
	}
	for name, ids := range j.Overrides {
		t, ok := relay.ParseType(name)
		if !ok {
			return nil, fmt.Errorf("invalid jurisdiction.overrides: unknown relay type %q", name)
		}
		m := make(map[uint32]jurisdiction.Level, len(ids))
		for id, lvl := range ids {
			l, err := jurisdiction.ParseLevel(lvl)
			if err != nil {
				return nil, fmt.Errorf("invalid jurisdiction.overrides.%s.%d: %w", name, id, err)
			}
			m[id] = l
		}
		s.Overrides[t] = m
	}
	if j.ContributeMinimum != "" {
		l, err := jurisdiction.ParseLevel(j.ContributeMinimum)
		if err != nil {
			return nil, fmt.Errorf("invalid jurisdiction.contribute_minimum: %w", err)
		}
		s.ContributeMinimum = l
	}
	return s, nil
}

// HomeLocation returns the configured home place.
func (j JurisdictionConfig) HomeLocation() relay.Location {
	return relay.Location{WorldID: j.Home.WorldID, ZoneID: j.Home.ZoneID, InstanceID: j.Home.InstanceID}
}

// Pace parses the scan rate and acceleration names.
func (v ViewsConfig) Pace() (view.ScanRate, view.Acceleration, error) {
	rate, err := view.ParseScanRate(v.ScanRate)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid views.scan_rate: %w", err)
	}
	accel, err := view.ParseAcceleration(v.Acceleration)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid views.acceleration: %w", err)
	}
	return rate, accel, nil
}

// IndexingEnabled reports the effective index.enabled value.
func (c *Config) IndexingEnabled() bool { return c.Index.Enabled == nil || *c.Index.Enabled }

// HandlersEnabled reports the effective ingest.handlers_enabled value.
func (c *Config) HandlersEnabled() bool {
	return c.Ingest.HandlersEnabled == nil || *c.Ingest.HandlersEnabled
}

// Summary returns the lines logged at startup.
func (c *Config) Summary() []string {
	return []string{
		"listen: " + c.Addr(),
		"log_level: " + c.Logging.Level,
		fmt.Sprintf("ingest: workers=%d queue=%d tick=%s", c.Ingest.Workers, c.Ingest.QueueCapacity, c.Ingest.TickInterval),
		fmt.Sprintf("contribute: %v (peer %q, %s)", c.Ingest.Contribute, c.Peer.Endpoint, c.Peer.Format),
		fmt.Sprintf("indexing: %v", c.IndexingEnabled()),
		fmt.Sprintf("views: %s/%s every %s", c.Views.ScanRate, c.Views.Acceleration, c.Views.Interval),
		fmt.Sprintf("expiry: %v (%s)", c.Expiry.Enabled, c.Expiry.Cron),
		"catalog: " + c.Catalog.Path,
		"max_body_size: " + c.Server.MaxBodySize.String(),
		fmt.Sprintf("rate_limit: %.0f rps, burst %d", c.Server.RateLimit.RPS, c.Server.RateLimit.Burst),
		fmt.Sprintf("sensor: %v, telemetry: %v", c.Sensor.Enabled, c.Telemetry.Enabled),
	}
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RELAYD_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envParser applies RELAYD_* variables onto a config and collects parse
// errors instead of stopping at the first.
type envParser struct {
	lookup LookupFunc
	errs   []error
}

func (p *envParser) get(name string) (string, bool) {
	v, ok := p.lookup(EnvPrefix + name)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *envParser) fail(name string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
}

func (p *envParser) str(name string, dst *string) {
	if v, ok := p.get(name); ok {
		*dst = v
	}
}

func (p *envParser) integer(name string, dst *int) {
	if v, ok := p.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) float(name string, dst *float64) {
	if v, ok := p.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = f
	}
}

func (p *envParser) boolean(name string, dst *bool) {
	if v, ok := p.get(name); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		default:
			p.fail(name, fmt.Errorf("invalid boolean %q", v))
		}
	}
}

func (p *envParser) optBool(name string, dst **bool) {
	if _, ok := p.get(name); ok {
		var b bool
		if *dst != nil {
			b = **dst
		}
		p.boolean(name, &b)
		*dst = &b
	}
}

func (p *envParser) duration(name string, dst *Duration) {
	if v, ok := p.get(name); ok {
		d, err := parseDuration(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = d
	}
}

func (p *envParser) size(name string, dst *SizeBytes) {
	if v, ok := p.get(name); ok {
		s, err := parseSize(v)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = s
	}
}

func (p *envParser) ids(name string, dst *[]uint32) {
	if v, ok := p.get(name); ok {
		out := []uint32{}
		for _, part := range parseList(v) {
			n, err := strconv.ParseUint(part, 10, 32)
			if err != nil {
				p.fail(name, err)
				return
			}
			out = append(out, uint32(n))
		}
		*dst = out
	}
}

func (p *envParser) id(name string, dst *uint32) {
	if v, ok := p.get(name); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			p.fail(name, err)
			return
		}
		*dst = uint32(n)
	}
}

func parseList(v string) []string {
	if v == "" {
		return nil
	}
	parts := []string{}
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// ApplyEnv overlays RELAYD_* environment values onto cfg. Variables that
// are unset or empty leave the field alone; malformed values are reported
// together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	p := &envParser{lookup: lookup}

	// RELAYD_ADDR takes precedence over the split host and port variables
	if v, ok := p.get("ADDR"); ok {
		if h, port, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			} else {
				p.fail("ADDR", err)
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		p.str("SERVER_ADDRESS", &cfg.Server.Address)
		p.integer("SERVER_PORT", &cfg.Server.Port)
	}
	p.str("TLS_CERT", &cfg.Server.TLS.CertFile)
	p.str("TLS_KEY", &cfg.Server.TLS.KeyFile)
	p.size("SERVER_MAX_BODY_SIZE", &cfg.Server.MaxBodySize)
	p.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	p.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	p.float("RATE_RPS", &cfg.Server.RateLimit.RPS)
	p.integer("RATE_BURST", &cfg.Server.RateLimit.Burst)
	p.str("ADMIN_TOKEN", &cfg.Server.AdminToken)
	if v, ok := p.get("RELAY_TOKENS"); ok {
		cfg.Server.RelayTokens = parseList(v)
	}

	// logging
	p.str("LOG_LEVEL", &cfg.Logging.Level)

	// ingest
	p.integer("INGEST_WORKERS", &cfg.Ingest.Workers)
	p.integer("INGEST_QUEUE_CAPACITY", &cfg.Ingest.QueueCapacity)
	p.duration("INGEST_TICK_INTERVAL", &cfg.Ingest.TickInterval)
	p.duration("INGEST_GRACE", &cfg.Ingest.Grace)
	p.boolean("INGEST_CONTRIBUTE", &cfg.Ingest.Contribute)
	p.boolean("INGEST_TRACK_ALL", &cfg.Ingest.TrackAll)
	p.boolean("INGEST_ALWAYS_DISPATCH", &cfg.Ingest.AlwaysDispatch)
	p.optBool("INGEST_HANDLERS_ENABLED", &cfg.Ingest.HandlersEnabled)
	p.ids("INGEST_LOCAL_ONLY_ZONES", &cfg.Ingest.LocalOnlyZones)

	// jurisdiction
	p.id("HOME_WORLD_ID", &cfg.Jurisdiction.Home.WorldID)
	p.id("HOME_ZONE_ID", &cfg.Jurisdiction.Home.ZoneID)
	p.id("HOME_INSTANCE_ID", &cfg.Jurisdiction.Home.InstanceID)
	p.str("JURISDICTION_CONTRIBUTE_MINIMUM", &cfg.Jurisdiction.ContributeMinimum)
	for _, t := range []string{"hunt", "fate"} {
		var lvl string
		p.str("JURISDICTION_"+strings.ToUpper(t), &lvl)
		if lvl != "" {
			if cfg.Jurisdiction.Defaults == nil {
				cfg.Jurisdiction.Defaults = make(map[string]string)
			}
			cfg.Jurisdiction.Defaults[t] = lvl
		}
	}

	// index and views
	p.optBool("INDEX_ENABLED", &cfg.Index.Enabled)
	p.integer("INDEX_INITIAL_CAPACITY", &cfg.Index.InitialCapacity)
	p.str("VIEWS_SCAN_RATE", &cfg.Views.ScanRate)
	p.str("VIEWS_ACCELERATION", &cfg.Views.Acceleration)
	p.duration("VIEWS_INTERVAL", &cfg.Views.Interval)
	p.integer("VIEWS_LIMIT", &cfg.Views.Limit)

	// expiry
	p.boolean("EXPIRY_ENABLED", &cfg.Expiry.Enabled)
	p.str("EXPIRY_CRON", &cfg.Expiry.Cron)
	p.duration("EXPIRY_HUNT_MAX_AGE", &cfg.Expiry.HuntMaxAge)
	p.duration("EXPIRY_FATE_MAX_AGE", &cfg.Expiry.FateMaxAge)
	p.duration("EXPIRY_DEAD_MAX_AGE", &cfg.Expiry.DeadMaxAge)

	// peer
	p.str("PEER_ENDPOINT", &cfg.Peer.Endpoint)
	p.str("PEER_TOKEN", &cfg.Peer.Token)
	p.str("PEER_FORMAT", &cfg.Peer.Format)
	p.duration("PEER_TIMEOUT", &cfg.Peer.Timeout)
	p.duration("PEER_HEALTH_INTERVAL", &cfg.Peer.HealthInterval)

	// catalog
	p.str("CATALOG_PATH", &cfg.Catalog.Path)

	// sensor
	p.boolean("SENSOR_ENABLED", &cfg.Sensor.Enabled)
	p.duration("SENSOR_POLL_INTERVAL", &cfg.Sensor.PollInterval)
	p.size("SENSOR_RSS_HIGH_BYTES", &cfg.Sensor.RSSHighBytes)
	p.size("SENSOR_HEAP_HIGH_BYTES", &cfg.Sensor.HeapHighBytes)
	p.duration("SENSOR_RECOVERY_WINDOW", &cfg.Sensor.RecoveryWindow)

	// telemetry
	p.boolean("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	p.str("TELEMETRY_PATH", &cfg.Telemetry.Path)
	p.size("TELEMETRY_BUFFER_SIZE", &cfg.Telemetry.BufferSize)
	p.integer("TELEMETRY_QUEUE_CAPACITY", &cfg.Telemetry.QueueCapacity)
	p.duration("TELEMETRY_FLUSH_INTERVAL", &cfg.Telemetry.FlushInterval)
	p.size("TELEMETRY_FILE_MAX_SIZE", &cfg.Telemetry.FileMaxSize)

	return errors.Join(p.errs...)
}

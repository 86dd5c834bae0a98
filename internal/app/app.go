package app

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/internal/expiry"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/api"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/catalog"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/config"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/config/banner"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/contribute"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/ingest"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/jurisdiction"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/peer"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/relay"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/sensor"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/shutdown"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/view"
)

// App groups the relayd components and their lifecycle.
type App struct {
	cfg     *config.Config
	source  string
	version string

	registry *prometheus.Registry
	metrics  *telemetry.Metrics
	catalog  *catalog.Static
	resolver *jurisdiction.Static
	peer     *peer.Client
	engine   *ingest.Engine
	intake   *ingest.Intake
	huntView *view.View[*relay.HuntRelay]
	fateView *view.View[*relay.FateRelay]
	api      *api.API
	expiry   *expiry.Runner
	sensor   *sensor.Sensor

	srvFast *fasthttp.Server
	cancel  context.CancelFunc
	state   atomic.Value // string
}

// New builds every component from a validated config. Nothing is started;
// call Run.
func New(cfg *config.Config, source, version string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := cfg.CheckFiles(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, source: source, version: version}
	a.state.Store("init")

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = telemetry.NewMetrics(a.registry)

	if err := a.loadCatalog(); err != nil {
		return nil, err
	}

	resolver, err := cfg.Jurisdiction.Resolver()
	if err != nil {
		return nil, err
	}
	a.resolver = resolver

	var sender contribute.Sender
	if cfg.Peer.Endpoint != "" {
		a.peer = peer.New(peer.Options{
			Endpoint:       cfg.Peer.Endpoint,
			Token:          cfg.Peer.Token,
			Format:         cfg.Peer.Format,
			Timeout:        cfg.Peer.Timeout.Duration(),
			HealthInterval: cfg.Peer.HealthInterval.Duration(),
		})
		sender = a.peer
	} else if cfg.Ingest.Contribute {
		logger.Warn("contribute_without_peer", "msg", "ingest.contribute is set but peer.endpoint is empty; relays stay local")
	}

	a.engine = ingest.New(ingest.Options{
		Catalog:         a.catalog,
		Jurisdiction:    a.resolver,
		Sender:          sender,
		Metrics:         a.metrics,
		Grace:           cfg.Ingest.Grace.Duration(),
		Home:            cfg.Jurisdiction.HomeLocation(),
		Contribute:      cfg.Ingest.Contribute,
		TrackAll:        cfg.Ingest.TrackAll,
		AlwaysDispatch:  cfg.Ingest.AlwaysDispatch,
		HandlersEnabled: cfg.HandlersEnabled(),
		LocalOnlyZones:  cfg.Ingest.LocalOnlyZones,
		Indexing:        cfg.IndexingEnabled(),
		InitialCapacity: cfg.Index.InitialCapacity,
	})
	a.intake = ingest.NewIntake(a.engine, cfg.Ingest.QueueCapacity)

	if err := a.buildViews(); err != nil {
		return nil, err
	}

	a.api = api.New(api.Deps{
		Engine:   a.engine,
		Intake:   a.intake,
		HuntView: a.huntView,
		FateView: a.fateView,
		Metrics:  a.metrics,
		Gatherer: a.registry,
		Version:  version,
	}, api.Options{
		RateRPS:     cfg.Server.RateLimit.RPS,
		RateBurst:   cfg.Server.RateLimit.Burst,
		AdminToken:  cfg.Server.AdminToken,
		RelayTokens: cfg.Server.RelayTokens,
	})

	if cfg.Expiry.Enabled {
		dead := cfg.Expiry.DeadMaxAge.Duration()
		a.expiry, err = expiry.New(cfg.Expiry.Cron, []expiry.Target{
			expiry.StoreTarget("hunt", a.engine.Hunts.Store(), expiry.Policy{MaxAge: cfg.Expiry.HuntMaxAge.Duration(), DeadMaxAge: dead}),
			expiry.StoreTarget("fate", a.engine.Fates.Store(), expiry.Policy{MaxAge: cfg.Expiry.FateMaxAge.Duration(), DeadMaxAge: dead}),
		}, a.metrics, nil)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Sensor.Enabled {
		a.sensor = sensor.NewSensor(sensor.MonitorConfig{
			PollInterval:   cfg.Sensor.PollInterval.Duration(),
			RSSHighBytes:   uint64(max(cfg.Sensor.RSSHighBytes.Int64(), 0)),
			HeapHighBytes:  uint64(max(cfg.Sensor.HeapHighBytes.Int64(), 0)),
			RecoveryWindow: cfg.Sensor.RecoveryWindow.Duration(),
		}, a.metrics)
	}

	a.registerGauges()
	return a, nil
}

func (a *App) loadCatalog() error {
	path := a.cfg.Catalog.Path
	if path == "" {
		logger.Warn("catalog_empty", "msg", "catalog.path is not set; every relay will fail validation")
		a.catalog = catalog.NewStatic(nil, nil)
		return nil
	}
	c, err := catalog.Load(path)
	if err != nil {
		return err
	}
	worlds, zones := c.Len()
	logger.Info("catalog_loaded", "path", path, "worlds", worlds, "zones", zones)
	a.catalog = c
	return nil
}

func (a *App) buildViews() error {
	rate, accel, err := a.cfg.Views.Pace()
	if err != nil {
		return err
	}
	a.huntView = view.New(a.engine.Hunts.Store(), a.engine.Hunts, view.Options[*relay.HuntRelay]{
		Name:         "hunts",
		Predicate:    func(s *relay.State[*relay.HuntRelay]) bool { return s.IsAlive() },
		Rate:         rate,
		Acceleration: accel,
		Limit:        a.cfg.Views.Limit,
		Metrics:      a.metrics,
	})
	a.fateView = view.New(a.engine.Fates.Store(), a.engine.Fates, view.Options[*relay.FateRelay]{
		Name:         "fates",
		Predicate:    func(s *relay.State[*relay.FateRelay]) bool { return fateShown(s, time.Now()) },
		Rate:         rate,
		Acceleration: accel,
		Limit:        a.cfg.Views.Limit,
		Metrics:      a.metrics,
	})
	return nil
}

// fateShown keeps running fates in the view until their timer runs out.
func fateShown(s *relay.State[*relay.FateRelay], now time.Time) bool {
	if !s.IsAlive() {
		return false
	}
	f := s.Relay()
	return f.EndsAt.IsZero() || f.Remaining(now) > 0
}

// Run starts the background loops and the HTTP server, then blocks until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	tcfg := a.cfg.Telemetry
	if tcfg.Enabled {
		if err := telemetry.InitTracing(tcfg.Path, int(tcfg.BufferSize.Int64()), tcfg.QueueCapacity, tcfg.FlushInterval.Duration(), tcfg.FileMaxSize.Int64()); err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
	}

	banner.Print(os.Stdout, a.cfg, a.source, a.version)
	logger.LogConfigSummary("config_summary", a.cfg.Summary())
	logger.LogConfigSummary("capacity_summary", []string{
		fmt.Sprintf("intake_capacity: %s relays", humanize.Comma(int64(a.cfg.Ingest.QueueCapacity))),
		fmt.Sprintf("intake_workers: %d", a.cfg.Ingest.Workers),
		fmt.Sprintf("max_body_size: %s", humanize.IBytes(uint64(a.cfg.Server.MaxBodySize.Int64()))),
	})

	bg, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.intake.Start(a.cfg.Ingest.Workers)
	go a.engine.Run(bg, a.cfg.Ingest.TickInterval.Duration())
	go a.huntView.Run(bg, a.cfg.Views.Interval.Duration())
	go a.fateView.Run(bg, a.cfg.Views.Interval.Duration())
	go a.syncContribution(bg, a.cfg.Ingest.TickInterval.Duration())
	if a.peer != nil {
		go a.peer.Run(bg)
	}
	if a.expiry != nil {
		a.expiry.Start(bg)
	}
	if a.sensor != nil {
		a.sensor.Start()
	}

	a.state.Store("running")
	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// syncContribution keeps the resolver's contribution flag in step with the
// engine so contribute-minimum levels apply only while relays go upstream.
func (a *App) syncContribution(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := a.engine.Contributing()
	a.resolver.SetContributing(last)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if on := a.engine.Contributing(); on != last {
				a.resolver.SetContributing(on)
				logger.Info("contribution_changed", "contributing", on)
				last = on
			}
		}
	}
}

// Shutdown tears the app down in order.
func (a *App) Shutdown(ctx context.Context) error {
	a.state.Store("shutting_down")
	extra := []shutdown.Stopper{
		shutdown.StopFunc(a.huntView.Close),
		shutdown.StopFunc(a.fateView.Close),
		shutdown.StopFunc(a.api.Close),
	}
	if a.sensor != nil {
		extra = append(extra, a.sensor)
	}
	err := shutdown.ShutdownApp(ctx, shutdown.Components{
		Server:     a.srvFast,
		Background: a.cancel,
		Intake:     a.intake,
		Engine:     a.engine,
		Extra:      extra,
	})
	if err == nil {
		a.state.Store("stopped")
	}
	return err
}

// State reports the lifecycle phase.
func (a *App) State() string { return a.state.Load().(string) }

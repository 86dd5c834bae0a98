package sensor

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/logger"
	"github.com/FFXIV-Sonar/SonarDistrib-sub000/pkg/telemetry"
)

// Reading is one resource sample of the process.
type Reading struct {
	MaxRSSBytes uint64
	CPUSeconds  float64
	HeapBytes   uint64
	Goroutines  int
}

// Sensor samples process resources, publishes them as gauges and logs
// when a threshold is crossed.
type Sensor struct {
	config   MonitorConfig
	metrics  *telemetry.Metrics
	read     func() (Reading, error)
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu           sync.Mutex
	rssAlert     bool
	heapAlert    bool
	lastRSSHigh  time.Time
	lastHeapHigh time.Time
	last         Reading
}

type MonitorConfig struct {
	PollInterval  time.Duration
	RSSHighBytes  uint64
	HeapHighBytes uint64
	// RecoveryWindow is how long a value must stay below its threshold
	// before the alert clears.
	RecoveryWindow time.Duration
}

func NewSensor(config MonitorConfig, metrics *telemetry.Metrics) *Sensor {
	if config.PollInterval <= 0 {
		panic("sensor.NewSensor: PollInterval must be > 0; ensure config.ValidateConfig() applied defaults")
	}
	return &Sensor{
		config:  config,
		metrics: metrics,
		read:    readProcess,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

func (s *Sensor) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *Sensor) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Check()
		case <-s.stopCh:
			return
		}
	}
}

// Last returns the most recent reading.
func (s *Sensor) Last() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Check takes one sample, publishes it and updates the alert state.
func (s *Sensor) Check() {
	r, err := s.read()
	if err != nil {
		logger.Warn("sensor_read_failed", "error", err)
		return
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r

	s.metrics.SetResource("max_rss_bytes", float64(r.MaxRSSBytes))
	s.metrics.SetResource("cpu_seconds", r.CPUSeconds)
	s.metrics.SetResource("heap_bytes", float64(r.HeapBytes))
	s.metrics.SetResource("goroutines", float64(r.Goroutines))

	s.rssAlert, s.lastRSSHigh = s.track("rss", r.MaxRSSBytes, s.config.RSSHighBytes, s.rssAlert, s.lastRSSHigh, now)
	s.heapAlert, s.lastHeapHigh = s.track("heap", r.HeapBytes, s.config.HeapHighBytes, s.heapAlert, s.lastHeapHigh, now)
}

// track applies one threshold. A zero threshold disables it.
func (s *Sensor) track(name string, v, high uint64, alert bool, lastHigh, now time.Time) (bool, time.Time) {
	if high == 0 {
		return false, lastHigh
	}
	if v > high {
		if !alert {
			logger.Warn("resource_high", "resource", name, "value", v, "threshold", high)
		}
		return true, now
	}
	if alert && now.Sub(lastHigh) >= s.config.RecoveryWindow {
		logger.Info("resource_recovered", "resource", name, "value", v, "threshold", high, "window", s.config.RecoveryWindow)
		return false, lastHigh
	}
	return alert, lastHigh
}

// Alerts reports the current alert state.
func (s *Sensor) Alerts() (rss, heap bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rssAlert, s.heapAlert
}

func readProcess() (Reading, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return Reading{}, err
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	cpu := float64(ru.Utime.Sec+ru.Stime.Sec) + float64(ru.Utime.Usec+ru.Stime.Usec)/1e6
	return Reading{
		// ru_maxrss is in KiB on linux
		MaxRSSBytes: uint64(ru.Maxrss) * 1024,
		CPUSeconds:  cpu,
		HeapBytes:   m.HeapAlloc,
		Goroutines:  runtime.NumGoroutine(),
	}, nil
}

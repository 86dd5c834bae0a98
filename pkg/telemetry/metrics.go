// Package telemetry exposes the tracker's prometheus collectors and the
// background trace writer used to time periodic jobs.
package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the tracker's collectors. A nil *Metrics discards
// everything, so components can be built without telemetry.
type Metrics struct {
	feeds         *prometheus.CounterVec
	events        *prometheus.CounterVec
	panics        *prometheus.CounterVec
	contributions *prometheus.CounterVec
	viewChanges   *prometheus.CounterVec
	expired       *prometheus.CounterVec
	resources     *prometheus.GaugeVec
	requests      *prometheus.CounterVec
	reg           prometheus.Registerer
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		feeds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "feeds_total",
			Help:      "Relay observations processed, by type, source and outcome.",
		}, []string{"type", "source", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "events_total",
			Help:      "Lifecycle events dispatched, by type and event.",
		}, []string{"type", "event"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "handler_panics_total",
			Help:      "Recovered subscriber panics, by component.",
		}, []string{"component"}),
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "contributions_total",
			Help:      "Outbound relays, by outcome.",
		}, []string{"outcome"}),
		viewChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "view_changes_total",
			Help:      "Entries accepted into or dropped from views.",
		}, []string{"view", "change"}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "expired_states_total",
			Help:      "States removed by the expiry policy.",
		}, []string{"type"}),
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayd",
			Name:      "process_resource",
			Help:      "Sampled process resource usage.",
		}, []string{"resource"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayd",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		reg: reg,
	}
	if reg != nil {
		reg.MustRegister(m.feeds, m.events, m.panics, m.contributions, m.viewChanges, m.expired, m.resources, m.requests)
	}
	return m
}

func (m *Metrics) Feed(typ, source, outcome string) {
	if m == nil {
		return
	}
	m.feeds.WithLabelValues(typ, source, outcome).Inc()
}

func (m *Metrics) Event(typ, event string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ, event).Inc()
}

func (m *Metrics) Panic(component string) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(component).Inc()
}

func (m *Metrics) Contribution(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.contributions.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ViewChange(view, change string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.viewChanges.WithLabelValues(view, change).Add(float64(n))
}

func (m *Metrics) Expired(typ string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.expired.WithLabelValues(typ).Add(float64(n))
}

func (m *Metrics) Request(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// SetResource publishes a sampled resource value.
func (m *Metrics) SetResource(name string, v float64) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(name).Set(v)
}

// Gauge registers a gauge whose value is read from fn at scrape time.
func (m *Metrics) Gauge(name, help string, labels prometheus.Labels, fn func() float64) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "relayd",
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	}, fn))
}

package app

import "github.com/prometheus/client_golang/prometheus"

// registerGauges exposes store and queue sizes read at scrape time.
func (a *App) registerGauges() {
	m := a.metrics
	hunts, fates := a.engine.Hunts.Store(), a.engine.Fates.Store()

	m.Gauge("states", "Stored states by type.", prometheus.Labels{"type": "hunt"}, func() float64 { return float64(hunts.Count()) })
	m.Gauge("states", "Stored states by type.", prometheus.Labels{"type": "fate"}, func() float64 { return float64(fates.Count()) })
	m.Gauge("index_keys", "Materialized index keys by type.", prometheus.Labels{"type": "hunt"}, func() float64 { return float64(hunts.IndexCount()) })
	m.Gauge("index_keys", "Materialized index keys by type.", prometheus.Labels{"type": "fate"}, func() float64 { return float64(fates.IndexCount()) })
	m.Gauge("view_members", "Current view members.", prometheus.Labels{"view": "hunts"}, func() float64 { return float64(a.huntView.Len()) })
	m.Gauge("view_members", "Current view members.", prometheus.Labels{"view": "fates"}, func() float64 { return float64(a.fateView.Len()) })
	m.Gauge("contribute_pending", "Relays waiting for the next contribution tick.", nil, func() float64 { return float64(a.engine.Pending()) })
	m.Gauge("intake_queued", "Network relays waiting in the intake queue.", nil, func() float64 { return float64(a.intake.Len()) })
	m.Gauge("intake_dropped", "Network relays dropped by a full intake queue.", nil, func() float64 { return float64(a.intake.Dropped()) })
	m.Gauge("contributing", "1 while local relays go to the upstream peer.", nil, func() float64 {
		if a.engine.Contributing() {
			return 1
		}
		return 0
	})
}

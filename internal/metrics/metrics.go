// Package metrics exposes Prometheus instrumentation for the monitor and
// sync manager.
//
// There is no process-wide registry: New constructs a private
// prometheus.Registry owned by the caller, who decides its lifecycle
// (construct at startup, scrape via Handler). Components accept a nil
// *Metrics and degrade to no-ops, so instrumentation is strictly opt-in.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrument set for one replica.
type Metrics struct {
	registry *prometheus.Registry

	bytesWritten  prometheus.Counter
	writesTracked prometheus.Counter
	overflows     prometheus.Counter
	usageRatio    prometheus.Gauge
	stateChanges  *prometheus.CounterVec

	syncCycles    *prometheus.CounterVec
	recordsPushed prometheus.Counter
	recordsPulled prometheus.Counter
	conflicts     prometheus.Counter
	pendingQueue  prometheus.Gauge
}

// New constructs a Metrics instance backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "memory",
			Name: "bytes_written_total",
			Help: "Estimated bytes written to the embedded store.",
		}),
		writesTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "memory",
			Name: "writes_tracked_total",
			Help: "Tracked mutating calls.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "memory",
			Name: "overflow_signals_total",
			Help: "Level-triggered overflow notifications raised.",
		}),
		usageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outpost", Subsystem: "memory",
			Name: "usage_ratio",
			Help: "Current bytes written over the configured limit, clamped to [0,1].",
		}),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "memory",
			Name: "state_changes_total",
			Help: "Edge-triggered pressure state transitions.",
		}, []string{"state"}),
		syncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "sync",
			Name: "cycles_total",
			Help: "Sync cycles by outcome.",
		}, []string{"outcome"}),
		recordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "sync",
			Name: "records_pushed_total",
			Help: "Records accepted by the remote store.",
		}),
		recordsPulled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "sync",
			Name: "records_pulled_total",
			Help: "Remote records applied locally.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "outpost", Subsystem: "sync",
			Name: "conflicts_total",
			Help: "Pulled records that required conflict resolution.",
		}),
		pendingQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "outpost", Subsystem: "sync",
			Name: "pending_records",
			Help: "Records queued and not yet accepted by the server.",
		}),
	}

	m.registry.MustRegister(
		m.bytesWritten, m.writesTracked, m.overflows, m.usageRatio, m.stateChanges,
		m.syncCycles, m.recordsPushed, m.recordsPulled, m.conflicts, m.pendingQueue,
	)
	return m
}

// Registry returns the underlying registry for callers that compose scrape
// endpoints themselves.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler serving the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWrite records one tracked write of delta estimated bytes at the
// given usage ratio.
func (m *Metrics) ObserveWrite(delta uint64, ratio float64) {
	if m == nil {
		return
	}
	m.bytesWritten.Add(float64(delta))
	m.writesTracked.Inc()
	m.usageRatio.Set(ratio)
}

// ObserveOverflow records a level-triggered overflow notification.
func (m *Metrics) ObserveOverflow() {
	if m == nil {
		return
	}
	m.overflows.Inc()
}

// ObserveStateChange records an edge-triggered transition into state.
func (m *Metrics) ObserveStateChange(state string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(state).Inc()
}

// ObserveReset clears the usage gauge after a monitor reset.
func (m *Metrics) ObserveReset() {
	if m == nil {
		return
	}
	m.usageRatio.Set(0)
}

// ObserveSync records the outcome of one sync cycle
// ("ok", "error" or "skipped").
func (m *Metrics) ObserveSync(outcome string) {
	if m == nil {
		return
	}
	m.syncCycles.WithLabelValues(outcome).Inc()
}

// ObservePush records n accepted records.
func (m *Metrics) ObservePush(n int) {
	if m == nil {
		return
	}
	m.recordsPushed.Add(float64(n))
}

// ObservePull records n applied records.
func (m *Metrics) ObservePull(n int) {
	if m == nil {
		return
	}
	m.recordsPulled.Add(float64(n))
}

// ObserveConflict records one resolved conflict.
func (m *Metrics) ObserveConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// SetPending records the current pending-queue depth.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingQueue.Set(float64(n))
}

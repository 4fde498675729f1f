// Package observ holds the Prometheus collectors and health probes shared by
// the supervised processes. Each process owns its own registry.
package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector of the system.
type Metrics struct {
	Registry *prometheus.Registry

	// --- Ledger ---
	EventsIngested  *prometheus.CounterVec
	EventsDuplicate *prometheus.CounterVec
	LedgerEvents    prometheus.Gauge

	// --- Snapshots ---
	SnapshotsApplied prometheus.Counter
	SnapshotsStale   prometheus.Counter
	SnapshotErrors   prometheus.Counter
	SnapshotAge      prometheus.Gauge

	// --- Streaming ---
	StreamReconnects prometheus.Counter
	StreamConnected  prometheus.Gauge

	// --- Funds ---
	EffectiveFunds prometheus.Gauge
	FundsStale     prometheus.Gauge

	// --- Cycles ---
	Decisions   *prometheus.CounterVec
	OrderErrors prometheus.Counter

	// --- Supervisor ---
	UnitExits *prometheus.CounterVec

	// --- Dashboard ---
	APIRequests *prometheus.CounterVec
}

// NewMetrics creates a fresh registry with the Go and process collectors plus
// every daitrader metric.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		EventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "daitrader_ledger_events_ingested_total",
			Help: "Ledger events accepted, by kind",
		}, []string{"kind"}),

		EventsDuplicate: f.NewCounterVec(prometheus.CounterOpts{
			Name: "daitrader_ledger_events_duplicate_total",
			Help: "Redelivered events discarded (memory/store)",
		}, []string{"tier"}),

		LedgerEvents: f.NewGauge(prometheus.GaugeOpts{
			Name: "daitrader_ledger_events",
			Help: "Events currently kept in the in-memory ledger",
		}),

		SnapshotsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "daitrader_snapshots_applied_total",
			Help: "Broker snapshots stored and applied",
		}),

		SnapshotsStale: f.NewCounter(prometheus.CounterOpts{
			Name: "daitrader_snapshots_out_of_order_total",
			Help: "Snapshots discarded because a newer one was already applied",
		}),

		SnapshotErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "daitrader_snapshot_poll_errors_total",
			Help: "Failed snapshot polls",
		}),

		SnapshotAge: f.NewGauge(prometheus.GaugeOpts{
			Name: "daitrader_snapshot_age_seconds",
			Help: "Age of the snapshot behind the last reconciled view",
		}),

		StreamReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "daitrader_stream_reconnects_total",
			Help: "Activity stream reconnect attempts",
		}),

		StreamConnected: f.NewGauge(prometheus.GaugeOpts{
			Name: "daitrader_stream_connected",
			Help: "1 while the activity stream is running",
		}),

		EffectiveFunds: f.NewGauge(prometheus.GaugeOpts{
			Name: "daitrader_funds_effective_usd",
			Help: "Effective funds available from the last reconciled view",
		}),

		FundsStale: f.NewGauge(prometheus.GaugeOpts{
			Name: "daitrader_funds_stale",
			Help: "1 when the last reconciled view was stale",
		}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "daitrader_cycle_decisions_total",
			Help: "Trade proposals decided by the safety enforcer, by verdict",
		}, []string{"verdict"}),

		OrderErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "daitrader_order_errors_total",
			Help: "Permitted orders the venue did not accept",
		}),

		UnitExits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "daitrader_unit_exits_total",
			Help: "Supervised unit exits, by unit and status",
		}, []string{"unit", "status"}),

		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "daitrader_api_requests_total",
			Help: "Dashboard API requests, by route and status",
		}, []string{"route", "status"}),
	}
}

// Handler exposes the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

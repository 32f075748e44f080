package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ledger metrics
	MovementsRecorded *prometheus.CounterVec
	MovementAmount    *prometheus.HistogramVec
	MovementRejected  *prometheus.CounterVec
	UnitOfWorkLatency *prometheus.HistogramVec
	LedgerBalance     prometheus.Gauge
	ConflictRetries   prometheus.Counter

	// Audit metrics
	AuditEntriesCreated *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Cache metrics
	CacheLookups *prometheus.CounterVec

	// Outbox metrics
	EventsPublished *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits prometheus.Counter
}

// New creates and registers all metrics on the default registerer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates and registers all metrics on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MovementsRecorded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_movements_total",
				Help: "Committed movement mutations by action and kind",
			},
			[]string{"action", "kind"},
		),
		MovementAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashledger_movement_amount",
				Help:    "Amounts of recorded movements",
				Buckets: []float64{1, 10, 100, 1000, 10000, 100000, 1000000},
			},
			[]string{"kind"},
		),
		MovementRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_movement_rejections_total",
				Help: "Failed movement mutations by reason",
			},
			[]string{"action", "reason"},
		),
		UnitOfWorkLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashledger_unit_of_work_duration_seconds",
				Help:    "Duration of ledger units of work including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		LedgerBalance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cashledger_balance",
			Help: "Ledger balance after the last committed mutation",
		}),
		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashledger_conflict_retries_total",
			Help: "Units of work retried after a deadlock or serialization failure",
		}),

		AuditEntriesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_audit_entries_total",
				Help: "Audit entries written by action",
			},
			[]string{"action"},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cashledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cashledger_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_cache_lookups_total",
				Help: "Aggregate cache lookups by result",
			},
			[]string{"result"},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cashledger_events_published_total",
				Help: "Outbox events handed to the sink by status",
			},
			[]string{"event_type", "status"},
		),

		RateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "cashledger_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
}

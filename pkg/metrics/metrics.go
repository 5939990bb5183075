package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Authorization decisions
	Decisions       *prometheus.CounterVec
	DecisionLatency *prometheus.HistogramVec
	IdentityResults *prometheus.CounterVec

	// Cache metrics
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheEvictions     *prometheus.CounterVec
	CacheExpired       *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Audit metrics
	AuditEvents     *prometheus.CounterVec
	AuditSyncWrites prometheus.Counter
	AuditSinkErrors *prometheus.CounterVec
	AuditBufferSize prometheus.Gauge
	AuditPurged     prometheus.Counter

	// Dependency metrics
	DirectoryLookups *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
}

// NewMetrics creates and registers all application metrics on reg. A nil reg
// registers on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Total number of authorization decisions",
		}, []string{"resource", "operation", "outcome"}),
		DecisionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decision_duration_seconds",
			Help:      "Time spent producing an authorization decision",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"cached"}),
		IdentityResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "resolutions_total",
			Help:      "Identity resolutions by result",
		}, []string{"result"}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits",
		}, []string{"cache"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses",
		}, []string{"cache"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Entries evicted to respect capacity",
		}, []string{"cache"}),
		CacheExpired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expired_total",
			Help:      "Entries removed after their TTL elapsed",
		}, []string{"cache"}),
		CacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Explicit cache invalidations",
		}, []string{"cache", "scope"}),

		AuditEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events recorded",
		}, []string{"action", "status"}),
		AuditSyncWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "sync_writes_total",
			Help:      "Audit events written synchronously because the sink queue was full",
		}),
		AuditSinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "sink_errors_total",
			Help:      "Failed audit sink writes",
		}, []string{"sink"}),
		AuditBufferSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "buffer_entries",
			Help:      "Entries currently held in the in-memory audit buffer",
		}),
		AuditPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "purged_total",
			Help:      "Audit entries removed by retention",
		}),

		DirectoryLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "lookups_total",
			Help:      "User directory lookups",
		}, []string{"status"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"name"}),
	}
}

// CacheObserver feeds cache events for one named cache into the metrics
type CacheObserver struct {
	m    *Metrics
	name string
}

// ForCache returns a cache observer labelled with name
func (m *Metrics) ForCache(name string) *CacheObserver {
	return &CacheObserver{m: m, name: name}
}

func (o *CacheObserver) Hit()     { o.m.CacheHits.WithLabelValues(o.name).Inc() }
func (o *CacheObserver) Miss()    { o.m.CacheMisses.WithLabelValues(o.name).Inc() }
func (o *CacheObserver) Evicted() { o.m.CacheEvictions.WithLabelValues(o.name).Inc() }
func (o *CacheObserver) Expired(n int) {
	o.m.CacheExpired.WithLabelValues(o.name).Add(float64(n))
}

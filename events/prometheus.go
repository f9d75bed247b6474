package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink maps the recognised event set onto a fixed collection of
// counters and histograms. Fields outside the ones it knows how to chart are
// ignored rather than rejected, so new fields can be added to an emit call
// without this sink needing to change in lockstep.
type PrometheusSink struct {
	connectionsAccepted prometheus.Counter
	authOK              prometheus.Counter
	authFail            prometheus.Counter
	queryDuration       prometheus.Histogram
	queryRows           prometheus.Histogram
	translatorWarnings  *prometheus.CounterVec
	translatorOverSLA   prometheus.Counter
	poolAcquireWait     prometheus.Histogram
	poolHealthDegraded  prometheus.Counter
	copyRows            prometheus.Histogram
	copyBytes           prometheus.Histogram
}

// NewPrometheusSink builds a PrometheusSink and registers its collectors
// against reg. Pass prometheus.DefaultRegisterer to use the global registry.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		connectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iris_pgwire_connections_accepted_total",
			Help: "Total client connections accepted.",
		}),
		authOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iris_pgwire_auth_success_total",
			Help: "Total successful authentication attempts.",
		}),
		authFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iris_pgwire_auth_failure_total",
			Help: "Total failed authentication attempts.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_pgwire_query_duration_seconds",
			Help:    "Query execution duration as seen by the wire front end.",
			Buckets: prometheus.DefBuckets,
		}),
		queryRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_pgwire_query_rows",
			Help:    "Rows returned per executed query.",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		}),
		translatorWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iris_pgwire_translator_warnings_total",
			Help: "Translator rewrite-stage warnings, by rule.",
		}, []string{"rule"}),
		translatorOverSLA: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iris_pgwire_translator_over_sla_total",
			Help: "Translations that exceeded the per-query SLA budget.",
		}),
		poolAcquireWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_pgwire_pool_acquire_wait_seconds",
			Help:    "Time spent waiting to acquire a backend handle.",
			Buckets: prometheus.DefBuckets,
		}),
		poolHealthDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iris_pgwire_pool_health_degraded_total",
			Help: "Idle backend handles closed by a failed health check.",
		}),
		copyRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_pgwire_copy_rows",
			Help:    "Rows transferred per completed COPY.",
			Buckets: []float64{0, 100, 1000, 10000, 100000, 1000000},
		}),
		copyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iris_pgwire_copy_bytes",
			Help:    "Bytes transferred per completed COPY.",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
	}

	reg.MustRegister(
		s.connectionsAccepted, s.authOK, s.authFail,
		s.queryDuration, s.queryRows,
		s.translatorWarnings, s.translatorOverSLA,
		s.poolAcquireWait, s.poolHealthDegraded,
		s.copyRows, s.copyBytes,
	)
	return s
}

// Emit implements Sink.
func (s *PrometheusSink) Emit(name string, fields ...Field) {
	switch name {
	case ConnectionAccepted:
		s.connectionsAccepted.Inc()
	case ConnectionAuthOK:
		s.authOK.Inc()
	case ConnectionAuthFail:
		s.authFail.Inc()
	case QueryExecuted:
		if v, ok := floatField(fields, "duration_ms"); ok {
			s.queryDuration.Observe(v / 1000)
		}
		if v, ok := floatField(fields, "rows"); ok {
			s.queryRows.Observe(v)
		}
	case TranslatorWarn:
		rule, _ := stringField(fields, "rule")
		s.translatorWarnings.WithLabelValues(rule).Inc()
	case TranslatorOverSLA:
		s.translatorOverSLA.Inc()
	case PoolAcquire:
		if v, ok := floatField(fields, "wait_ms"); ok {
			s.poolAcquireWait.Observe(v / 1000)
		}
	case PoolHealthDegraded:
		s.poolHealthDegraded.Inc()
	case CopyCompleted:
		if v, ok := floatField(fields, "rows"); ok {
			s.copyRows.Observe(v)
		}
		if v, ok := floatField(fields, "bytes"); ok {
			s.copyBytes.Observe(v)
		}
	}
}

func floatField(fields []Field, key string) (float64, bool) {
	for _, f := range fields {
		if f.Key != key {
			continue
		}
		switch v := f.Value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		}
	}
	return 0, false
}

func stringField(fields []Field, key string) (string, bool) {
	for _, f := range fields {
		if f.Key != key {
			continue
		}
		if v, ok := f.Value.(string); ok {
			return v, true
		}
	}
	return "", false
}

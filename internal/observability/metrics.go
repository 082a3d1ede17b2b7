package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// enrichment pipeline.
type Metrics struct {
	RecordsJoined   prometheus.Counter
	JoinDroppedRows *prometheus.CounterVec // labels: source, reason={orphan,duplicate,malformed}
	EnrichedRecords *prometheus.CounterVec // labels: status={done,partial,failed}
	PipelineRunning prometheus.Gauge

	// External lookup metrics.
	CacheLookups     *prometheus.CounterVec   // labels: api={meteo,overpass}, result={hit,miss}
	CacheWriteErrors prometheus.Counter
	Fetches          *prometheus.CounterVec   // labels: api, outcome={success,error}
	FetchDuration    *prometheus.HistogramVec // labels: api

	// Delivery metrics.
	BatchesDelivered   prometheus.Counter
	BatchesOverflowed  prometheus.Counter
	DocumentsDelivered prometheus.Counter
	DeliveryDuration   prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		RecordsJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "records_joined_total",
			Help:      "Accidents joined from the yearly source files.",
		}),
		JoinDroppedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "join_dropped_rows_total",
			Help:      "Source rows dropped during the join, by source and reason.",
		}, []string{"source", "reason"}),
		EnrichedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "records_enriched_total",
			Help:      "Records reaching a terminal enrichment state, by status.",
		}, []string{"status"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "baac_etl",
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 otherwise.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "cache_lookups_total",
			Help:      "Cache store lookups by API and result.",
		}, []string{"api", "result"}),
		CacheWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "cache_write_errors_total",
			Help:      "Failed cache writes (the fetched payload is still used).",
		}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "fetches_total",
			Help:      "External API fetches by API and outcome.",
		}, []string{"api", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "baac_etl",
			Name:      "fetch_duration_seconds",
			Help:      "Physical API call duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"api"}),
		BatchesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "batches_delivered_total",
			Help:      "Batches acknowledged by the sink.",
		}),
		BatchesOverflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "batches_overflowed_total",
			Help:      "Batches routed to the overflow log after delivery retries.",
		}),
		DocumentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "baac_etl",
			Name:      "documents_delivered_total",
			Help:      "Documents acknowledged by the sink.",
		}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "baac_etl",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of one successful batch transmission.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}

	prometheus.MustRegister(
		m.RecordsJoined,
		m.JoinDroppedRows,
		m.EnrichedRecords,
		m.PipelineRunning,
		m.CacheLookups,
		m.CacheWriteErrors,
		m.Fetches,
		m.FetchDuration,
		m.BatchesDelivered,
		m.BatchesOverflowed,
		m.DocumentsDelivered,
		m.DeliveryDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		RecordsJoined:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: "baac_etl", Name: "records_joined_total"}),
		JoinDroppedRows:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "baac_etl", Name: "join_dropped_rows_total"}, []string{"source", "reason"}),
		EnrichedRecords:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "baac_etl", Name: "records_enriched_total"}, []string{"status"}),
		PipelineRunning:    prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "baac_etl", Name: "pipeline_running"}),
		CacheLookups:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "baac_etl", Name: "cache_lookups_total"}, []string{"api", "result"}),
		CacheWriteErrors:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "baac_etl", Name: "cache_write_errors_total"}),
		Fetches:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "baac_etl", Name: "fetches_total"}, []string{"api", "outcome"}),
		FetchDuration:      prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "baac_etl", Name: "fetch_duration_seconds"}, []string{"api"}),
		BatchesDelivered:   prometheus.NewCounter(prometheus.CounterOpts{Namespace: "baac_etl", Name: "batches_delivered_total"}),
		BatchesOverflowed:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: "baac_etl", Name: "batches_overflowed_total"}),
		DocumentsDelivered: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "baac_etl", Name: "documents_delivered_total"}),
		DeliveryDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "baac_etl", Name: "delivery_duration_seconds"}),
	}
}

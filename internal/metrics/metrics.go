// Package metrics exposes Prometheus counters for ingest and query activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// UploadsTotal counts upload requests by terminal status:
	// ok, schema_error, parse_error, locked_conflict, storage_error.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales",
		Name:      "uploads_total",
		Help:      "Spreadsheet upload requests by outcome.",
	}, []string{"status"})

	// RowsTotal counts processed rows by disposition:
	// inserted, updated, dropped, failed, locked_skipped.
	RowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales",
		Name:      "ingest_rows_total",
		Help:      "Ingested rows by disposition.",
	}, []string{"disposition"})

	// ReloadsTotal counts bulk reloads by outcome.
	ReloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sales",
		Name:      "bulk_reloads_total",
		Help:      "Bulk wipe-and-reload runs by outcome.",
	}, []string{"status"})

	// QueryDuration observes read-endpoint latency.
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sales",
		Name:      "query_duration_seconds",
		Help:      "Read endpoint latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Handler returns the scrape endpoint handler.
func Handler() http.Handler { return promhttp.Handler() }

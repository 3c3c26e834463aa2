package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)
	feedFetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_feed_fetch_attempts_total",
			Help: "Feed fetch attempts by outcome (success, retry, exhausted, error).",
		},
		[]string{"outcome"},
	)
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_sync_runs_total",
			Help: "Feed source sync runs by final state.",
		},
		[]string{"state"},
	)
	syncRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_sync_run_duration_seconds",
			Help:    "Duration of a single feed source sync run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)
	productsUpserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_products_upserted_total",
			Help: "Products processed by feed syncs by outcome (created, updated, frozen, failed).",
		},
		[]string{"outcome"},
	)
	imagesChanged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_product_images_changed_total",
			Help: "Product image rows written by reconciliation (added, removed).",
		},
		[]string{"op"},
	)
	sweepSources = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_sweep_sources",
			Help: "Progress of the current sweep (processed, total).",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(feedFetchAttempts)
	prometheus.MustRegister(syncRunsTotal)
	prometheus.MustRegister(syncRunDuration)
	prometheus.MustRegister(productsUpserted)
	prometheus.MustRegister(imagesChanged)
	prometheus.MustRegister(sweepSources)
}

// RecordRequest records metrics for a served HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

func RecordFetchAttempt(outcome string) {
	feedFetchAttempts.WithLabelValues(outcome).Inc()
}

func RecordSyncRun(state string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(state).Inc()
	syncRunDuration.Observe(duration.Seconds())
}

func RecordProduct(outcome string) {
	productsUpserted.WithLabelValues(outcome).Inc()
}

func RecordImages(added, removed int) {
	if added > 0 {
		imagesChanged.WithLabelValues("added").Add(float64(added))
	}
	if removed > 0 {
		imagesChanged.WithLabelValues("removed").Add(float64(removed))
	}
}

func SetSweepProgress(processed, total int) {
	sweepSources.WithLabelValues("processed").Set(float64(processed))
	sweepSources.WithLabelValues("total").Set(float64(total))
}

// classifyStatus buckets an HTTP status code.
func classifyStatus(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		return "3xx"
	} else if statusCode >= 400 && statusCode < 500 {
		return "4xx"
	} else if statusCode >= 500 && statusCode < 600 {
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the registered metrics for Prometheus scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

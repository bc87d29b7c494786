// Package metrics exposes Prometheus collectors for the page-weight service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageweight_runs_total",
			Help: "Run triggers, labeled by gate decision.",
		},
		[]string{"decision"},
	)

	siteMeasurementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageweight_site_measurements_total",
			Help: "Per-site measurement attempts, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	pageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pageweight_page_bytes",
			Help: "Page body size of the latest recorded measurement.",
		},
		[]string{"site"},
	)

	totalBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pageweight_total_bytes",
			Help: "Page plus asset size of the latest recorded measurement.",
		},
		[]string{"site"},
	)

	assetFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageweight_asset_fetch_failures_total",
			Help: "Asset fetches skipped because of an error, labeled by asset host.",
		},
		[]string{"host"},
	)

	historyCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pageweight_history_cache_requests_total",
			Help: "History reads, labeled by cache result.",
		},
		[]string{"result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method", "route"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pageweight_rate_limit_delays_seconds",
			Help:    "Histogram of per-host fetch throttling waits.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts one run trigger by decision (accepted, rejected, error).
func ObserveRun(decision string) {
	runsTotal.WithLabelValues(decision).Inc()
}

// ObserveSite counts one site outcome.
func ObserveSite(site, outcome string) {
	siteMeasurementsTotal.WithLabelValues(site, outcome).Inc()
}

// ObserveMeasurement publishes the latest sizes for a site.
func ObserveMeasurement(site string, page, total int64) {
	pageBytes.WithLabelValues(site).Set(float64(page))
	totalBytes.WithLabelValues(site).Set(float64(total))
}

// ObserveAssetFailure counts a skipped asset.
func ObserveAssetFailure(assetURL string) {
	assetFailuresTotal.WithLabelValues(SanitizeSite(assetURL)).Inc()
}

// ObserveHistoryCache counts a history read as "hit" or "miss".
func ObserveHistoryCache(result string) {
	historyCacheTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a throttling wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

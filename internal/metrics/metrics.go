// Package metrics exposes Prometheus collectors for citation crawls.
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
	apiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citenet_api_requests_total",
			Help: "Total number of bibliographic API requests, labeled by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	apiRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citenet_api_request_duration_seconds",
			Help:    "Histogram of bibliographic API request latencies, labeled by endpoint.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	apiRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citenet_api_retries_total",
			Help: "Total number of retried API requests, labeled by endpoint.",
		},
		[]string{"endpoint"},
	)

	nodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citenet_nodes_total",
			Help: "Total number of subgraph nodes handled, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	seedsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citenet_seeds_total",
			Help: "Total number of seeds processed, labeled by status.",
		},
		[]string{"status"},
	)

	activeCrawls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citenet_active_crawls",
			Help: "Number of seed crawls currently running.",
		},
	)

	inflightRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "citenet_inflight_requests",
			Help: "Number of outbound API requests currently holding a slot.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "citenet_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "citenet_http_requests_total",
			Help: "Total number of requests served by the status server, labeled by route and code.",
		},
		[]string{"route", "code"},
	)
)

// SanitizeHost extracts a lowercase hostname from a URL, or "unknown".
func SanitizeHost(rawURL string) string {
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

// ObserveAPIRequest records one API round trip.
func ObserveAPIRequest(endpoint, outcome string, duration time.Duration) {
	apiRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	apiRequestDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveAPIRetry counts a retried API request.
func ObserveAPIRetry(endpoint string) {
	apiRetriesTotal.WithLabelValues(endpoint).Inc()
}

// ObserveNode counts a node outcome such as "fetched", "stub" or "pruned".
func ObserveNode(outcome string) {
	nodesTotal.WithLabelValues(outcome).Inc()
}

// ObserveSeed counts a finished seed by terminal status.
func ObserveSeed(status string) {
	seedsTotal.WithLabelValues(status).Inc()
}

// IncActiveCrawls increments the running crawl gauge.
func IncActiveCrawls() {
	activeCrawls.Inc()
}

// DecActiveCrawls decrements the running crawl gauge.
func DecActiveCrawls() {
	activeCrawls.Dec()
}

// SetInflightRequests records the current number of outbound requests.
func SetInflightRequests(n int64) {
	inflightRequests.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest counts a request served by the status server.
func ObserveHTTPRequest(route string, code int) {
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Package metrics exposes Prometheus collectors for the ingest pipeline and
// the read API.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Page kinds used as the "kind" label.
const (
	KindListing  = "listing"
	KindDocument = "document"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	stubsInsertedTotal         prometheus.Counter
	documentsEnrichedTotal     prometheus.Counter
	documentsSkippedTotal      *prometheus.CounterVec
	enrichmentDurationSeconds  prometheus.Histogram
	rateLimitDelaySeconds      *prometheus.HistogramVec
	runsTotal                  *prometheus.CounterVec
	headlessPromotionsTotal    *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_pages_fetched_total",
				Help: "Pages fetched, labeled by kind (listing/document) and outcome.",
			},
			[]string{"kind", "status"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_bytes_fetched_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		stubsInsertedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_stubs_inserted_total",
				Help: "Stub documents inserted during discovery.",
			},
		)

		documentsEnrichedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "digest_documents_enriched_total",
				Help: "Documents enriched and updated.",
			},
		)

		documentsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_documents_skipped_total",
				Help: "Documents skipped during enrichment, labeled by reason.",
			},
			[]string{"reason"},
		)

		enrichmentDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "digest_enrichment_duration_seconds",
				Help:    "Latency of enrichment provider calls.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "digest_rate_limit_delay_seconds",
				Help:    "Time spent waiting on client-side rate limits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_runs_total",
				Help: "Scrape runs, labeled by outcome.",
			},
			[]string{"status"},
		)

		headlessPromotionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digest_headless_promotions_total",
				Help: "Pages re-fetched in a headless browser, labeled by outcome.",
			},
			[]string{"status"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown" if the URL is invalid.
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

// ObserveFetch records one page fetch.
func ObserveFetch(kind, rawURL string, ok bool, bytesFetched int) {
	Init()
	status := "ok"
	if !ok {
		status = "error"
	}
	pagesFetchedTotal.WithLabelValues(kind, status).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(SanitizeSite(rawURL)).Add(float64(bytesFetched))
	}
}

// ObserveStubInserted counts a new stub.
func ObserveStubInserted() {
	Init()
	stubsInsertedTotal.Inc()
}

// ObserveEnriched counts a document that reached the store fully enriched.
func ObserveEnriched() {
	Init()
	documentsEnrichedTotal.Inc()
}

// ObserveSkipped counts a document skipped for reason.
func ObserveSkipped(reason string) {
	Init()
	documentsSkippedTotal.WithLabelValues(reason).Inc()
}

// ObserveEnrichmentDuration records one provider call.
func ObserveEnrichmentDuration(d time.Duration) {
	Init()
	enrichmentDurationSeconds.Observe(d.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, d time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveRun counts a finished scrape run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObservePromotion counts one headless promotion attempt.
func ObservePromotion(ok bool) {
	Init()
	status := "ok"
	if !ok {
		status = "error"
	}
	headlessPromotionsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

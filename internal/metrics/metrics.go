// Package metrics registers and exposes the service's Prometheus
// instrumentation. All other packages record through the helpers here so the
// metric names live in one place.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgo_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passgo_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	elementSets = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passgo_element_sets",
		Help: "Number of satellites with a stored element set.",
	})

	elementAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passgo_element_age_seconds",
		Help: "Seconds since the element store last changed.",
	})

	predictionCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_prediction_cache_hits_total",
		Help: "Prediction cache lookups that found an entry.",
	})

	predictionCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_prediction_cache_misses_total",
		Help: "Prediction cache lookups that found no entry.",
	})

	predictionCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passgo_prediction_cache_entries",
		Help: "Number of (satellite, location) entries in the prediction cache.",
	})

	predictionCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_prediction_cache_evictions_total",
		Help: "Passes removed from the prediction cache by cleanup.",
	})

	passesPreserved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_passes_preserved_total",
		Help: "In-progress passes preserved across a cache refresh.",
	})

	staleFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_stale_fallbacks_total",
		Help: "Reads served from a stale cache entry after a fetch failure.",
	})

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgo_upstream_requests_total",
			Help: "Upstream API requests by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	budgetWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passgo_upstream_budget_wait_seconds",
			Help:    "Time spent waiting on the per-source rate budget.",
			Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 300},
		},
		[]string{"source"},
	)

	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passgo_tracking_sessions_active",
		Help: "Tracking sessions currently in the Active state.",
	})

	burstFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgo_burst_fetches_total",
			Help: "Position-burst fetches by outcome.",
		},
		[]string{"outcome"},
	)

	burstMemoHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_burst_memo_hits_total",
		Help: "Burst fetches avoided by reusing a memoized burst.",
	})

	streamConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgo_stream_connections_total",
			Help: "Stream connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "passgo_streams_active",
		Help: "Currently connected stream clients.",
	})

	streamMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_stream_messages_total",
		Help: "Messages sent to stream clients.",
	})

	streamBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "passgo_stream_bytes_total",
		Help: "Bytes sent to stream clients.",
	})

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passgo_stream_errors_total",
			Help: "Stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		elementSets,
		elementAgeSeconds,
		predictionCacheHits,
		predictionCacheMisses,
		predictionCacheEntries,
		predictionCacheEvictions,
		passesPreserved,
		staleFallbacks,
		upstreamRequests,
		budgetWaitSeconds,
		sessionsActive,
		burstFetches,
		burstMemoHits,
		streamConnections,
		streamsActive,
		streamMessages,
		streamBytes,
		streamErrors,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func SetElementSetCount(n int) { elementSets.Set(float64(n)) }

func SetElementAge(seconds float64) { elementAgeSeconds.Set(seconds) }

func IncPredictionCacheHits() { predictionCacheHits.Inc() }

func IncPredictionCacheMisses() { predictionCacheMisses.Inc() }

func SetPredictionCacheEntries(n int) { predictionCacheEntries.Set(float64(n)) }

func AddPredictionCacheEvictions(n int) { predictionCacheEvictions.Add(float64(n)) }

func AddPassesPreserved(n int) { passesPreserved.Add(float64(n)) }

func IncStaleFallbacks() { staleFallbacks.Inc() }

func IncUpstreamRequests(source, outcome string) {
	upstreamRequests.WithLabelValues(source, outcome).Inc()
}

func ObserveBudgetWait(source string, d time.Duration) {
	budgetWaitSeconds.WithLabelValues(source).Observe(d.Seconds())
}

func IncSessionsActive() { sessionsActive.Inc() }

func DecSessionsActive() { sessionsActive.Dec() }

func IncBurstFetches(outcome string) { burstFetches.WithLabelValues(outcome).Inc() }

func IncBurstMemoHits() { burstMemoHits.Inc() }

func IncStreamConnections(event string) { streamConnections.WithLabelValues(event).Inc() }

func IncStreamsActive() { streamsActive.Inc() }

func DecStreamsActive() { streamsActive.Dec() }

func IncStreamMessages() { streamMessages.Inc() }

func AddStreamBytes(n int64) { streamBytes.Add(float64(n)) }

func IncStreamErrors(reason string) { streamErrors.WithLabelValues(reason).Inc() }

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// knownRoutes are the exact paths exposed by the API.
var knownRoutes = map[string]bool{
	"/healthz":            true,
	"/readyz":             true,
	"/metrics":            true,
	"/api/v1/passes":      true,
	"/api/v1/cache/stats": true,
	"/api/v1/cache/clear": true,
}

// normalizeRoute collapses parameterized paths to a single label so per-
// satellite IDs (and bot probes) cannot blow up metric cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	switch {
	case strings.HasPrefix(path, "/api/v1/stream/track/"):
		return "/api/v1/stream/track/{id}"
	case strings.HasPrefix(path, "/api/v1/track/"):
		rest := strings.TrimPrefix(path, "/api/v1/track/")
		i := strings.IndexByte(rest, '/')
		if i < 0 {
			return "/api/v1/track/{id}"
		}
		switch action := rest[i+1:]; action {
		case "start", "stop", "viewed":
			return "/api/v1/track/{id}/" + action
		}
		return "other"
	case strings.HasPrefix(path, "/api/v1/passes/") && strings.HasSuffix(path, "/refresh"):
		return "/api/v1/passes/{id}/refresh"
	}
	return "other"
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

// Package metrics provides Prometheus metrics, grounded on
// fruitsalade/internal/metrics but naming the core's own concerns:
// mutation operations, rescans, the update bus, and SSE subscribers.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canopy_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	mutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_mutations_total",
			Help: "Total mutation engine operations",
		},
		[]string{"op", "status"},
	)

	mutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canopy_mutation_duration_seconds",
			Help:    "Mutation engine operation duration, including disk I/O",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	rescanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canopy_rescan_duration_seconds",
			Help:    "Full filesystem rescan duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	rescansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_rescans_total",
			Help: "Total watcher-driven rescans",
		},
	)

	indexTreeSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_index_tree_size",
			Help: "Number of directories currently in the index",
		},
	)

	pendingUpdateSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_pending_update_set_size",
			Help: "Number of directories pending in the update bus before the next drain",
		},
	)

	updatesEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_updates_emitted_total",
			Help: "Total update notifications emitted to subscribers",
		},
		[]string{"kind"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	shareLinksActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "canopy_share_links_active",
			Help: "Number of active share links",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordMutation records one mutation engine operation.
func RecordMutation(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	mutationsTotal.WithLabelValues(op, status).Inc()
	mutationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRescan records a full filesystem rescan.
func RecordRescan(duration time.Duration) {
	rescansTotal.Inc()
	rescanDuration.Observe(duration.Seconds())
}

// SetIndexTreeSize sets the number of directories in the index.
func SetIndexTreeSize(size int) {
	indexTreeSize.Set(float64(size))
}

// SetPendingUpdateSetSize sets the update bus's current pending-set size.
func SetPendingUpdateSetSize(size int) {
	pendingUpdateSetSize.Set(float64(size))
}

// RecordUpdateEmitted records one notification sent to subscribers,
// kind is "update" or "updateall".
func RecordUpdateEmitted(kind string) {
	updatesEmittedTotal.WithLabelValues(kind).Inc()
}

// SetSSEConnectionsActive sets the number of active SSE connections.
func SetSSEConnectionsActive(count int) {
	sseConnectionsActive.Set(float64(count))
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	authAttemptsTotal.WithLabelValues(result).Inc()
}

// SetShareLinksActive sets the number of active share links.
func SetShareLinksActive(count int64) {
	shareLinksActive.Set(float64(count))
}

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

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

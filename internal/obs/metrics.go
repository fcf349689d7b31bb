package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// CacheLookups counts response cache lookups by scope (all|slug) and result (hit|miss).
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfboard_cache_lookups_total",
			Help: "Response cache lookups.",
		},
		[]string{"scope", "result"},
	)

	// CounterUpdates counts counter writes by outcome.
	CounterUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfboard_counter_updates_total",
			Help: "Login counter updates by outcome.",
		},
		[]string{"outcome"},
	)

	// ImportedLogins counts import items by status (created|exists).
	ImportedLogins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turfboard_imported_logins_total",
			Help: "Imported logins by status.",
		},
		[]string{"status"},
	)
)

// Init registers the metrics in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			CacheLookups, CounterUpdates, ImportedLogins)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// CanonicalPath collapses per-login paths so label cardinality stays bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	if rest, ok := strings.CutPrefix(p, "/api/logins/"); ok && rest != "" && !strings.Contains(rest, "/") {
		return "/api/logins/:slug"
	}
	return p
}

// Instrument records in-flight, total and latency per canonical path.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

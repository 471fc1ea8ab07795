package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by the whole service.
var (
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

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the readiness probe last succeeded.",
	})
)

// Identity-domain metrics.
var (
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_logins_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	LockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_lockouts_total",
		Help: "Accounts locked after repeated failures.",
	})

	RegistrationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_registrations_total",
		Help: "Committed tenant registrations.",
	})

	ResetsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_password_resets_total",
		Help: "Completed password resets.",
	})

	PasswordChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "identity_password_changes_total",
		Help: "Completed session-authenticated password changes.",
	})

	PermissionChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "identity_permission_checks_total",
			Help: "Permission decisions by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all metrics with the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration, ready,
		LoginsTotal, LockoutsTotal, RegistrationsTotal, ResetsTotal, PasswordChangesTotal, PermissionChecksTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the latest readiness probe outcome.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
	} else {
		ready.Set(0)
	}
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
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

// CanonicalPath collapses token-bearing path segments so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	segments := strings.Split(path, "/")
	if len(segments) == 5 && segments[1] == "v1" && segments[2] == "auth" && segments[3] == "verify" {
		segments[4] = ":token"
		return strings.Join(segments, "/")
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

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

// Общие HTTP-метрики
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
)

// Domain counters.
var (
	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_auth_attempts_total",
			Help: "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_access_decisions_total",
			Help: "Access policy decisions by tier and result.",
		},
		[]string{"level", "allowed"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_rate_limited_total",
			Help: "Requests refused by a rate gate.",
		},
		[]string{"scope"},
	)

	downloadTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_download_tokens_total",
			Help: "Download token lifecycle events.",
		},
		[]string{"event"},
	)
)

var initOnce sync.Once

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			authAttempts, accessDecisions, rateLimited, downloadTokens,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func AuthAttempt(outcome string) {
	authAttempts.WithLabelValues(outcome).Inc()
}

func AccessDecision(level string, allowed bool) {
	accessDecisions.WithLabelValues(level, strconv.FormatBool(allowed)).Inc()
}

func RateLimited(scope string) {
	rateLimited.WithLabelValues(scope).Inc()
}

func DownloadToken(event string) {
	downloadTokens.WithLabelValues(event).Inc()
}

// Instrument wraps next with request count, latency and in-flight metrics.
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

// CanonicalPath collapses identifiers so label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		return path
	}
	switch parts[1] {
	case "resources":
		// /v1/resources/{kind}/{id}/{action}
		if len(parts) == 5 && (parts[4] == "access" || parts[4] == "download") {
			return "/v1/resources/" + parts[2] + "/:id/" + parts[4]
		}
	case "downloads":
		if len(parts) == 3 && parts[2] != "quota" {
			return "/v1/downloads/:token"
		}
	case "access-requests":
		if len(parts) == 4 && (parts[3] == "approve" || parts[3] == "deny") {
			return "/v1/access-requests/:id/" + parts[3]
		}
	}
	return path
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

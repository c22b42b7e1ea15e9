package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	rateLimited    *prometheus.CounterVec
	sessionsIssued *prometheus.CounterVec
	progressWrites *prometheus.CounterVec
	limiterBackend *prometheus.GaugeVec
}

// New registers the collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"scope"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_sessions_issued_total",
			Help: "Session tokens minted",
		}, []string{"role"}),
		progressWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_progress_writes_total",
			Help: "Progress upserts by result",
		}, []string{"result"}),
		limiterBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "folio_ratelimit_backend",
			Help: "Active rate limit counter store (1 = active)",
		}, []string{"backend"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.rateLimited,
		m.sessionsIssued,
		m.progressWrites,
		m.limiterBackend,
	)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

func (m *Metrics) SessionIssued(role string) {
	if m == nil {
		return
	}
	m.sessionsIssued.WithLabelValues(role).Inc()
}

func (m *Metrics) ProgressWrite(result string) {
	if m == nil {
		return
	}
	m.progressWrites.WithLabelValues(result).Inc()
}

// SetLimiterBackend marks backend as the active counter store.
func (m *Metrics) SetLimiterBackend(active string, all ...string) {
	if m == nil {
		return
	}
	for _, b := range all {
		m.limiterBackend.WithLabelValues(b).Set(0)
	}
	m.limiterBackend.WithLabelValues(active).Set(1)
}

// Middleware records request count and latency. The route label is the
// matched ServeMux pattern, so it must wrap the mux directly: handlers in
// between that copy the request hide the pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

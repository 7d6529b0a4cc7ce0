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

	gateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_gate_transitions_total",
			Help: "Session gate state transitions.",
		},
		[]string{"from", "to"},
	)

	gateResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "session_gate_resolve_seconds",
			Help:    "Time spent resolving an auth event, including the profile fetch.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	policyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "member_policy_decisions_total",
			Help: "Member authorization decisions by action and code.",
		},
		[]string{"action", "code"},
	)

	authAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_sign_in_attempts_total",
			Help: "Sign-in attempts by result.",
		},
		[]string{"result"},
	)

	initOnce sync.Once
)

// Init registers the collectors in the default registry. Safe to call more
// than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			gateTransitions, gateResolveDuration,
			policyDecisions, authAttempts,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests.
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

// CanonicalPath collapses member and profile ids so label cardinality stays
// bounded.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	parts := strings.Split(strings.Trim(raw, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		return raw
	}
	switch parts[1] {
	case "members":
		if parts[2] == "stream" {
			return raw
		}
		switch {
		case len(parts) == 3:
			return "/v1/members/:id"
		case len(parts) == 4 && (parts[3] == "status" || parts[3] == "role" || parts[3] == "options"):
			return "/v1/members/:id/" + parts[3]
		}
	case "profiles":
		if len(parts) == 3 {
			return "/v1/profiles/:id"
		}
	}
	return raw
}

// ObserveGateTransition counts one gate state change.
func ObserveGateTransition(from, to string) {
	gateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveGateResolve records how long a resolution took.
func ObserveGateResolve(outcome string, d time.Duration) {
	gateResolveDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObservePolicyDecision counts one authorization decision.
func ObservePolicyDecision(action, code string) {
	policyDecisions.WithLabelValues(action, code).Inc()
}

// ObserveSignIn counts a sign-in attempt.
func ObserveSignIn(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	authAttempts.WithLabelValues(result).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets streaming handlers work behind the instrumentation wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

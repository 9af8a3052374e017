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
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "progression_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "progression_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_layer",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of committed balance mutations.",
		},
		[]string{"type"},
	)

	taskCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "progression_layer",
			Subsystem: "tasks",
			Name:      "completions_total",
			Help:      "Total number of task completion attempts.",
		},
		[]string{"result"},
	)

	levelUps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "progression_layer",
			Subsystem: "progression",
			Name:      "level_ups_total",
			Help:      "Total number of level-up events emitted.",
		},
	)

	yieldRuns = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "progression_layer",
			Subsystem: "yield",
			Name:      "run_duration_seconds",
			Help:      "Duration of daily yield distribution runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerOperations,
		taskCompletions,
		levelUps,
		yieldRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordLedgerOperation counts a committed balance mutation by type.
func RecordLedgerOperation(txType string) {
	ledgerOperations.WithLabelValues(txType).Inc()
}

// RecordTaskCompletion counts a completion attempt outcome.
func RecordTaskCompletion(result string) {
	taskCompletions.WithLabelValues(result).Inc()
}

// RecordLevelUp counts an emitted level-up event.
func RecordLevelUp() {
	levelUps.Inc()
}

// RecordYieldRun records the duration of one distribution sweep.
func RecordYieldRun(outcome string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	yieldRuns.WithLabelValues(outcome).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "users" {
		return "/" + parts[0]
	}
	if len(parts) == 1 {
		return "/users"
	}
	if len(parts) == 2 {
		return "/users/:user"
	}
	resource := parts[2]
	rest := parts[3:]
	path := "/users/" + resource
	if resource == "tasks" && len(rest) > 0 {
		path += "/:task"
		if len(rest) > 1 {
			path += "/" + rest[1]
		}
	} else if len(rest) > 0 {
		path += "/" + rest[0]
	}
	return path
}

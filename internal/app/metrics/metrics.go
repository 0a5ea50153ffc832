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
			Namespace: "marketplace_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	marketOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace_layer",
			Subsystem: "market",
			Name:      "operations_total",
			Help:      "Total number of marketplace operations.",
		},
		[]string{"op", "status"},
	)

	marketDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace_layer",
			Subsystem: "market",
			Name:      "operation_duration_seconds",
			Help:      "Duration of marketplace operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	batchItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace_layer",
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Total number of items processed in batch operations.",
		},
		[]string{"op", "status"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		marketOperations,
		marketDuration,
		batchItems,
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

// RecordOperation records one marketplace operation outcome.
func RecordOperation(op string, duration time.Duration, err error) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	marketOperations.WithLabelValues(op, status).Inc()
	marketDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordBatch records the item count of a batch operation outcome.
func RecordBatch(op string, items int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	batchItems.WithLabelValues(op, status).Add(float64(items))
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
	switch parts[0] {
	case "listings", "offers":
		out := "/" + parts[0]
		if len(parts) > 1 {
			out += "/:contract"
		}
		if len(parts) > 2 {
			out += "/:id"
		}
		if len(parts) > 3 {
			out += "/" + parts[len(parts)-1]
		}
		return out
	default:
		return "/" + parts[0]
	}
}

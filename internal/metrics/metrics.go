// Package metrics exposes Prometheus collectors for the booking service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amenity_booking",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amenity_booking",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amenity_booking",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Booking engine operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "amenity_booking",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of booking engine operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"op"},
	)

	consistencyFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amenity_booking",
			Subsystem: "engine",
			Name:      "consistency_faults_total",
			Help:      "Invariant violations detected while mutating slots or credits.",
		},
		[]string{"op"},
	)

	penaltiesCents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "amenity_booking",
			Subsystem: "engine",
			Name:      "penalties_cents_total",
			Help:      "Sum of monetary penalties recorded for billing.",
		},
	)

	sweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "amenity_booking",
			Subsystem: "scheduler",
			Name:      "sweep_runs_total",
			Help:      "Scheduled sweeps by job and success.",
		},
		[]string{"job", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		operations,
		operationDuration,
		consistencyFaults,
		penaltiesCents,
		sweepRuns,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched echo route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// RecordOperation records the result of one engine operation.
func RecordOperation(op, result string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Microsecond
	}
	operations.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordConsistencyFault counts an invariant violation.
func RecordConsistencyFault(op string) {
	consistencyFaults.WithLabelValues(op).Inc()
}

// RecordPenalty adds a recorded penalty amount.
func RecordPenalty(cents int64) {
	if cents > 0 {
		penaltiesCents.Add(float64(cents))
	}
}

// RecordSweep records the outcome of a scheduled sweep.
func RecordSweep(job string, success bool) {
	sweepRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
}

package handler

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/model"
	"github.com/mathieu-neron/BookGuard/bookguard-go/internal/service"
)

// Metrics holds all Prometheus collectors for the BookGuard backend. They are
// constructed eagerly so the Observe helpers are safe before InitMetrics.
var Metrics = struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	UnitsClassified  *prometheus.CounterVec
	UnitFailures     *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	CacheLookups     *prometheus.CounterVec
}{
	RunsTotal: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_moderation_runs_total",
			Help: "Moderation runs by model, strategy and result (passed, failed, error).",
		},
		[]string{"model", "strategy", "result"},
	),
	RunDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookguard_moderation_run_duration_seconds",
			Help:    "Wall time of a moderation run including provider calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"model", "strategy"},
	),
	UnitsClassified: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_units_classified_total",
			Help: "Content units sent to a provider.",
		},
		[]string{"model"},
	),
	UnitFailures: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_unit_failures_total",
			Help: "Content units whose classification failed.",
		},
		[]string{"model"},
	),
	RequestDuration: prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookguard_api_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by endpoint and method.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "status"},
	),
	RequestsInFlight: prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookguard_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		},
	),
	CacheLookups: prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookguard_cache_lookups_total",
			Help: "Redis run cache lookups by kind and outcome (hit, miss).",
		},
		[]string{"kind", "outcome"},
	),
}

var registerOnce sync.Once

// InitMetrics registers all Prometheus metrics. pool may be nil (in-memory
// store) and pending may be nil (no re-check worker). Safe to call twice.
func InitMetrics(pool *pgxpool.Pool, pending func() int) {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			Metrics.RunsTotal,
			Metrics.RunDuration,
			Metrics.UnitsClassified,
			Metrics.UnitFailures,
			Metrics.RequestDuration,
			Metrics.RequestsInFlight,
			Metrics.CacheLookups,
		)

		// DB pool gauges read live stats from pgxpool
		if pool != nil {
			prometheus.MustRegister(
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Name: "bookguard_db_connection_pool_active",
						Help: "Number of active database connections.",
					},
					func() float64 { return float64(pool.Stat().AcquiredConns()) },
				),
				prometheus.NewGaugeFunc(
					prometheus.GaugeOpts{
						Name: "bookguard_db_connection_pool_idle",
						Help: "Number of idle database connections.",
					},
					func() float64 { return float64(pool.Stat().IdleConns()) },
				),
			)
		}

		if pending != nil {
			prometheus.MustRegister(prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "bookguard_recheck_queue_pending",
					Help: "Coalesced re-check requests waiting for the next flush.",
				},
				func() float64 { return float64(pending()) },
			))
		}
	})
}

// ObserveRun records one finished moderation attempt.
func ObserveRun(o service.RunOutcome) {
	strategy := string(o.Strategy)
	Metrics.RunsTotal.WithLabelValues(o.Model, strategy, runResult(o)).Inc()
	Metrics.RunDuration.WithLabelValues(o.Model, strategy).Observe(o.Duration.Seconds())
	Metrics.UnitsClassified.WithLabelValues(o.Model).Add(float64(o.Units))
	if o.FailedUnits > 0 {
		Metrics.UnitFailures.WithLabelValues(o.Model).Add(float64(o.FailedUnits))
	}
}

func runResult(o service.RunOutcome) string {
	switch {
	case errors.Is(o.Err, model.ErrNothingToModerate):
		return "skipped"
	case o.Err != nil:
		return "error"
	case o.Passed:
		return "passed"
	default:
		return "failed"
	}
}

// ObserveCacheLookup counts a run cache read.
func ObserveCacheLookup(kind string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	Metrics.CacheLookups.WithLabelValues(kind, outcome).Inc()
}

// MetricsMiddleware records request duration and in-flight count for Prometheus.
func MetricsMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		// Don't instrument the /metrics endpoint itself
		if c.Path() == "/metrics" {
			return c.Next()
		}

		// Copy path and method into owned strings before c.Next(): Fiber
		// returns slices backed by the fasthttp buffer which fasthttpadaptor
		// may overwrite.
		endpoint := sanitizeEndpoint(strings.Clone(c.Path()))
		method := strings.Clone(c.Method())

		Metrics.RequestsInFlight.Inc()
		defer Metrics.RequestsInFlight.Dec()
		start := time.Now()

		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		Metrics.RequestDuration.WithLabelValues(endpoint, method, status).Observe(time.Since(start).Seconds())
		return err
	}
}

// sanitizeEndpoint normalizes paths to avoid cardinality explosion. Book ids
// are unbounded; model names come from configuration and are kept.
func sanitizeEndpoint(path string) string {
	const books = "/api/books/"
	if !strings.HasPrefix(path, books) || len(path) == len(books) {
		return path
	}
	rest := path[len(books):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return books + ":bookId" + rest[i:]
	}
	return books + ":bookId"
}

// MetricsHandler serves the Prometheus /metrics endpoint via Fiber.
func MetricsHandler() fiber.Handler {
	httpHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	return func(c fiber.Ctx) error {
		httpHandler(c.RequestCtx())
		return nil
	}
}

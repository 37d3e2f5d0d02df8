package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate on the read API.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent read API requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Webhook call rate by outcome. Watch for: auth_error (token expired), rate_limited.
	WebhookCallsTotal *prometheus.CounterVec

	// Webhook latency per call. Watch for: p99 close to the per-call timeout.
	WebhookDuration *prometheus.HistogramVec

	// Retry attempts for transient webhook failures.
	WebhookRetriesTotal prometheus.Counter

	// Webhook failures by category (see webhook.CategorizeError).
	WebhookErrorsTotal *prometheus.CounterVec

	// Refresh cycles by outcome: success, partial, failed, cancelled.
	RefreshesTotal *prometheus.CounterVec

	// Wall time of a full refresh cycle.
	RefreshDuration prometheus.Histogram

	// Plants in the current snapshot, and how many of them have no record.
	PlantsPublished   prometheus.Gauge
	PlantsUnavailable prometheus.Gauge

	// Readings kept despite falling outside their plausible range.
	OutOfRangeTotal *prometheus.CounterVec

	// Latest soil moisture per tracked plant (allow-list from config).
	PlantSoilMoisture *prometheus.GaugeVec

	// Snapshot store failures by operation (load, save).
	SnapshotStoreErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component and target state.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Rate limit denials on the read API.
	RateLimitDeniedTotal prometheus.Counter

	// trackedPlants is built from config; untracked plants get no per-plant series.
	trackedPlantsMu sync.RWMutex
	trackedPlants   map[string]struct{}

	trafficGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WebhookCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookCallsTotal",
			Help: "Total number of PlantHub webhook calls",
		},
		[]string{"mode", "status"},
	)
	WebhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "webhookDurationSeconds",
			Help:    "PlantHub webhook latency in seconds (per call)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"mode", "status"},
	)
	WebhookRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "webhookRetriesTotal",
			Help: "Total number of retry attempts for webhook calls",
		},
	)
	WebhookErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhookErrorsTotal",
			Help: "Webhook failures by error category",
		},
		[]string{"category"},
	)
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refreshesTotal",
			Help: "Refresh cycles by outcome",
		},
		[]string{"outcome"},
	)
	RefreshDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "refreshDurationSeconds",
			Help:    "Refresh cycle duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	PlantsPublished = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantsPublished",
			Help: "Plants in the current snapshot",
		},
	)
	PlantsUnavailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "plantsUnavailable",
			Help: "Plants in the current snapshot whose last fetch failed",
		},
	)
	OutOfRangeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readingsOutOfRangeTotal",
			Help: "Readings outside their plausible range (kept, not dropped)",
		},
		[]string{"field"},
	)
	PlantSoilMoisture = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plantSoilMoisturePercent",
			Help: "Latest soil moisture per tracked plant",
		},
		[]string{"plantId"},
	)
	SnapshotStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotStoreErrorsTotal",
			Help: "Snapshot store failures by operation",
		},
		[]string{"op"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "to"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WebhookCallsTotal, WebhookDuration, WebhookRetriesTotal, WebhookErrorsTotal,
		RefreshesTotal, RefreshDuration,
		PlantsPublished, PlantsUnavailable, OutOfRangeTotal, PlantSoilMoisture,
		SnapshotStoreErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		RateLimitDeniedTotal,
	)
}

// WindowCounter is the sliding-window view the traffic gauges read from.
type WindowCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
	ErrorRate(window time.Duration) (errors, total int)
}

// RegisterTrafficGauges registers gauges over the fetch/read-API tracker.
// Call once from main after config load.
func RegisterTrafficGauges(tr WindowCounter, window time.Duration) {
	trafficGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window",
				},
				func() float64 { return float64(tr.DenialCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "fetchErrorRateInWindow",
					Help: "Fraction of plant fetches that failed in sliding window",
				},
				func() float64 {
					errs, total := tr.ErrorRate(window)
					if total == 0 {
						return 0
					}
					return float64(errs) / float64(total)
				},
			),
		)
	})
}

// SetTrackedPlants sets the allow-list for per-plant series.
func SetTrackedPlants(ids []string) {
	trackedPlantsMu.Lock()
	defer trackedPlantsMu.Unlock()
	trackedPlants = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trackedPlants[id] = struct{}{}
	}
}

// RecordSoilMoisture updates the per-plant gauge for tracked plants. A nil
// reading removes the series so dashboards show a gap instead of a stale value.
func RecordSoilMoisture(plantID string, moisture *float64) {
	trackedPlantsMu.RLock()
	_, ok := trackedPlants[plantID]
	trackedPlantsMu.RUnlock()
	if !ok {
		return
	}
	if moisture == nil {
		PlantSoilMoisture.DeleteLabelValues(plantID)
		return
	}
	PlantSoilMoisture.WithLabelValues(plantID).Set(*moisture)
}

// RecordCircuitBreakerTransition records a breaker state change.
func RecordCircuitBreakerTransition(component, to string, state int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

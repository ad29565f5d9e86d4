package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels calls that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels calls that failed after any retries.
	OutcomeError = "error"

	namespace = "mirador_forecast"
)

var (
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Calls to the prediction service, partitioned by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	upstreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Prediction service call latency in seconds, retries included.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests, partitioned by route and status code.",
		},
		[]string{"route", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_seconds",
			Help:      "Gateway HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Predictions resolved through the gateway, partitioned by rating tier.",
		},
		[]string{"tier"},
	)

	brierScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "brier_score",
			Help:      "Brier scores of predictions resolved through the gateway.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.2, 0.25, 0.3, 0.5, 0.75, 1},
		},
	)
)

// Collectors returns every collector owned by the package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		upstreamRequestsTotal,
		upstreamDurationSeconds,
		httpRequestsTotal,
		httpDurationSeconds,
		resolutionsTotal,
		brierScores,
	}
}

// Register attaches mirador-forecast collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	for _, collector := range Collectors() {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveUpstream records one prediction service call.
func ObserveUpstream(operation string, duration time.Duration, outcome string) {
	upstreamRequestsTotal.WithLabelValues(operation, normaliseOutcome(outcome)).Inc()
	upstreamDurationSeconds.WithLabelValues(operation).Observe(clamp(duration).Seconds())
}

// ObserveHTTP records one gateway request. Unmatched routes should pass an empty route.
func ObserveHTTP(route string, code int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpDurationSeconds.WithLabelValues(route).Observe(clamp(duration).Seconds())
}

// ObserveResolution records the score of a freshly resolved prediction.
func ObserveResolution(tier string, score float64) {
	resolutionsTotal.WithLabelValues(tier).Inc()
	brierScores.Observe(score)
}

func normaliseOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return outcome
}

func clamp(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

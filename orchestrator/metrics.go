/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package orchestrator

import "github.com/prometheus/client_golang/prometheus"

const metricsLabelResult = "result"

// Result classifies how a FetchOrCompute call was resolved.
type Result string

// FetchOrCompute results.
const (
	ResultCacheHit     Result = "cache_hit"
	ResultFlightJoin   Result = "flight_join"
	ResultRateLimited  Result = "rate_limited"
	ResultComputed     Result = "computed"
	ResultComputeError Result = "compute_error"
	ResultTimeout      Result = "timeout"
)

// MetricsCollector represents a collector of the orchestrator metrics.
type MetricsCollector interface {
	// IncRequests increments the number of FetchOrCompute calls resolved with the given result.
	IncRequests(Result)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the orchestrator.
type PrometheusMetrics struct {
	RequestsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "fetch_requests_total",
			Help:        "Number of FetchOrCompute calls partitioned by how they were resolved.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{metricsLabelResult},
	)
	return &PrometheusMetrics{RequestsTotal: requestsTotal}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.RequestsTotal)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.RequestsTotal)
}

// IncRequests increments the number of FetchOrCompute calls resolved with the given result.
func (pm *PrometheusMetrics) IncRequests(result Result) {
	pm.RequestsTotal.With(prometheus.Labels{metricsLabelResult: string(result)}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncRequests(Result) {}

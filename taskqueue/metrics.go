/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package taskqueue

import "github.com/prometheus/client_golang/prometheus"

// Metrics labels.
const (
	metricsLabelStatus = "status"
)

// MetricsCollector represents a collector of queue metrics.
type MetricsCollector interface {
	// SetPendingTasks sets the number of tasks waiting for a running slot.
	SetPendingTasks(int)

	// SetRunningTasks sets the number of currently running tasks.
	SetRunningTasks(int)

	// IncFinishedTasks increments the number of tasks finished in the given terminal state.
	IncFinishedTasks(State)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents a Prometheus metrics for the task queue.
type PrometheusMetrics struct {
	PendingTasks  prometheus.Gauge
	RunningTasks  prometheus.Gauge
	FinishedTasks *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	pendingTasks := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_pending_tasks",
		Help:        "Number of tasks waiting for a running slot.",
		ConstLabels: opts.ConstLabels,
	})

	runningTasks := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "task_queue_running_tasks",
		Help:        "Number of currently running tasks.",
		ConstLabels: opts.ConstLabels,
	})

	finishedTasks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "task_queue_finished_tasks_total",
			Help:        "Number of finished tasks by terminal status.",
			ConstLabels: opts.ConstLabels,
		},
		[]string{metricsLabelStatus},
	)

	return &PrometheusMetrics{
		PendingTasks:  pendingTasks,
		RunningTasks:  runningTasks,
		FinishedTasks: finishedTasks,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.PendingTasks,
		pm.RunningTasks,
		pm.FinishedTasks,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.PendingTasks)
	prometheus.Unregister(pm.RunningTasks)
	prometheus.Unregister(pm.FinishedTasks)
}

// SetPendingTasks sets the number of tasks waiting for a running slot.
func (pm *PrometheusMetrics) SetPendingTasks(n int) {
	pm.PendingTasks.Set(float64(n))
}

// SetRunningTasks sets the number of currently running tasks.
func (pm *PrometheusMetrics) SetRunningTasks(n int) {
	pm.RunningTasks.Set(float64(n))
}

// IncFinishedTasks increments the number of tasks finished in the given terminal state.
func (pm *PrometheusMetrics) IncFinishedTasks(state State) {
	pm.FinishedTasks.With(prometheus.Labels{metricsLabelStatus: state.String()}).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetPendingTasks(int)   {}
func (disabledMetrics) SetRunningTasks(int)   {}
func (disabledMetrics) IncFinishedTasks(State) {}

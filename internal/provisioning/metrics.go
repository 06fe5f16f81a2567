package provisioning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every hubspoke collector. It is served at /metrics.
var Registry = prometheus.NewRegistry()

var (
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "hubspoke",
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Duration of workflow steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"step", "result"},
	)

	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hubspoke",
			Subsystem: "workflow",
			Name:      "runs_total",
			Help:      "Total number of create workflows by result",
		},
		[]string{"result"},
	)

	workflowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "hubspoke",
			Subsystem: "workflow",
			Name:      "active",
			Help:      "Number of create workflows currently running",
		},
	)

	rollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hubspoke",
			Subsystem: "rollback",
			Name:      "runs_total",
			Help:      "Total number of rollbacks by result",
		},
		[]string{"result"},
	)

	teardownFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hubspoke",
			Subsystem: "rollback",
			Name:      "teardown_failures_total",
			Help:      "Teardown failures by resource kind",
		},
		[]string{"resource"},
	)

	storageErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "hubspoke",
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Deployment record writes that failed",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		stepDuration,
		workflowsTotal,
		workflowsActive,
		rollbacksTotal,
		teardownFailures,
		storageErrors,
	)
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func recordStepMetric(step string, err error, seconds float64) {
	stepDuration.WithLabelValues(step, resultLabel(err)).Observe(seconds)
}

func recordWorkflowMetric(err error) {
	workflowsTotal.WithLabelValues(resultLabel(err)).Inc()
}

func recordRollbackMetric(err error, failures []RollbackFailure) {
	rollbacksTotal.WithLabelValues(resultLabel(err)).Inc()
	for _, f := range failures {
		teardownFailures.WithLabelValues(f.Resource).Inc()
	}
}

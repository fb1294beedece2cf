// Package metrics exposes Prometheus instruments for the kernel and the
// sandbox runner. Each process owns one Metrics value backed by its own
// registry, served on GET /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neuroforge/internal/domain"
)

// Outcome classes for a finished task or sandbox run.
const (
	OutcomeSuccess        = "success"
	OutcomeFailure        = "failure"
	OutcomeTimeout        = "timeout"
	OutcomeInputsRequired = "inputs_required"
)

// Metrics bundles the collectors for one process.
type Metrics struct {
	registry *prometheus.Registry

	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	taskAttempts prometheus.Histogram

	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
}

// New builds a Metrics with a fresh registry including the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuroforge_tasks_total",
			Help: "Finished orchestration tasks by language and outcome.",
		}, []string{"language", "outcome"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neuroforge_task_duration_seconds",
			Help:    "Wall-clock duration of one orchestration task.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"language"}),
		taskAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neuroforge_task_attempts",
			Help:    "Write/repair attempts consumed per task.",
			Buckets: []float64{1, 2, 3},
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuroforge_sandbox_runs_total",
			Help: "Sandbox executions by language and outcome.",
		}, []string{"language", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "neuroforge_sandbox_run_duration_seconds",
			Help:    "Wall-clock duration of one sandbox execution.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"language"}),
	}
	reg.MustRegister(m.tasksTotal, m.taskDuration, m.taskAttempts, m.runsTotal, m.runDuration)
	return m
}

// Handler serves this process's registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTask records one finished orchestration task.
func (m *Metrics) ObserveTask(res *domain.TaskResult, elapsed time.Duration) {
	lang := string(res.Language)
	m.tasksTotal.WithLabelValues(lang, taskOutcome(res)).Inc()
	m.taskDuration.WithLabelValues(lang).Observe(elapsed.Seconds())
	m.taskAttempts.Observe(float64(res.Attempts))
}

// ObserveRun records one sandbox execution.
func (m *Metrics) ObserveRun(language domain.Language, exitCode int, elapsed time.Duration) {
	outcome := OutcomeFailure
	switch {
	case exitCode == 0:
		outcome = OutcomeSuccess
	case exitCode == domain.ExitTimeout:
		outcome = OutcomeTimeout
	}
	m.runsTotal.WithLabelValues(string(language), outcome).Inc()
	m.runDuration.WithLabelValues(string(language)).Observe(elapsed.Seconds())
}

func taskOutcome(res *domain.TaskResult) string {
	switch {
	case len(res.InputsRequired) > 0:
		return OutcomeInputsRequired
	case res.ExitCode == 0:
		return OutcomeSuccess
	case res.ExitCode == domain.ExitTimeout:
		return OutcomeTimeout
	}
	return OutcomeFailure
}

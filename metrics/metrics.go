// Package metrics exposes Retrack's Prometheus counters and gauges: tick
// outcomes, revisions appended, task dispatch results, and sandbox script
// invocations. It replaces the teacher's own expvar-based metrics/monitor
// packages (built for a campaign-run dashboard) with the ecosystem
// instrumentation library used by the rest of the retrieval pack
// (jonesrussell-north-cloud's scheduler/v2/observability, nmxmxh's
// internal/metrics), per SPEC_FULL.md §10.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "retrack"

// Metrics holds every Prometheus collector Retrack's components report to.
type Metrics struct {
	TicksFired        *prometheus.CounterVec
	TickOutcomes      *prometheus.CounterVec
	RevisionsAppended prometheus.Counter

	TasksEnqueued     *prometheus.CounterVec
	TasksDispatched   *prometheus.CounterVec
	TasksDeadLettered *prometheus.CounterVec

	SandboxInvocations *prometheus.CounterVec
	SandboxTimeouts    prometheus.Counter
}

// New builds and registers Retrack's metrics against reg. Pass nil to use
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TicksFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_fired_total",
			Help:      "Scheduler ticks dispatched to the orchestrator, by tracker id.",
		}, []string{"tracker_id"}),

		TickOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_outcomes_total",
			Help:      "Tick results: changed, unchanged, transient_fail, terminal_fail.",
		}, []string{"outcome"}),

		RevisionsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_appended_total",
			Help:      "New revisions written across all trackers.",
		}),

		TasksEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_enqueued_total",
			Help:      "Tasks enqueued, by task_type.",
		}, []string{"task_type"}),

		TasksDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Task dispatch attempts, by task_type and result (ok, retry, dead_letter).",
		}, []string{"task_type", "result"}),

		TasksDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dead_lettered_total",
			Help:      "Tasks converted to dead letters, by original task_type.",
		}, []string{"task_type"}),

		SandboxInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_invocations_total",
			Help:      "Script sandbox runs, by entry point (configurator, extractor, formatter).",
		}, []string{"entry_point"}),

		SandboxTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sandbox_timeouts_total",
			Help:      "Script sandbox runs that hit the wall-clock timeout.",
		}),
	}
}

// Package orchestrator implements the Tracker Orchestrator (spec.md §4.2):
// the per-tick pipeline that resolves a tracker's target, diffs the result
// against its revision history, and dispatches actions on change. It plays
// the role the teacher's scheduler.OptimizedScheduler played for a one-shot
// mail job — executeJobWithMetrics/handleJobFailure/handleJobSuccess — now
// driven per-tracker-tick instead of once per CLI invocation, and retrying
// against config.job.retry_strategy instead of a fixed job-level backoff.
package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/retrack/retrack/actions"
	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/logging"
	"github.com/retrack/retrack/metrics"
	"github.com/retrack/retrack/revisionstore"
)

// trackerStore is the subset of store.Store this package depends on.
type trackerStore interface {
	GetTracker(ctx context.Context, id string) (*model.Tracker, error)
}

// jobUnregisterer is the subset of scheduler.Scheduler needed to stop the job
// of a disabled tracker (spec.md §4.2 step 1). A tick for a tracker that
// cannot be loaded stops no job, since its job id is not known here.
type jobUnregisterer interface {
	Unregister(ctx context.Context, jobID string) error
}

// taskEnqueuer lets a terminally-failed or retry-exhausted tick surface a
// server_log task without going through the Action Pipeline's formatter path.
type taskEnqueuer interface {
	EnqueueTask(ctx context.Context, t *model.Task) error
}

// apiExecutor is the subset of targets.APIExecutor this package depends on.
type apiExecutor interface {
	Execute(ctx context.Context, target model.APITarget, previousContent json.RawMessage, timeout time.Duration) (json.RawMessage, error)
}

// pageExecutor is the subset of targets.PageExecutor this package depends on.
type pageExecutor interface {
	Execute(ctx context.Context, target model.PageTarget, previousContent json.RawMessage, tags []string, timeout time.Duration) (json.RawMessage, error)
}

// Orchestrator is the Tracker Orchestrator component.
type Orchestrator struct {
	trackers trackerStore
	jobs     jobUnregisterer
	tasks    taskEnqueuer
	revs     *revisionstore.Store
	pipeline *actions.Pipeline
	apiExec  apiExecutor
	pageExec pageExecutor
	log      logging.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	tickAttempts map[string]int
}

// SetMetrics attaches a metrics sink the orchestrator reports tick outcomes
// and revision counts to. Optional — nil disables reporting.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// New builds an Orchestrator wiring together the Revision Store, both
// Target Executors, and the Action Pipeline.
func New(
	trackers trackerStore,
	jobs jobUnregisterer,
	tasks taskEnqueuer,
	revs *revisionstore.Store,
	pipeline *actions.Pipeline,
	apiExec apiExecutor,
	pageExec pageExecutor,
	log logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		trackers:     trackers,
		jobs:         jobs,
		tasks:        tasks,
		revs:         revs,
		pipeline:     pipeline,
		apiExec:      apiExec,
		pageExec:     pageExec,
		log:          log,
		tickAttempts: make(map[string]int),
	}
}

// RunTick executes the five-step per-tick procedure of spec.md §4.2 for one
// tracker. It is the scheduler.TickHandler the Job Scheduler invokes on
// every due tick.
func (o *Orchestrator) RunTick(ctx context.Context, trackerID string) {
	if o.metrics != nil {
		o.metrics.TicksFired.WithLabelValues(trackerID).Inc()
	}

	tracker, err := o.trackers.GetTracker(ctx, trackerID)
	if err != nil || tracker == nil {
		o.stopJob(ctx, trackerID, "")
		return
	}
	if !tracker.Enabled {
		o.stopJob(ctx, trackerID, derefString(tracker.JobID))
		return
	}

	tail, _, err := o.revs.List(ctx, trackerID, 1, false)
	var previousContent json.RawMessage
	if err == nil && len(tail) == 1 {
		previousContent = tail[0].Data
	}

	content, err := o.resolveTarget(ctx, tracker, previousContent)
	if err != nil {
		o.handleFailure(ctx, tracker, err)
		return
	}

	o.clearAttempts(trackerID)

	result, err := o.revs.AppendIfChanged(ctx, trackerID, content, time.Now(), tracker.Config.RevisionsRetained)
	if err != nil {
		o.log.Errorf("orchestrator: append revision for tracker %s: %v", trackerID, err)
		return
	}
	if !result.Appended {
		o.reportOutcome("unchanged")
		o.log.Infof("orchestrator: tracker %s ticked, no change", trackerID)
		return
	}
	o.reportOutcome("changed")
	if o.metrics != nil {
		o.metrics.RevisionsAppended.Inc()
	}

	if err := o.pipeline.Dispatch(ctx, tracker, result.Previous, content, result.Diff); err != nil {
		o.log.Errorf("orchestrator: dispatch actions for tracker %s: %v", trackerID, err)
	}
}

func (o *Orchestrator) reportOutcome(outcome string) {
	if o.metrics == nil {
		return
	}
	o.metrics.TickOutcomes.WithLabelValues(outcome).Inc()
}

func (o *Orchestrator) resolveTarget(ctx context.Context, tracker *model.Tracker, previousContent json.RawMessage) (json.RawMessage, error) {
	timeout := tracker.Config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch tracker.Target.Kind {
	case model.TargetPage:
		if tracker.Target.Page == nil {
			return nil, retrackerr.New(retrackerr.Validation, "page target missing configuration")
		}
		return o.pageExec.Execute(ctx, *tracker.Target.Page, previousContent, tracker.Tags, timeout)
	case model.TargetAPI:
		if tracker.Target.API == nil {
			return nil, retrackerr.New(retrackerr.Validation, "api target missing configuration")
		}
		return o.apiExec.Execute(ctx, *tracker.Target.API, previousContent, timeout)
	default:
		return nil, retrackerr.New(retrackerr.Validation, "unknown target kind: "+string(tracker.Target.Kind))
	}
}

// handleFailure applies spec.md §4.2 step 3 and §4.9: a Transient failure is
// retried only when the tracker declares config.job.retry_strategy, as a
// one-off tick outside the regular cron cadence; per §4.9 the default for
// ticks (unlike tasks) is no retry at all. Once retries are declared but
// exhausted, or the failure is Terminal, or no retry_strategy is configured,
// it surfaces as a server_log task and the tick is abandoned until the next
// regular cron fire.
func (o *Orchestrator) handleFailure(ctx context.Context, tracker *model.Tracker, cause error) {
	if !retrackerr.IsRetryable(cause) {
		o.reportOutcome("terminal_fail")
		o.surfaceFailure(ctx, tracker, cause)
		return
	}

	o.reportOutcome("transient_fail")
	strategy, retryEnabled := retryStrategyFor(tracker)
	if !retryEnabled {
		o.surfaceFailure(ctx, tracker, cause)
		return
	}
	attempt := o.nextAttempt(tracker.ID)
	if strategy.MaxAttempts > 0 && attempt >= strategy.MaxAttempts {
		o.clearAttempts(tracker.ID)
		o.surfaceFailure(ctx, tracker, cause)
		return
	}

	delay := retryDelay(strategy, attempt)
	o.log.Warnf("orchestrator: tracker %s transient failure (attempt %d), retrying in %s: %v", tracker.ID, attempt, delay, cause)
	time.AfterFunc(delay, func() {
		o.RunTick(context.Background(), tracker.ID)
	})
}

func (o *Orchestrator) surfaceFailure(ctx context.Context, tracker *model.Tracker, cause error) {
	payload, _ := json.Marshal(model.ServerLogPayload{
		Message:   cause.Error(),
		TrackerID: tracker.ID,
	})
	task := &model.Task{
		ID:          ids.New(),
		Type:        model.TaskServerLog,
		Payload:     payload,
		Tags:        []string{model.TrackerTag(tracker.ID)},
		ScheduledAt: time.Now(),
	}
	if err := o.tasks.EnqueueTask(ctx, task); err != nil {
		o.log.Errorf("orchestrator: enqueue failure log for tracker %s: %v", tracker.ID, err)
	}
}

func (o *Orchestrator) stopJob(ctx context.Context, trackerID, jobID string) {
	if jobID == "" {
		return
	}
	if err := o.jobs.Unregister(ctx, jobID); err != nil {
		o.log.Warnf("orchestrator: stop job %s for tracker %s: %v", jobID, trackerID, err)
	}
}

func (o *Orchestrator) nextAttempt(trackerID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tickAttempts[trackerID]++
	return o.tickAttempts[trackerID]
}

func (o *Orchestrator) clearAttempts(trackerID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tickAttempts, trackerID)
}

// retryStrategyFor returns the tick retry policy a tracker declared, and
// whether retrying is enabled at all. Per spec.md §4.9, ticks (unlike task
// dispatch) do not retry by default — only a tracker whose config.job sets
// retry_strategy explicitly gets one.
func retryStrategyFor(tracker *model.Tracker) (model.RetryStrategy, bool) {
	if tracker.Config.Job != nil && tracker.Config.Job.RetryStrategy != nil {
		return *tracker.Config.Job.RetryStrategy, true
	}
	return model.RetryStrategy{}, false
}

func retryDelay(strategy model.RetryStrategy, attempt int) time.Duration {
	if strategy.Kind == model.RetryExponential {
		delay := time.Duration(strategy.InitialMs) * time.Millisecond
		multiplier := strategy.Multiplier
		if multiplier <= 0 {
			multiplier = 2
		}
		for i := 1; i < attempt; i++ {
			delay = time.Duration(float64(delay) * multiplier)
		}
		cap := time.Duration(strategy.MaxIntervalMs) * time.Millisecond
		if cap > 0 && delay > cap {
			delay = cap
		}
		return delay
	}
	if strategy.IntervalMs > 0 {
		return time.Duration(strategy.IntervalMs) * time.Millisecond
	}
	return time.Minute
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

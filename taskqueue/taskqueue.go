// Package taskqueue implements the Task Queue (spec.md §4.6): a durable,
// at-least-once dispatcher over model.Task rows. The worker-pool and
// context-aware shutdown shape is the teacher's email.StartDispatcherWithContext
// (channel-fed workers, sync.WaitGroup coordinated stop), generalized from a
// single email-send operation to a handler registry keyed by task type.
package taskqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/logging"
	"github.com/retrack/retrack/metrics"
	"github.com/sony/gobreaker"
)

// Handler dispatches one task. It returns nil on success, a retrackerr with
// Kind Transient to retry, or any other error to treat as terminal.
type Handler func(ctx context.Context, task *model.Task) error

// taskStore is the subset of store.Store the dispatcher depends on.
type taskStore interface {
	EnqueueTask(ctx context.Context, t *model.Task) error
	ClaimDueTasks(ctx context.Context, owner string, lease time.Duration, limit int) ([]*model.Task, error)
	CompleteTask(ctx context.Context, id string) error
	ReleaseTaskForRetry(ctx context.Context, id string, nextAttempt time.Time, retryAttempt int) error
}

// Config tunes the dispatcher loop.
type Config struct {
	Owner          string
	PollInterval   time.Duration
	LeaseDuration  time.Duration
	WorkerCount    int
	ClaimBatchSize int
	DefaultRetry   model.RetryStrategy
}

// Dispatcher polls for due tasks and fans them out to a bounded worker pool,
// per spec.md §4.6.
type Dispatcher struct {
	store    taskStore
	cfg      Config
	log      logging.Logger
	handlers map[model.TaskType]Handler
	breakers map[model.TaskType]*gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
}

// SetMetrics attaches a metrics sink the dispatcher reports enqueue/
// dispatch/dead-letter counts to. Optional — nil (the default) disables
// reporting, per SPEC_FULL.md §10's metrics being an addition, not a
// required dependency of any operation.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// New builds a Dispatcher. Register handlers with RegisterHandler before
// calling Run.
func New(store taskStore, cfg Config, log logging.Logger) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.ClaimBatchSize <= 0 {
		cfg.ClaimBatchSize = cfg.WorkerCount * 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 30 * time.Second
	}
	return &Dispatcher{
		store:    store,
		cfg:      cfg,
		log:      log,
		handlers: make(map[model.TaskType]Handler),
		breakers: make(map[model.TaskType]*gobreaker.CircuitBreaker),
	}
}

// RegisterHandler binds a handler to a task type, with its own circuit
// breaker so a degraded downstream (an SMTP relay, a webhook endpoint) can't
// starve the whole dispatch pool of workers.
func (d *Dispatcher) RegisterHandler(taskType model.TaskType, h Handler) {
	d.handlers[taskType] = h
	d.breakers[taskType] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(taskType),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			d.log.Warnf("taskqueue: circuit breaker %s transitioned %s -> %s", name, from, to)
		},
	})
}

// Run polls for due tasks and dispatches them to a bounded worker pool until
// ctx is cancelled. It blocks until every in-flight task has been handled.
func (d *Dispatcher) Run(ctx context.Context) {
	taskChan := make(chan *model.Task, d.cfg.ClaimBatchSize)
	var wg sync.WaitGroup

	for i := 0; i < d.cfg.WorkerCount; i++ {
		wg.Add(1)
		go d.worker(ctx, taskChan, &wg)
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(taskChan)
			wg.Wait()
			return
		case <-ticker.C:
			d.claimAndDispatch(ctx, taskChan)
		}
	}
}

func (d *Dispatcher) claimAndDispatch(ctx context.Context, taskChan chan<- *model.Task) {
	tasks, err := d.store.ClaimDueTasks(ctx, d.cfg.Owner, d.cfg.LeaseDuration, d.cfg.ClaimBatchSize)
	if err != nil {
		d.log.Errorf("taskqueue: claim due tasks: %v", err)
		return
	}
	for _, t := range tasks {
		select {
		case taskChan <- t:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, taskChan <-chan *model.Task, wg *sync.WaitGroup) {
	defer wg.Done()
	for task := range taskChan {
		d.dispatch(ctx, task)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, task *model.Task) {
	handler, ok := d.handlers[task.Type]
	if !ok {
		d.log.Errorf("taskqueue: no handler registered for task type %s", task.Type)
		return
	}
	breaker := d.breakers[task.Type]

	_, err := breaker.Execute(func() (any, error) {
		return nil, handler(ctx, task)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = retrackerr.Wrap(retrackerr.Transient, err, "circuit breaker open")
	}

	switch {
	case err == nil:
		d.reportDispatch(task.Type, "ok")
		if err := d.store.CompleteTask(ctx, task.ID); err != nil {
			d.log.Errorf("taskqueue: complete task %s: %v", task.ID, err)
		}
	case retrackerr.IsRetryable(err):
		d.reportDispatch(task.Type, "retry")
		d.retry(ctx, task)
	default:
		d.reportDispatch(task.Type, "dead_letter")
		d.deadLetter(ctx, task, err)
	}
}

func (d *Dispatcher) reportDispatch(taskType model.TaskType, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.TasksDispatched.WithLabelValues(string(taskType), result).Inc()
}

func (d *Dispatcher) retry(ctx context.Context, task *model.Task) {
	strategy := d.cfg.DefaultRetry
	retryAttempt := task.RetryAttempt + 1

	if strategy.MaxAttempts > 0 && retryAttempt >= strategy.MaxAttempts {
		d.deadLetter(ctx, task, retrackerr.New(retrackerr.Transient, "retry attempts exhausted"))
		return
	}

	next := time.Now().Add(nextRetryDelay(strategy, retryAttempt))
	if err := d.store.ReleaseTaskForRetry(ctx, task.ID, next, retryAttempt); err != nil {
		d.log.Errorf("taskqueue: release task %s for retry: %v", task.ID, err)
	}
}

// deadLetter converts a task to a server_log delivery carrying the original
// payload, per spec.md §3's "serialized back onto itself with a sentinel tag."
func (d *Dispatcher) deadLetter(ctx context.Context, task *model.Task, cause error) {
	d.log.Warnf("taskqueue: task %s (%s) moved to dead letter: %v", task.ID, task.Type, cause)
	if d.metrics != nil {
		d.metrics.TasksDeadLettered.WithLabelValues(string(task.Type)).Inc()
	}

	dead := deadLetterTask(task)
	if err := d.store.EnqueueTask(ctx, dead); err != nil {
		d.log.Errorf("taskqueue: enqueue dead-letter task for %s: %v", task.ID, err)
	}
	if err := d.store.CompleteTask(ctx, task.ID); err != nil {
		d.log.Errorf("taskqueue: complete dead-lettered task %s: %v", task.ID, err)
	}
}

package taskqueue

import (
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
)

// nextRetryDelay computes the delay before a task's retryAttempt-th retry,
// per spec.md §4.9's constant/exponential-with-cap policies. backoff/v4
// already expresses both shapes, replacing the teacher's hand-rolled
// computeBackoff in worker.go.
func nextRetryDelay(strategy model.RetryStrategy, retryAttempt int) time.Duration {
	switch strategy.Kind {
	case model.RetryConstant:
		interval := time.Duration(strategy.IntervalMs) * time.Millisecond
		if interval <= 0 {
			interval = time.Minute
		}
		return interval

	case model.RetryExponential:
		bo := backoff.NewExponentialBackOff()
		if strategy.InitialMs > 0 {
			bo.InitialInterval = time.Duration(strategy.InitialMs) * time.Millisecond
		}
		if strategy.Multiplier > 0 {
			bo.Multiplier = strategy.Multiplier
		}
		if strategy.MaxIntervalMs > 0 {
			bo.MaxInterval = time.Duration(strategy.MaxIntervalMs) * time.Millisecond
		}
		bo.Reset()
		var delay time.Duration
		for i := 0; i <= retryAttempt; i++ {
			delay = bo.NextBackOff()
		}
		if delay > bo.MaxInterval {
			delay = bo.MaxInterval
		}
		return delay

	default:
		return time.Minute
	}
}

// deadLetterTask recycles an exhausted or terminally failed task into a
// server_log delivery carrying the original payload, per spec.md §3.
func deadLetterTask(task *model.Task) *model.Task {
	payload, _ := json.Marshal(model.ServerLogPayload{
		Message:      "task delivery failed permanently",
		DeadLetter:   true,
		OriginalType: task.Type,
		Original:     task.Payload,
	})
	return &model.Task{
		ID:          ids.New(),
		Type:        model.TaskServerLog,
		Payload:     payload,
		Tags:        append(append([]string{}, task.Tags...), model.DeadLetterTag),
		ScheduledAt: time.Now(),
	}
}

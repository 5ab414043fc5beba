package store

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// EnqueueTask persists a new durable task.
func (s *Store) EnqueueTask(ctx context.Context, t *model.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, task_type, payload, scheduled_at, retry_attempt, tags)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, string(t.Type), t.Payload, t.ScheduledAt, t.RetryAttempt, pq.Array(t.Tags))
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "enqueue task")
	}
	return nil
}

// ClaimDueTasks atomically claims up to limit unclaimed (or lease-expired)
// tasks whose scheduled_at has passed, assigning them to owner for the given
// lease duration. This is the Task Queue dispatcher's dequeue primitive,
// translating the teacher's AcquireLock instanceID:timestamp convention from
// a single KV lock into a row-level claim over many tasks at once.
func (s *Store) ClaimDueTasks(ctx context.Context, owner string, lease time.Duration, limit int) ([]*model.Task, error) {
	now := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE tasks SET claimed_by = $1, claimed_until = $2
		WHERE id IN (
			SELECT id FROM tasks
			WHERE scheduled_at <= $3
			  AND (claimed_until IS NULL OR claimed_until < $3)
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, task_type, payload, scheduled_at, retry_attempt, tags
	`, owner, now.Add(lease), now, limit)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "claim due tasks")
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		var t model.Task
		var taskType string
		var tags []string
		if err := rows.Scan(&t.ID, &taskType, &t.Payload, &t.ScheduledAt, &t.RetryAttempt, pq.Array(&tags)); err != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scan claimed task")
		}
		t.Type = model.TaskType(taskType)
		t.Tags = tags
		out = append(out, &t)
	}
	return out, rows.Err()
}

// CompleteTask deletes a task after successful dispatch.
func (s *Store) CompleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "complete task")
	}
	return nil
}

// ReleaseTaskForRetry bumps retry_attempt, reschedules scheduled_at to
// nextAttempt, and clears the claim so another worker can pick it up.
func (s *Store) ReleaseTaskForRetry(ctx context.Context, id string, nextAttempt time.Time, retryAttempt int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET scheduled_at = $1, retry_attempt = $2, claimed_by = NULL, claimed_until = NULL
		WHERE id = $3
	`, nextAttempt, retryAttempt, id)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "release task for retry")
	}
	return nil
}

// CountTasksByTag returns the number of queued tasks carrying the given tag.
func (s *Store) CountTasksByTag(ctx context.Context, tag string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE $1 = ANY(tags)`, tag).Scan(&n)
	if err != nil {
		return 0, retrackerr.Wrap(retrackerr.Transient, err, "count tasks by tag")
	}
	return n, nil
}

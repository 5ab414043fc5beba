package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// SaveSchedulerJob inserts or updates a scheduler job record.
func (s *Store) SaveSchedulerJob(ctx context.Context, j *model.SchedulerJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduler_jobs (id, schedule, next_tick, last_tick, stopped, extra, locked_by, locked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			schedule = EXCLUDED.schedule,
			next_tick = EXCLUDED.next_tick,
			last_tick = EXCLUDED.last_tick,
			stopped = EXCLUDED.stopped,
			extra = EXCLUDED.extra,
			locked_by = EXCLUDED.locked_by,
			locked_until = EXCLUDED.locked_until
	`, j.ID, j.Schedule, j.NextTick, j.LastTick, j.Stopped, j.Extra, nullIfEmpty(j.LockedBy), lockedUntilTime(j.LockedUntil))
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "save scheduler job")
	}
	return nil
}

// GetSchedulerJob retrieves one scheduler job by ID.
func (s *Store) GetSchedulerJob(ctx context.Context, id string) (*model.SchedulerJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, schedule, next_tick, last_tick, stopped, extra, locked_by, locked_until
		FROM scheduler_jobs WHERE id = $1
	`, id)
	j, err := scanSchedulerJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retrackerr.New(retrackerr.NotFound, "scheduler job not found")
	}
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "get scheduler job")
	}
	return j, nil
}

// LoadSchedulerJobs returns every non-stopped scheduler job, the relational
// analogue of the teacher's BoltDBClient.LoadJobs used to rehydrate the
// in-memory job cache on startup.
func (s *Store) LoadSchedulerJobs(ctx context.Context) ([]*model.SchedulerJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule, next_tick, last_tick, stopped, extra, locked_by, locked_until
		FROM scheduler_jobs WHERE stopped = false
	`)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "load scheduler jobs")
	}
	defer rows.Close()

	var out []*model.SchedulerJob
	for rows.Next() {
		j, err := scanSchedulerJob(rows)
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scan scheduler job row")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// LoadStoppedSchedulerJobs returns every scheduler job currently marked
// stopped, so the scheduler can reconcile jobs left stopped by a crash
// mid-reschedule (spec.md §4.1) against their tracker's current enabled
// state.
func (s *Store) LoadStoppedSchedulerJobs(ctx context.Context) ([]*model.SchedulerJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, schedule, next_tick, last_tick, stopped, extra, locked_by, locked_until
		FROM scheduler_jobs WHERE stopped = true
	`)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "load stopped scheduler jobs")
	}
	defer rows.Close()

	var out []*model.SchedulerJob
	for rows.Next() {
		j, err := scanSchedulerJob(rows)
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scan scheduler job row")
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// DeleteSchedulerJob removes a scheduler job, e.g. when its tracker is
// deleted or its job_needed invariant flips to false.
func (s *Store) DeleteSchedulerJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_jobs WHERE id = $1`, id)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "delete scheduler job")
	}
	return nil
}

// AcquireTrackerLock attempts to claim the tick lock for trackerID in the
// durable tracker_locks table, the Postgres fallback store.TickLock falls
// back to when Redis is unreachable. Keyed on tracker_id rather than a
// scheduler job id, since ticks are addressed by tracker and a tracker's job
// id is a distinct UUID the lock has no other use for. Same
// acquire-or-steal-if-expired semantics as the teacher's
// BoltDBClient.AcquireLock, expressed as a single conditional upsert instead
// of a bucket read-modify-write.
func (s *Store) AcquireTrackerLock(ctx context.Context, trackerID, instanceID string, ttl time.Duration) (bool, error) {
	until := time.Now().Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tracker_locks (tracker_id, locked_by, locked_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (tracker_id) DO UPDATE SET
			locked_by = EXCLUDED.locked_by,
			locked_until = EXCLUDED.locked_until
		WHERE tracker_locks.locked_by IS NULL
			OR tracker_locks.locked_by = EXCLUDED.locked_by
			OR tracker_locks.locked_until < now()
	`, trackerID, instanceID, until)
	if err != nil {
		return false, retrackerr.Wrap(retrackerr.Transient, err, "acquire tracker lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, retrackerr.Wrap(retrackerr.Transient, err, "rows affected")
	}
	return n == 1, nil
}

// ReleaseTrackerLock releases a tick lock for trackerID iff still held by
// instanceID.
func (s *Store) ReleaseTrackerLock(ctx context.Context, trackerID, instanceID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracker_locks SET locked_by = NULL, locked_until = NULL
		WHERE tracker_id = $1 AND locked_by = $2
	`, trackerID, instanceID)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "release tracker lock")
	}
	return nil
}

func scanSchedulerJob(row rowScanner) (*model.SchedulerJob, error) {
	var j model.SchedulerJob
	var lockedBy sql.NullString
	var lockedUntil sql.NullTime
	if err := row.Scan(&j.ID, &j.Schedule, &j.NextTick, &j.LastTick, &j.Stopped, &j.Extra, &lockedBy, &lockedUntil); err != nil {
		return nil, err
	}
	if lockedBy.Valid {
		j.LockedBy = lockedBy.String
	}
	if lockedUntil.Valid {
		j.LockedUntil = lockedUntil.Time.Unix()
	}
	return &j, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func lockedUntilTime(unixSeconds int64) any {
	if unixSeconds == 0 {
		return nil
	}
	return time.Unix(unixSeconds, 0)
}

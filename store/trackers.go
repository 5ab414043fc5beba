package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// SaveTracker inserts or updates a tracker row, the relational analogue of
// the teacher's BoltDBClient.SaveJob.
func (s *Store) SaveTracker(ctx context.Context, t *model.Tracker) error {
	target, err := json.Marshal(t.Target)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Validation, err, "marshal target")
	}
	actions, err := json.Marshal(t.Actions)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Validation, err, "marshal actions")
	}
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Validation, err, "marshal config")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trackers (id, name, enabled, target, actions, config, tags, job_needed, job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			target = EXCLUDED.target,
			actions = EXCLUDED.actions,
			config = EXCLUDED.config,
			tags = EXCLUDED.tags,
			job_needed = EXCLUDED.job_needed,
			job_id = EXCLUDED.job_id,
			updated_at = EXCLUDED.updated_at
	`, t.ID, t.Name, t.Enabled, target, actions, cfg, pq.Array(t.Tags), t.JobNeeded, t.JobID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return retrackerr.Wrap(retrackerr.Validation, err, "tracker name already in use")
		}
		return retrackerr.Wrap(retrackerr.Transient, err, "save tracker")
	}
	return nil
}

// GetTracker retrieves a tracker by ID.
func (s *Store) GetTracker(ctx context.Context, id string) (*model.Tracker, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, enabled, target, actions, config, tags, job_needed, job_id, created_at, updated_at
		FROM trackers WHERE id = $1
	`, id)
	t, err := scanTracker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, retrackerr.New(retrackerr.NotFound, "tracker not found")
	}
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "get tracker")
	}
	return t, nil
}

// ListTrackers returns all trackers, ordered by insertion (UUIDv7 IDs sort
// chronologically).
func (s *Store) ListTrackers(ctx context.Context) ([]*model.Tracker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, enabled, target, actions, config, tags, job_needed, job_id, created_at, updated_at
		FROM trackers ORDER BY id
	`)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "list trackers")
	}
	defer rows.Close()

	var out []*model.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scan tracker row")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTracker removes a tracker and, via ON DELETE CASCADE, its revision
// history.
func (s *Store) DeleteTracker(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trackers WHERE id = $1`, id)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "delete tracker")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "rows affected")
	}
	if n == 0 {
		return retrackerr.New(retrackerr.NotFound, "tracker not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTracker(row rowScanner) (*model.Tracker, error) {
	var t model.Tracker
	var target, actions, cfg []byte
	var tags []string
	var jobID sql.NullString

	err := row.Scan(&t.ID, &t.Name, &t.Enabled, &target, &actions, &cfg,
		pq.Array(&tags), &t.JobNeeded, &jobID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(target, &t.Target); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(actions, &t.Actions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(cfg, &t.Config); err != nil {
		return nil, err
	}
	t.Tags = tags
	if jobID.Valid {
		t.JobID = &jobID.String
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

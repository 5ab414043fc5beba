package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// AppendRevision inserts a new revision row for a tracker. Callers are
// expected to have already decided (via canonicaljson.Equal against the
// latest revision) that the content actually changed.
func (s *Store) AppendRevision(ctx context.Context, rev *model.Revision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trackers_data (id, tracker_id, created_at, data)
		VALUES ($1, $2, $3, $4)
	`, rev.ID, rev.TrackerID, rev.CreatedAt, rev.Data)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "append revision")
	}
	return nil
}

// LatestRevision returns the most recent revision for a tracker, or nil if
// none exists yet.
func (s *Store) LatestRevision(ctx context.Context, trackerID string) (*model.Revision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tracker_id, created_at, data
		FROM trackers_data WHERE tracker_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, trackerID)
	rev, err := scanRevision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "get latest revision")
	}
	return rev, nil
}

// ListRevisions returns a tracker's revisions newest-first, capped at limit
// (0 means no cap).
func (s *Store) ListRevisions(ctx context.Context, trackerID string, limit int) ([]*model.Revision, error) {
	query := `
		SELECT id, tracker_id, created_at, data
		FROM trackers_data WHERE tracker_id = $1
		ORDER BY created_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.QueryContext(ctx, query+" LIMIT $2", trackerID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, query, trackerID)
	}
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Transient, err, "list revisions")
	}
	defer rows.Close()

	var out []*model.Revision
	for rows.Next() {
		rev, err := scanRevision(rows)
		if err != nil {
			return nil, retrackerr.Wrap(retrackerr.Transient, err, "scan revision row")
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

// CountRevisions returns the number of revisions held for a tracker.
func (s *Store) CountRevisions(ctx context.Context, trackerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM trackers_data WHERE tracker_id = $1`, trackerID).Scan(&n)
	if err != nil {
		return 0, retrackerr.Wrap(retrackerr.Transient, err, "count revisions")
	}
	return n, nil
}

// TrimOldestRevisions deletes revisions beyond the newest keep count, the
// relational equivalent of a bounded ring buffer (spec.md's max_revisions
// invariant).
func (s *Store) TrimOldestRevisions(ctx context.Context, trackerID string, keep int) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM trackers_data
		WHERE tracker_id = $1 AND id NOT IN (
			SELECT id FROM trackers_data
			WHERE tracker_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`, trackerID, keep)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "trim revisions")
	}
	return nil
}

// ClearRevisions deletes every revision for a tracker.
func (s *Store) ClearRevisions(ctx context.Context, trackerID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM trackers_data WHERE tracker_id = $1`, trackerID)
	if err != nil {
		return retrackerr.Wrap(retrackerr.Transient, err, "clear revisions")
	}
	return nil
}

func scanRevision(row rowScanner) (*model.Revision, error) {
	var rev model.Revision
	var createdAt time.Time
	if err := row.Scan(&rev.ID, &rev.TrackerID, &createdAt, &rev.Data); err != nil {
		return nil, err
	}
	rev.CreatedAt = createdAt
	return &rev, nil
}

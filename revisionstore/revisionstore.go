// Package revisionstore is the tail-aware, append-only log of per-tracker
// content revisions (spec.md §4.5). It is Retrack's analogue of the
// teacher's offset.Tracker — a small stateful cursor the Orchestrator
// consults and advances on every run — generalized from a single resumable
// offset to a retained history of distinct content snapshots.
package revisionstore

import (
	"context"
	"time"

	"github.com/retrack/retrack/internal/canonicaljson"
	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// dataStore is the subset of store.Store this package depends on.
type dataStore interface {
	LatestRevision(ctx context.Context, trackerID string) (*model.Revision, error)
	AppendRevision(ctx context.Context, rev *model.Revision) error
	ListRevisions(ctx context.Context, trackerID string, limit int) ([]*model.Revision, error)
	TrimOldestRevisions(ctx context.Context, trackerID string, keep int) error
	ClearRevisions(ctx context.Context, trackerID string) error
}

// Store is the Revision Store component.
type Store struct {
	db dataStore
}

// New builds a revisionstore.Store over the given persistence backend.
func New(db dataStore) *Store {
	return &Store{db: db}
}

// AppendResult reports whether AppendIfChanged wrote a new revision, and the
// structural diff against the prior tail when it did.
type AppendResult struct {
	Appended bool
	Diff     *model.Diff
	Previous []byte
}

// AppendIfChanged canonicalizes data, compares it against the tracker's tail
// revision, and appends a new Revision only if the content differs (or none
// exists yet). It then trims revisions beyond retain, per spec.md §4.5.
func (s *Store) AppendIfChanged(ctx context.Context, trackerID string, data []byte, createdAt time.Time, retain int) (AppendResult, error) {
	canonical, err := canonicaljson.Canonicalize(data)
	if err != nil {
		return AppendResult{}, retrackerr.Wrap(retrackerr.Validation, err, "canonicalize revision content")
	}

	tail, err := s.db.LatestRevision(ctx, trackerID)
	if err != nil {
		return AppendResult{}, err
	}

	if tail != nil {
		equal, err := canonicaljson.Equal(tail.Data, canonical)
		if err != nil {
			return AppendResult{}, retrackerr.Wrap(retrackerr.Terminal, err, "compare revisions")
		}
		if equal {
			return AppendResult{Appended: false, Previous: tail.Data}, nil
		}
	}

	rev := &model.Revision{
		ID:        ids.New(),
		TrackerID: trackerID,
		CreatedAt: createdAt,
		Data:      canonical,
	}
	if err := s.db.AppendRevision(ctx, rev); err != nil {
		return AppendResult{}, err
	}

	if retain > 0 {
		if err := s.db.TrimOldestRevisions(ctx, trackerID, retain); err != nil {
			return AppendResult{}, err
		}
	}

	var previous []byte
	if tail != nil {
		previous = tail.Data
	}
	diff, err := canonicaljson.Diff(previous, canonical)
	if err != nil {
		return AppendResult{}, retrackerr.Wrap(retrackerr.Terminal, err, "diff revisions")
	}

	return AppendResult{Appended: true, Diff: &diff, Previous: previous}, nil
}

// List returns a tracker's revisions newest-first, capped at limit (0 = no
// cap), optionally paired with the structural diff against the next-older
// revision when calculateDiff is set.
func (s *Store) List(ctx context.Context, trackerID string, limit int, calculateDiff bool) ([]*model.Revision, []*model.Diff, error) {
	revs, err := s.db.ListRevisions(ctx, trackerID, limit)
	if err != nil {
		return nil, nil, err
	}
	if !calculateDiff {
		return revs, nil, nil
	}

	diffs := make([]*model.Diff, len(revs))
	for i, rev := range revs {
		var prevData []byte
		if i+1 < len(revs) {
			prevData = revs[i+1].Data
		}
		d, err := canonicaljson.Diff(prevData, rev.Data)
		if err != nil {
			return nil, nil, retrackerr.Wrap(retrackerr.Terminal, err, "diff revision list")
		}
		diffs[i] = &d
	}
	return revs, diffs, nil
}

// Drop deletes every revision held for a tracker.
func (s *Store) Drop(ctx context.Context, trackerID string) error {
	return s.db.ClearRevisions(ctx, trackerID)
}

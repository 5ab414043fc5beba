package api

import (
	"context"
	"time"

	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
)

// trackerStore is the subset of store.Store the Service depends on for
// tracker persistence.
type trackerStore interface {
	SaveTracker(ctx context.Context, t *model.Tracker) error
	GetTracker(ctx context.Context, id string) (*model.Tracker, error)
	ListTrackers(ctx context.Context) ([]*model.Tracker, error)
	DeleteTracker(ctx context.Context, id string) error
}

// jobScheduler is the subset of scheduler.Scheduler the Service depends on
// to keep a tracker's job registration in sync with its config.
type jobScheduler interface {
	Register(ctx context.Context, trackerID, schedule string, extra []byte) (string, error)
	Unregister(ctx context.Context, jobID string) error
}

// revisionReader is the subset of revisionstore.Store the Service depends on.
type revisionReader interface {
	List(ctx context.Context, trackerID string, limit int, calculateDiff bool) ([]*model.Revision, []*model.Diff, error)
	Drop(ctx context.Context, trackerID string) error
}

// tickRunner is the subset of orchestrator.Orchestrator the Service depends
// on to force an immediate tick, per spec.md §6's
// "POST .../revisions forces an immediate tick (same semantics as scheduled)".
type tickRunner interface {
	RunTick(ctx context.Context, trackerID string)
}

// Service composes the store, scheduler, revision store, and orchestrator
// into the TrackerService/RevisionService contracts the HTTP handlers need.
// It is the glue layer between Retrack's ingress and its core components,
// the same role the teacher's cli.Runner played between CLI flags and its
// dispatcher/scheduler.
type Service struct {
	trackers  trackerStore
	scheduler jobScheduler
	revisions revisionReader
	ticker    tickRunner

	// defaultRetention is config.Trackers.MaxRevisions: the revision count a
	// tracker retains when its own config.revisions_retained is left unset,
	// per spec.md seed scenario 1 ("no retention override (default 10)").
	defaultRetention int
}

// NewService builds a Service over the given components. defaultRetention is
// the revision retention applied to a tracker whose config omits
// revisions_retained (config.Trackers.MaxRevisions).
func NewService(trackers trackerStore, sched jobScheduler, revisions revisionReader, ticker tickRunner, defaultRetention int) *Service {
	return &Service{trackers: trackers, scheduler: sched, revisions: revisions, ticker: ticker, defaultRetention: defaultRetention}
}

// Create persists a new tracker, assigning an id, applying the default
// revision retention when unset, and registering a scheduler job if its
// config calls for one, per spec.md §3's lifecycle.
func (s *Service) Create(ctx context.Context, t *model.Tracker) (*model.Tracker, error) {
	now := time.Now()
	t.ID = ids.New()
	t.CreatedAt = now
	t.UpdatedAt = now

	if t.Config.RevisionsRetained == 0 {
		t.Config.RevisionsRetained = s.defaultRetention
	}
	if err := validateRetention(t.Config.RevisionsRetained); err != nil {
		return nil, err
	}

	t.DeriveJobNeeded()

	if err := s.registerJobIfNeeded(ctx, t); err != nil {
		return nil, err
	}
	if err := s.trackers.SaveTracker(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// validateRetention enforces spec.md §6's "validates … retention bounds":
// revisions_retained must be a positive count, never zero or negative.
func validateRetention(n int) error {
	if n <= 0 {
		return retrackerr.New(retrackerr.Validation, "config.revisions_retained must be positive")
	}
	return nil
}

// List returns trackers matching every tag in tags (AND semantics), or all
// trackers when tags is empty.
func (s *Service) List(ctx context.Context, tags []string) ([]*model.Tracker, error) {
	all, err := s.trackers.ListTrackers(ctx)
	if err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return all, nil
	}

	out := make([]*model.Tracker, 0, len(all))
	for _, t := range all {
		if hasAllTags(t.Tags, tags) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Get returns a tracker by id, or a NotFound error.
func (s *Service) Get(ctx context.Context, id string) (*model.Tracker, error) {
	return s.trackers.GetTracker(ctx, id)
}

// Update merge-updates a tracker, recomputing job_needed and
// registering/unregistering its scheduler job as needed.
func (s *Service) Update(ctx context.Context, id string, patch updateTrackerRequest) (*model.Tracker, error) {
	t, err := s.trackers.GetTracker(ctx, id)
	if err != nil {
		return nil, err
	}

	previousSchedule := ""
	if t.Config.Job != nil {
		previousSchedule = t.Config.Job.Schedule
	}

	if patch.Name != nil {
		t.Name = *patch.Name
	}
	if patch.Enabled != nil {
		t.Enabled = *patch.Enabled
	}
	if patch.Target != nil {
		t.Target = *patch.Target
	}
	if patch.Actions != nil {
		t.Actions = *patch.Actions
	}
	if patch.Config != nil {
		t.Config = *patch.Config
		if t.Config.RevisionsRetained == 0 {
			t.Config.RevisionsRetained = s.defaultRetention
		}
		if err := validateRetention(t.Config.RevisionsRetained); err != nil {
			return nil, err
		}
	}
	if patch.Tags != nil {
		t.Tags = *patch.Tags
	}
	t.UpdatedAt = time.Now()

	wasJobNeeded := t.JobNeeded
	t.DeriveJobNeeded()
	newSchedule := ""
	if t.Config.Job != nil {
		newSchedule = t.Config.Job.Schedule
	}

	switch {
	case !wasJobNeeded && t.JobNeeded:
		if err := s.registerJobIfNeeded(ctx, t); err != nil {
			return nil, err
		}
	case wasJobNeeded && !t.JobNeeded:
		s.unregisterJob(ctx, t)
	case wasJobNeeded && t.JobNeeded && newSchedule != previousSchedule:
		s.unregisterJob(ctx, t)
		if err := s.registerJobIfNeeded(ctx, t); err != nil {
			return nil, err
		}
	}

	if err := s.trackers.SaveTracker(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a tracker, cascading to its revisions (via the store's
// foreign-key schema) and cancelling its scheduler job. In-flight or queued
// tasks tagged with its id are not cancelled — see DESIGN.md's Open
// Question decision on advisory-only task tag cancellation.
func (s *Service) Delete(ctx context.Context, id string) error {
	t, err := s.trackers.GetTracker(ctx, id)
	if err != nil {
		return err
	}
	s.unregisterJob(ctx, t)
	return s.trackers.DeleteTracker(ctx, id)
}

// DeleteByTag deletes every tracker carrying tag, returning the count removed.
func (s *Service) DeleteByTag(ctx context.Context, tag string) (int, error) {
	all, err := s.trackers.ListTrackers(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, t := range all {
		if !hasAllTags(t.Tags, []string{tag}) {
			continue
		}
		s.unregisterJob(ctx, t)
		if err := s.trackers.DeleteTracker(ctx, t.ID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ListRevisions returns a tracker's revision history, newest first.
func (s *Service) ListRevisions(ctx context.Context, trackerID string, calculateDiff bool) ([]*model.Revision, []*model.Diff, error) {
	return s.revisions.List(ctx, trackerID, 0, calculateDiff)
}

// ForceTick runs the orchestrator's per-tick procedure for trackerID
// immediately, outside its regular cron cadence.
func (s *Service) ForceTick(ctx context.Context, trackerID string) error {
	if _, err := s.trackers.GetTracker(ctx, trackerID); err != nil {
		return err
	}
	s.ticker.RunTick(ctx, trackerID)
	return nil
}

// ClearRevisions drops a tracker's revision history.
func (s *Service) ClearRevisions(ctx context.Context, trackerID string) error {
	return s.revisions.Drop(ctx, trackerID)
}

func (s *Service) registerJobIfNeeded(ctx context.Context, t *model.Tracker) error {
	if !t.JobNeeded {
		return nil
	}
	jobID, err := s.scheduler.Register(ctx, t.ID, t.Config.Job.Schedule, []byte(t.ID))
	if err != nil {
		return retrackerr.Wrap(retrackerr.Validation, err, "register scheduler job")
	}
	t.JobID = &jobID
	return nil
}

func (s *Service) unregisterJob(ctx context.Context, t *model.Tracker) {
	if t.JobID == nil {
		return
	}
	_ = s.scheduler.Unregister(ctx, *t.JobID)
	t.JobID = nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, tag := range have {
		set[tag] = true
	}
	for _, tag := range want {
		if !set[tag] {
			return false
		}
	}
	return true
}

// Package scheduler implements the Job Scheduler (spec.md §4.1): a durable
// cron dispatcher that turns each tracker's configured schedule into
// due-time tick events. The dispatch loop, instance-ID lock idiom, and
// retry/backoff-free "just re-tick next time" failure semantics are the
// teacher's scheduler.Scheduler (database/BoltDB job table, ticker-driven
// scan-and-execute), generalized from one-shot CLI mail jobs to recurring
// tracker ticks and moved onto the relational store.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/retrack/retrack/internal/ids"
	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/logging"
	"github.com/robfig/cron/v3"
)

// jobStore is the subset of store.Store the scheduler depends on.
type jobStore interface {
	SaveSchedulerJob(ctx context.Context, j *model.SchedulerJob) error
	GetSchedulerJob(ctx context.Context, id string) (*model.SchedulerJob, error)
	LoadSchedulerJobs(ctx context.Context) ([]*model.SchedulerJob, error)
	LoadStoppedSchedulerJobs(ctx context.Context) ([]*model.SchedulerJob, error)
	DeleteSchedulerJob(ctx context.Context, id string) error
}

// trackerLoader is the subset of store.Store needed for stopped-job
// reconciliation.
type trackerLoader interface {
	GetTracker(ctx context.Context, id string) (*model.Tracker, error)
}

// lock is the distributed tick-exclusivity primitive (store.TickLock).
type lock interface {
	Acquire(ctx context.Context, trackerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, trackerID string) error
}

// TickHandler is invoked once per due tick for a tracker.
type TickHandler func(ctx context.Context, trackerID string)

// Config tunes the dispatch loop.
type Config struct {
	PollInterval       time.Duration
	LockTTL            time.Duration
	MinScheduleInterval time.Duration
	Whitelist          []string
}

// Scheduler is the Job Scheduler component.
type Scheduler struct {
	jobs       jobStore
	trackers   trackerLoader
	lock       lock
	log        logging.Logger
	cfg        Config
	instanceID string

	mu        sync.RWMutex
	jobsCache map[string]*model.SchedulerJob
	handler   TickHandler

	quit chan struct{}
	wg   sync.WaitGroup
}

// New builds a Scheduler. Call Start to begin the dispatch loop.
func New(jobs jobStore, trackers trackerLoader, lk lock, log logging.Logger, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Scheduler{
		jobs:       jobs,
		trackers:   trackers,
		lock:       lk,
		log:        log,
		cfg:        cfg,
		instanceID: newInstanceID(),
		jobsCache:  make(map[string]*model.SchedulerJob),
		quit:       make(chan struct{}),
	}
}

func newInstanceID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Int())
}

// OnTick registers the single global tick handler. Must be called before Start.
func (s *Scheduler) OnTick(handler TickHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Register validates a tracker's schedule and persists a new SchedulerJob,
// per spec.md §4.1.
func (s *Scheduler) Register(ctx context.Context, trackerID, schedule string, extra []byte) (string, error) {
	sched, err := s.validateSchedule(schedule)
	if err != nil {
		return "", err
	}

	now := time.Now()
	job := &model.SchedulerJob{
		ID:       ids.New(),
		Schedule: schedule,
		NextTick: sched.Next(now).Unix(),
		Extra:    extra,
	}
	if err := s.jobs.SaveSchedulerJob(ctx, job); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.jobsCache[job.ID] = job
	s.mu.Unlock()

	s.log.Infof("scheduler: registered job %s for tracker %s (%s)", job.ID, trackerID, schedule)
	return job.ID, nil
}

// Unregister marks a job stopped; tick callbacks will no longer fire for it.
func (s *Scheduler) Unregister(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetSchedulerJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Stopped = true
	if err := s.jobs.SaveSchedulerJob(ctx, job); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.jobsCache, jobID)
	s.mu.Unlock()
	return nil
}

// validateSchedule rejects schedules outside the whitelist or whose derived
// interval is below the configured minimum.
func (s *Scheduler) validateSchedule(schedule string) (cron.Schedule, error) {
	if !s.isWhitelisted(schedule) {
		return nil, retrackerr.New(retrackerr.Validation, "schedule not in whitelist: "+schedule)
	}
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Validation, err, "invalid cron schedule")
	}

	now := time.Now()
	first := sched.Next(now)
	second := sched.Next(first)
	interval := second.Sub(first)
	if s.cfg.MinScheduleInterval > 0 && interval < s.cfg.MinScheduleInterval {
		return nil, retrackerr.New(retrackerr.Validation, fmt.Sprintf("schedule interval %s below minimum %s", interval, s.cfg.MinScheduleInterval))
	}
	return sched, nil
}

func (s *Scheduler) isWhitelisted(schedule string) bool {
	for _, w := range s.cfg.Whitelist {
		if w == schedule {
			return true
		}
	}
	return false
}

// Start warms the job cache from storage, reconciles stopped jobs whose
// tracker is still enabled, and launches the dispatch loop.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.jobs.LoadSchedulerJobs(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, j := range jobs {
		s.jobsCache[j.ID] = j
	}
	s.mu.Unlock()

	stopped, err := s.jobs.LoadStoppedSchedulerJobs(ctx)
	if err != nil {
		return err
	}
	s.ReconcileStoppedJobs(ctx, stopped)

	s.wg.Add(1)
	go s.dispatchLoop(ctx)
	return nil
}

// Stop halts the dispatch loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	close(s.quit)
	s.wg.Wait()
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAndDispatch(ctx)
		}
	}
}

func (s *Scheduler) scanAndDispatch(ctx context.Context) {
	now := time.Now()

	s.mu.RLock()
	due := make([]*model.SchedulerJob, 0)
	for _, j := range s.jobsCache {
		if j.Stopped {
			continue
		}
		if now.Unix() >= j.NextTick {
			due = append(due, j)
		}
	}
	handler := s.handler
	s.mu.RUnlock()

	if handler == nil {
		return
	}

	for _, j := range due {
		trackerID := string(j.Extra)
		locked, err := s.lock.Acquire(ctx, trackerID, s.cfg.LockTTL)
		if err != nil || !locked {
			continue
		}
		s.fire(ctx, j, trackerID, handler)
		if err := s.lock.Release(ctx, trackerID); err != nil {
			s.log.Warnf("scheduler: release lock for tracker %s: %v", trackerID, err)
		}
	}
}

// fire invokes the tick handler and advances/persists next_tick. Ticks
// whose firing time lies in the past are coalesced into a single tick — no
// catch-up storm, per spec.md §4.1.
func (s *Scheduler) fire(ctx context.Context, job *model.SchedulerJob, trackerID string, handler TickHandler) {
	handler(ctx, trackerID)

	sched, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		s.log.Errorf("scheduler: re-parse schedule for job %s: %v", job.ID, err)
		return
	}
	now := time.Now()
	job.LastTick = now.Unix()
	job.NextTick = sched.Next(now).Unix()

	if err := s.jobs.SaveSchedulerJob(ctx, job); err != nil {
		s.log.Errorf("scheduler: persist tick for job %s: %v", job.ID, err)
		return
	}
	s.mu.Lock()
	s.jobsCache[job.ID] = job
	s.mu.Unlock()
}

// ReconcileStoppedJobs re-registers jobs left stopped whose tracker still
// exists and is enabled, repairing state after a crash mid-reschedule, per
// spec.md §4.1.
func (s *Scheduler) ReconcileStoppedJobs(ctx context.Context, stoppedJobs []*model.SchedulerJob) {
	for _, j := range stoppedJobs {
		trackerID := string(j.Extra)
		tracker, err := s.trackers.GetTracker(ctx, trackerID)
		if err != nil || !tracker.Enabled || tracker.Config.Job == nil {
			continue
		}
		j.Stopped = false
		sched, err := cron.ParseStandard(j.Schedule)
		if err != nil {
			continue
		}
		j.NextTick = sched.Next(time.Now()).Unix()
		if err := s.jobs.SaveSchedulerJob(ctx, j); err != nil {
			s.log.Errorf("scheduler: reconcile job %s: %v", j.ID, err)
			continue
		}
		s.mu.Lock()
		s.jobsCache[j.ID] = j
		s.mu.Unlock()
	}
}

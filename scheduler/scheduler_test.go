package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/retrack/retrack/internal/model"
	"github.com/retrack/retrack/logging"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[string]*model.SchedulerJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]*model.SchedulerJob)}
}

func (f *fakeJobStore) SaveSchedulerJob(_ context.Context, j *model.SchedulerJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[j.ID] = j
	return nil
}
func (f *fakeJobStore) GetSchedulerJob(_ context.Context, id string) (*model.SchedulerJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, errNotFound
	}
	return j, nil
}
func (f *fakeJobStore) LoadSchedulerJobs(_ context.Context) ([]*model.SchedulerJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.SchedulerJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		if !j.Stopped {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeJobStore) LoadStoppedSchedulerJobs(_ context.Context) ([]*model.SchedulerJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.SchedulerJob, 0)
	for _, j := range f.jobs {
		if j.Stopped {
			out = append(out, j)
		}
	}
	return out, nil
}
func (f *fakeJobStore) DeleteSchedulerJob(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, id)
	return nil
}

type fakeTrackerLoader struct {
	trackers map[string]*model.Tracker
}

func (f *fakeTrackerLoader) GetTracker(_ context.Context, id string) (*model.Tracker, error) {
	t, ok := f.trackers[id]
	if !ok {
		return nil, errNotFound
	}
	return t, nil
}

type fakeLock struct {
	mu     sync.Mutex
	locked map[string]bool
}

func newFakeLock() *fakeLock {
	return &fakeLock{locked: make(map[string]bool)}
}

func (f *fakeLock) Acquire(_ context.Context, trackerID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[trackerID] {
		return false, nil
	}
	f.locked[trackerID] = true
	return true, nil
}
func (f *fakeLock) Release(_ context.Context, trackerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, trackerID)
	return nil
}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }

var errNotFound = &stubErr{msg: "not found"}

func testConfig() Config {
	return Config{
		PollInterval:        20 * time.Millisecond,
		LockTTL:             time.Second,
		MinScheduleInterval: 0,
		Whitelist:           []string{"@every 1s", "@hourly", "@daily"},
	}
}

func TestRegister_RejectsScheduleOutsideWhitelist(t *testing.T) {
	s := New(newFakeJobStore(), &fakeTrackerLoader{}, newFakeLock(), logging.NewDefault(), testConfig())

	_, err := s.Register(context.Background(), "trk_1", "* * * * *", nil)
	if err == nil {
		t.Fatal("expected an error for a non-whitelisted schedule")
	}
}

func TestRegister_PersistsJobForWhitelistedSchedule(t *testing.T) {
	jobs := newFakeJobStore()
	s := New(jobs, &fakeTrackerLoader{}, newFakeLock(), logging.NewDefault(), testConfig())

	jobID, err := s.Register(context.Background(), "trk_1", "@hourly", []byte("trk_1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a non-empty job id")
	}
	if _, err := jobs.GetSchedulerJob(context.Background(), jobID); err != nil {
		t.Fatalf("job was not persisted: %v", err)
	}
}

func TestUnregister_MarksJobStopped(t *testing.T) {
	jobs := newFakeJobStore()
	s := New(jobs, &fakeTrackerLoader{}, newFakeLock(), logging.NewDefault(), testConfig())

	jobID, err := s.Register(context.Background(), "trk_1", "@hourly", []byte("trk_1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Unregister(context.Background(), jobID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	job, err := jobs.GetSchedulerJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if !job.Stopped {
		t.Error("expected job.Stopped = true")
	}
}

func TestScanAndDispatch_FiresDueJobsAndAdvancesNextTick(t *testing.T) {
	jobs := newFakeJobStore()
	lk := newFakeLock()
	s := New(jobs, &fakeTrackerLoader{}, lk, logging.NewDefault(), testConfig())

	var fired []string
	var mu sync.Mutex
	s.OnTick(func(_ context.Context, trackerID string) {
		mu.Lock()
		fired = append(fired, trackerID)
		mu.Unlock()
	})

	originalNextTick := time.Now().Add(-time.Second).Unix()
	job := &model.SchedulerJob{ID: "job_1", Schedule: "@every 1s", NextTick: originalNextTick, Extra: []byte("trk_1")}
	if err := jobs.SaveSchedulerJob(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	s.jobsCache["job_1"] = job

	s.scanAndDispatch(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "trk_1" {
		t.Fatalf("fired = %v, want [trk_1]", fired)
	}
	updated, err := jobs.GetSchedulerJob(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if updated.NextTick <= originalNextTick {
		t.Error("expected NextTick to advance past its original due time")
	}
	if updated.LastTick == 0 {
		t.Error("expected LastTick to be set")
	}
}

func TestScanAndDispatch_SkipsStoppedJobs(t *testing.T) {
	jobs := newFakeJobStore()
	s := New(jobs, &fakeTrackerLoader{}, newFakeLock(), logging.NewDefault(), testConfig())

	var fired int
	s.OnTick(func(_ context.Context, _ string) { fired++ })

	job := &model.SchedulerJob{ID: "job_1", Schedule: "@every 1s", NextTick: time.Now().Add(-time.Second).Unix(), Extra: []byte("trk_1"), Stopped: true}
	s.jobsCache["job_1"] = job

	s.scanAndDispatch(context.Background())

	if fired != 0 {
		t.Errorf("fired = %d, want 0 for a stopped job", fired)
	}
}

func TestScanAndDispatch_SkipsJobsNotYetDue(t *testing.T) {
	jobs := newFakeJobStore()
	s := New(jobs, &fakeTrackerLoader{}, newFakeLock(), logging.NewDefault(), testConfig())

	var fired int
	s.OnTick(func(_ context.Context, _ string) { fired++ })

	job := &model.SchedulerJob{ID: "job_1", Schedule: "@hourly", NextTick: time.Now().Add(time.Hour).Unix(), Extra: []byte("trk_1")}
	s.jobsCache["job_1"] = job

	s.scanAndDispatch(context.Background())

	if fired != 0 {
		t.Errorf("fired = %d, want 0 for a not-yet-due job", fired)
	}
}

func TestScanAndDispatch_SkipsWhenLockNotAcquired(t *testing.T) {
	jobs := newFakeJobStore()
	lk := newFakeLock()
	s := New(jobs, &fakeTrackerLoader{}, lk, logging.NewDefault(), testConfig())

	var fired int
	s.OnTick(func(_ context.Context, _ string) { fired++ })

	job := &model.SchedulerJob{ID: "job_1", Schedule: "@every 1s", NextTick: time.Now().Add(-time.Second).Unix(), Extra: []byte("trk_1")}
	s.jobsCache["job_1"] = job

	locked, err := lk.Acquire(context.Background(), "trk_1", time.Second)
	if err != nil || !locked {
		t.Fatalf("pre-acquire: locked=%v err=%v", locked, err)
	}

	s.scanAndDispatch(context.Background())

	if fired != 0 {
		t.Errorf("fired = %d, want 0 when another owner holds the lock", fired)
	}
}

func TestReconcileStoppedJobs_ReactivatesEnabledTrackerJobs(t *testing.T) {
	jobs := newFakeJobStore()
	trackers := &fakeTrackerLoader{trackers: map[string]*model.Tracker{
		"trk_1": {ID: "trk_1", Enabled: true, Config: model.TrackerConfig{Job: &model.JobConfig{Schedule: "@hourly"}}},
	}}
	s := New(jobs, trackers, newFakeLock(), logging.NewDefault(), testConfig())

	job := &model.SchedulerJob{ID: "job_1", Schedule: "@hourly", Extra: []byte("trk_1"), Stopped: true}
	s.ReconcileStoppedJobs(context.Background(), []*model.SchedulerJob{job})

	if job.Stopped {
		t.Error("expected job to be reactivated (Stopped=false)")
	}
	if job.NextTick == 0 {
		t.Error("expected NextTick to be recomputed")
	}
}

func TestStart_ReconcilesStoppedJobsForStillEnabledTrackers(t *testing.T) {
	jobs := newFakeJobStore()
	trackers := &fakeTrackerLoader{trackers: map[string]*model.Tracker{
		"trk_1": {ID: "trk_1", Enabled: true, Config: model.TrackerConfig{Job: &model.JobConfig{Schedule: "@hourly"}}},
	}}
	s := New(jobs, trackers, newFakeLock(), logging.NewDefault(), testConfig())
	s.OnTick(func(_ context.Context, _ string) {})

	if err := jobs.SaveSchedulerJob(context.Background(), &model.SchedulerJob{
		ID: "job_1", Schedule: "@hourly", Extra: []byte("trk_1"), Stopped: true,
	}); err != nil {
		t.Fatalf("seed stopped job: %v", err)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	job, err := jobs.GetSchedulerJob(context.Background(), "job_1")
	if err != nil {
		t.Fatalf("GetSchedulerJob: %v", err)
	}
	if job.Stopped {
		t.Error("expected Start to reconcile the stopped job back to active")
	}
}

func TestReconcileStoppedJobs_SkipsDisabledTracker(t *testing.T) {
	jobs := newFakeJobStore()
	trackers := &fakeTrackerLoader{trackers: map[string]*model.Tracker{
		"trk_1": {ID: "trk_1", Enabled: false, Config: model.TrackerConfig{Job: &model.JobConfig{Schedule: "@hourly"}}},
	}}
	s := New(jobs, trackers, newFakeLock(), logging.NewDefault(), testConfig())

	job := &model.SchedulerJob{ID: "job_1", Schedule: "@hourly", Extra: []byte("trk_1"), Stopped: true}
	s.ReconcileStoppedJobs(context.Background(), []*model.SchedulerJob{job})

	if !job.Stopped {
		t.Error("expected a disabled tracker's job to remain stopped")
	}
}

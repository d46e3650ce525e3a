package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeRunner records runs and lets tests script per-job behavior.
type fakeRunner struct {
	mu     sync.Mutex
	runs   map[string]int
	script map[string]func(ctx context.Context) ExecutionResult
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		runs:   map[string]int{},
		script: map[string]func(ctx context.Context) ExecutionResult{},
	}
}

func (f *fakeRunner) on(name string, fn func(ctx context.Context) ExecutionResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[name] = fn
}

func (f *fakeRunner) Execute(ctx context.Context, job *Job) ExecutionResult {
	f.mu.Lock()
	f.runs[job.Name]++
	fn := f.script[job.Name]
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return Succeeded("ran %s", job.Name)
}

func (f *fakeRunner) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[name]
}

var testNow = time.Date(2024, 3, 14, 10, 0, 30, 0, time.UTC)

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *Store, *fakeRunner) {
	t.Helper()
	store := newTestStore(t)
	runner := newFakeRunner()
	s := New(store, runner, cfg, nil)
	s.now = func() time.Time { return testNow }
	return s, store, runner
}

func mustCreate(t *testing.T, store *Store, job *Job) *Job {
	t.Helper()
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("create %s: %v", job.Name, err)
	}
	return job
}

func mustGet(t *testing.T, store *Store, id string) *Job {
	t.Helper()
	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return job
}

func TestRunDue_OneShotFiresOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, runner := newTestScheduler(t, Config{})

	job := mustCreate(t, store, oneShotJob("late", testNow.Add(-2*time.Hour)))

	if n := s.RunDue(ctx); n != 1 {
		t.Fatalf("first RunDue started %d jobs, want 1", n)
	}
	if n := s.RunDue(ctx); n != 0 {
		t.Fatalf("second RunDue started %d jobs, want 0", n)
	}
	if runner.count("late") != 1 {
		t.Errorf("ran %d times, want 1", runner.count("late"))
	}

	got := mustGet(t, store, job.ID)
	if got.Enabled {
		t.Error("one-shot job still enabled after running")
	}
	if got.LastStatus != StatusSuccess || got.LastRunAt == nil {
		t.Errorf("status = %s, last run %v", got.LastStatus, got.LastRunAt)
	}
}

func TestRunDue_RecurringMisfire(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, runner := newTestScheduler(t, Config{TickInterval: time.Minute})

	stale := mustCreate(t, store, recurringJob("stale", "0 * * * *", testNow.Add(-3*time.Hour)))
	fresh := mustCreate(t, store, recurringJob("fresh", "*/15 * * * *", testNow.Add(-30*time.Second)))

	if n := s.RunDue(ctx); n != 1 {
		t.Fatalf("RunDue started %d jobs, want 1", n)
	}
	if runner.count("stale") != 0 {
		t.Error("job overdue beyond the grace period must be skipped")
	}
	if runner.count("fresh") != 1 {
		t.Error("job within the grace period must run")
	}

	skipped := mustGet(t, store, stale.ID)
	wantSkip := time.Date(2024, 3, 14, 11, 0, 0, 0, time.UTC)
	if skipped.NextRunAt == nil || !skipped.NextRunAt.Equal(wantSkip) {
		t.Errorf("skipped next run = %v, want %v", skipped.NextRunAt, wantSkip)
	}
	if skipped.LastRunAt != nil || skipped.LastStatus != StatusPending {
		t.Error("skipping must not record a run")
	}

	ran := mustGet(t, store, fresh.ID)
	wantNext := time.Date(2024, 3, 14, 10, 15, 0, 0, time.UTC)
	if ran.NextRunAt == nil || !ran.NextRunAt.Equal(wantNext) {
		t.Errorf("next run = %v, want %v", ran.NextRunAt, wantNext)
	}
	if !ran.Enabled {
		t.Error("recurring job disabled after running")
	}
}

func TestRunDue_FailuresStayScheduled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, runner := newTestScheduler(t, Config{})

	failing := mustCreate(t, store, recurringJob("failing", "*/5 * * * *", testNow))
	panicky := mustCreate(t, store, recurringJob("panicky", "*/5 * * * *", testNow))
	runner.on("failing", func(context.Context) ExecutionResult { return Failed("boom") })
	runner.on("panicky", func(context.Context) ExecutionResult { panic("kaboom") })

	if n := s.RunDue(ctx); n != 2 {
		t.Fatalf("RunDue started %d jobs, want 2", n)
	}

	for _, id := range []string{failing.ID, panicky.ID} {
		got := mustGet(t, store, id)
		if got.LastStatus != StatusFailed {
			t.Errorf("%s status = %s, want failed", got.Name, got.LastStatus)
		}
		if !got.Enabled || got.NextRunAt == nil || !got.NextRunAt.After(testNow) {
			t.Errorf("%s not rescheduled: enabled=%v next=%v", got.Name, got.Enabled, got.NextRunAt)
		}
	}
	if got := mustGet(t, store, panicky.ID); !strings.HasPrefix(got.LastDetail, "panic: kaboom") {
		t.Errorf("panic detail = %q", got.LastDetail)
	}
}

func TestRunDue_JobTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, runner := newTestScheduler(t, Config{JobTimeout: 50 * time.Millisecond})

	job := mustCreate(t, store, oneShotJob("slow", testNow))
	runner.on("slow", func(ctx context.Context) ExecutionResult {
		<-ctx.Done()
		return Succeeded("finished late")
	})

	s.RunDue(ctx)
	got := mustGet(t, store, job.ID)
	if got.LastStatus != StatusFailed || !strings.Contains(got.LastDetail, "timed out") {
		t.Errorf("status = %s detail = %q, want timeout failure", got.LastStatus, got.LastDetail)
	}
}

func TestRunDue_ConcurrencyCap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, runner := newTestScheduler(t, Config{MaxConcurrent: 2})

	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
	)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		mustCreate(t, store, oneShotJob(name, testNow.Add(-time.Minute)))
		runner.on(name, func(context.Context) ExecutionResult {
			mu.Lock()
			inFlight++
			maxInFlight = max(maxInFlight, inFlight)
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return Succeeded("ok")
		})
	}

	if n := s.RunDue(ctx); n != 5 {
		t.Fatalf("RunDue started %d jobs, want 5", n)
	}
	if maxInFlight > 2 {
		t.Errorf("max in flight = %d, want <= 2", maxInFlight)
	}
}

func TestReconcile_InterruptedJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, store, _ := newTestScheduler(t, Config{})

	once := mustCreate(t, store, oneShotJob("once", testNow.Add(-time.Minute)))
	every := mustCreate(t, store, recurringJob("every", "*/10 * * * *", testNow.Add(-time.Minute)))
	for _, id := range []string{once.ID, every.ID} {
		if ok, err := store.MarkRunning(ctx, id, "previous-process"); err != nil || !ok {
			t.Fatalf("MarkRunning: %v %v", ok, err)
		}
	}

	if err := s.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	gotOnce := mustGet(t, store, once.ID)
	if gotOnce.LastStatus != StatusFailed || gotOnce.Enabled {
		t.Errorf("one-shot: status=%s enabled=%v, want failed and disabled", gotOnce.LastStatus, gotOnce.Enabled)
	}
	if !strings.Contains(gotOnce.LastDetail, "interrupted") {
		t.Errorf("detail = %q", gotOnce.LastDetail)
	}

	gotEvery := mustGet(t, store, every.ID)
	if gotEvery.LastStatus != StatusFailed || !gotEvery.Enabled {
		t.Errorf("recurring: status=%s enabled=%v, want failed and enabled", gotEvery.LastStatus, gotEvery.Enabled)
	}
	if gotEvery.NextRunAt == nil || !gotEvery.NextRunAt.After(testNow) {
		t.Errorf("recurring next run = %v", gotEvery.NextRunAt)
	}

	// Jobs this generation is running are left alone.
	mine := mustCreate(t, store, recurringJob("mine", "*/10 * * * *", testNow))
	if ok, _ := store.MarkRunning(ctx, mine.ID, s.Generation()); !ok {
		t.Fatal("claim failed")
	}
	if err := s.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, store, mine.ID); got.LastStatus != StatusRunning {
		t.Errorf("own running job status = %s", got.LastStatus)
	}
}

func TestManage_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _, runner := newTestScheduler(t, Config{})

	job, err := s.CreateJob(ctx, JobSpec{
		Name:     "standup",
		UserID:   "telegram:1",
		Type:     "reminder",
		Payload:  map[string]string{"message": "standup time"},
		Schedule: "0 9 * * 1-5",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Type != TypeSendMessage || job.NextRunAt == nil {
		t.Fatalf("created %+v", job)
	}
	if !strings.Contains(FormatCreated(job), "✅ Cron Job Created") {
		t.Error("FormatCreated missing header")
	}

	if _, err := s.CreateJob(ctx, JobSpec{Name: "standup", Type: TypeSendMessage, Schedule: "daily"}); !errors.Is(err, ErrJobExists) {
		t.Errorf("duplicate err = %v", err)
	}
	if _, err := s.CreateJob(ctx, JobSpec{Type: TypeSendMessage, Schedule: "whenever"}); !errors.Is(err, ErrInvalidSchedule) {
		t.Errorf("bad schedule err = %v", err)
	}
	if _, err := s.CreateJob(ctx, JobSpec{Type: "teleport", Schedule: "daily"}); !errors.Is(err, ErrInvalidJob) {
		t.Errorf("bad type err = %v", err)
	}

	// Other users cannot see or touch the job.
	if _, err := s.GetJob(ctx, "telegram:2", "standup"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("foreign GetJob err = %v", err)
	}
	if _, err := s.DeleteJob(ctx, "telegram:2", job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("foreign DeleteJob err = %v", err)
	}
	if jobs, _ := s.ListJobs(ctx, "telegram:2"); len(jobs) != 0 {
		t.Errorf("foreign list = %d jobs", len(jobs))
	}

	disabled, err := s.DisableJob(ctx, "telegram:1", "Standup")
	if err != nil || disabled.Enabled {
		t.Fatalf("DisableJob = %+v, %v", disabled, err)
	}
	if _, err := s.RunNow(ctx, "telegram:1", "standup"); err == nil {
		t.Error("RunNow on a disabled job should fail")
	}

	enabled, err := s.EnableJob(ctx, "telegram:1", "standup")
	if err != nil || !enabled.Enabled {
		t.Fatalf("EnableJob = %+v, %v", enabled, err)
	}

	edited, err := s.EditJob(ctx, "telegram:1", "standup", JobEdit{
		Schedule: "every 30 minutes",
		Payload:  map[string]string{"message": "stretch"},
	})
	if err != nil {
		t.Fatalf("EditJob: %v", err)
	}
	if edited.Schedule.Cron != "*/30 * * * *" || edited.Param("message") != "stretch" {
		t.Errorf("edited = %+v", edited)
	}

	res, err := s.RunNow(ctx, "telegram:1", "standup")
	if err != nil || res.Status != StatusSuccess {
		t.Fatalf("RunNow = %+v, %v", res, err)
	}
	if runner.count("standup") != 1 {
		t.Errorf("runs = %d", runner.count("standup"))
	}

	list, err := s.ListJobs(ctx, "telegram:1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListJobs = %d, %v", len(list), err)
	}
	if out := FormatJobList(list); !strings.Contains(out, "standup") || !strings.Contains(out, "success") {
		t.Errorf("FormatJobList = %q", out)
	}

	if _, err := s.DeleteJob(ctx, "telegram:1", "standup"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if out := FormatJobList(nil); out != "📭 No scheduled jobs." {
		t.Errorf("empty list = %q", out)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	s, store, runner := newTestScheduler(t, Config{TickInterval: 10 * time.Millisecond})
	mustCreate(t, store, oneShotJob("boot", testNow.Add(-time.Minute)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runner.count("boot") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if runner.count("boot") != 1 {
		t.Errorf("boot ran %d times, want 1", runner.count("boot"))
	}
}

func TestRunDue_EditWhileRunning(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		edit        string
		wantNext    time.Time
		wantEnabled bool
	}{
		{
			name:        "recurring to daily",
			edit:        "daily at 09:00",
			wantNext:    time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC),
			wantEnabled: true,
		},
		{
			name:        "recurring to one-shot",
			edit:        "at 2024-03-20 08:30",
			wantNext:    time.Date(2024, 3, 20, 8, 30, 0, 0, time.UTC),
			wantEnabled: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			s, store, runner := newTestScheduler(t, Config{})

			job := mustCreate(t, store, recurringJob("poll", "*/5 * * * *", testNow.Add(-30*time.Second)))
			started := make(chan struct{})
			release := make(chan struct{})
			runner.on("poll", func(context.Context) ExecutionResult {
				close(started)
				<-release
				return Succeeded("polled")
			})

			done := make(chan int, 1)
			go func() { done <- s.RunDue(ctx) }()
			<-started

			edited, err := s.EditJob(ctx, "telegram:1", "poll", JobEdit{Schedule: tt.edit})
			if err != nil {
				close(release)
				<-done
				t.Fatalf("EditJob: %v", err)
			}
			close(release)
			if n := <-done; n != 1 {
				t.Fatalf("RunDue started %d jobs, want 1", n)
			}

			got := mustGet(t, store, job.ID)
			if !got.Schedule.Equal(edited.Schedule) {
				t.Errorf("schedule = %v, want the edited %v", got.Schedule, edited.Schedule)
			}
			if got.NextRunAt == nil || !got.NextRunAt.Equal(tt.wantNext) {
				t.Errorf("next run = %v, want %v", got.NextRunAt, tt.wantNext)
			}
			if got.Enabled != tt.wantEnabled {
				t.Errorf("enabled = %v, want %v", got.Enabled, tt.wantEnabled)
			}
			if got.LastStatus != StatusSuccess {
				t.Errorf("status = %s, want success", got.LastStatus)
			}
		})
	}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// JobRunner executes one job. *Executor implements it.
type JobRunner interface {
	Execute(ctx context.Context, job *Job) ExecutionResult
}

// Config tunes the tick loop.
type Config struct {
	// TickInterval is how often due jobs are checked. Defaults to 1m.
	TickInterval time.Duration

	// MaxConcurrent caps in-flight jobs. Defaults to 4.
	MaxConcurrent int

	// JobTimeout bounds a single run. Defaults to 5m.
	JobTimeout time.Duration

	// MisfireGrace is how late a recurring job may fire before the run is
	// skipped. Defaults to max(2*TickInterval, 1m).
	MisfireGrace time.Duration
}

// Scheduler fires due jobs from the store.
type Scheduler struct {
	store  *Store
	runner JobRunner
	cfg    Config

	// generation identifies this process in jobs it marks running.
	generation string

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

// New creates a scheduler. Call Run to start the loop.
func New(store *Store, runner JobRunner, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = max(2*cfg.TickInterval, time.Minute)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      store,
		runner:     runner,
		cfg:        cfg,
		generation: uuid.NewString(),
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:        time.Now,
		logger:     logger.With("component", "scheduler"),
	}
}

// Generation returns this process's run generation.
func (s *Scheduler) Generation() string { return s.generation }

// Run reconciles jobs left over from a previous process, then ticks until ctx
// is cancelled. In-flight jobs are awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	s.logger.Info("scheduler started", "tick", s.cfg.TickInterval, "max_concurrent", s.cfg.MaxConcurrent)
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// RunDue dispatches every currently due job and waits for all of them.
func (s *Scheduler) RunDue(ctx context.Context) int {
	n := s.tick(ctx)
	s.wg.Wait()
	return n
}

// Reconcile repairs state left by a crashed process: jobs another generation
// marked running are recorded as failed and rescheduled by their normal
// policy, and enabled jobs without a next run get one.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	stale, err := s.store.Stale(ctx, s.generation)
	if err != nil {
		return fmt.Errorf("load stale jobs: %w", err)
	}
	now := s.now()
	for _, job := range stale {
		err := s.store.Finish(ctx, job.ID, func(current *Job) Completion {
			return s.completion(job, current, Failed("interrupted: process exited while the job was running"), now)
		})
		if err != nil {
			return err
		}
		s.logger.Warn("recovered interrupted job", "job", job.Name, "generation", job.RunGeneration)
	}

	unscheduled, err := s.store.Unscheduled(ctx)
	if err != nil {
		return fmt.Errorf("load unscheduled jobs: %w", err)
	}
	for _, job := range unscheduled {
		next, err := job.Schedule.Next(now)
		if err != nil {
			s.logger.Error("job has an invalid schedule", "job", job.Name, "error", err)
			continue
		}
		if err := s.store.Reschedule(ctx, job.ID, &next); err != nil {
			return err
		}
	}
	return nil
}

// tick dispatches due jobs in next_run_at order and returns how many were
// started. It blocks while MaxConcurrent jobs are in flight.
func (s *Scheduler) tick(ctx context.Context) int {
	now := s.now()
	due, err := s.store.Due(ctx, now)
	if err != nil {
		s.logger.Error("failed to query due jobs", "error", err)
		return 0
	}

	started := 0
	for _, job := range due {
		if ctx.Err() != nil {
			break
		}
		if s.skipMisfire(ctx, job, now) {
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		claimed, err := s.store.ClaimDue(ctx, job.ID, s.generation, now)
		if err != nil || !claimed {
			s.sem.Release(1)
			if err != nil {
				s.logger.Error("failed to claim job", "job", job.Name, "error", err)
			}
			continue
		}

		started++
		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			// Run the row as claimed, not as listed.
			if current, err := s.store.Get(ctx, job.ID); err == nil {
				job = current
			}
			s.execute(ctx, job)
		}(job)
	}
	return started
}

// skipMisfire moves a recurring job that is overdue beyond the grace period
// to its next future occurrence without running it. One-shot jobs always
// catch up.
func (s *Scheduler) skipMisfire(ctx context.Context, job *Job, now time.Time) bool {
	if job.Schedule.OneShot() || job.NextRunAt == nil {
		return false
	}
	if now.Sub(*job.NextRunAt) <= s.cfg.MisfireGrace {
		return false
	}
	next, err := job.Schedule.Next(now)
	if err != nil {
		s.logger.Error("job has an invalid schedule", "job", job.Name, "error", err)
		return true
	}
	if err := s.store.Reschedule(ctx, job.ID, &next); err != nil {
		s.logger.Error("failed to skip missed run", "job", job.Name, "error", err)
		return true
	}
	s.logger.Info("skipped missed run", "job", job.Name, "was_due", job.NextRunAt.Format(time.RFC3339), "next", next.Format(time.RFC3339))
	return true
}

// execute runs a claimed job and records the outcome. A panic or timeout
// becomes a failed result; the outcome is persisted even when ctx is done.
func (s *Scheduler) execute(ctx context.Context, job *Job) (result ExecutionResult) {
	start := s.now()
	s.logger.Info("executing scheduled job", "job", job.Name, "type", job.Type)

	jobCtx, cancel := context.WithTimeout(ctx, s.cfg.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "job", job.Name, "panic", r)
			result = Failed("panic: %v", r)
		}
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && result.Status != StatusFailed {
			result = Failed("job timed out after %s", s.cfg.JobTimeout)
		}

		ranAt := s.now()
		err := s.store.Finish(context.WithoutCancel(ctx), job.ID, func(current *Job) Completion {
			return s.completion(job, current, result, ranAt)
		})
		if err != nil {
			s.logger.Error("failed to record job result", "job", job.Name, "error", err)
		}

		attrs := []any{"job", job.Name, "status", result.Status, "duration", s.now().Sub(start)}
		if result.Status == StatusFailed {
			s.logger.Warn("scheduled job failed", append(attrs, "detail", firstLine(result.Detail))...)
		} else {
			s.logger.Info("scheduled job completed", attrs...)
		}
	}()

	return s.runner.Execute(jobCtx, job)
}

// completion computes the post-run state from the current row: one-shot
// jobs are disabled, recurring jobs get the first occurrence after the
// current minute whether the run succeeded or not. A job moved to a new
// one-shot time while it ran keeps that time.
func (s *Scheduler) completion(ran, current *Job, result ExecutionResult, ranAt time.Time) Completion {
	c := Completion{Result: result, RanAt: ranAt}
	if current.Schedule.OneShot() {
		if !current.Schedule.Equal(ran.Schedule) {
			c.NextRunAt = current.NextRunAt
			return c
		}
		c.Disable = true
		return c
	}
	from := ranAt.Truncate(time.Minute).Add(time.Minute)
	next, err := current.Schedule.Next(from)
	if err != nil {
		c.Disable = true
		c.Result.Detail += "\nschedule error: " + err.Error()
		return c
	}
	c.NextRunAt = &next
	return c
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

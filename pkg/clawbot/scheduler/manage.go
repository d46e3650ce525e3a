package scheduler

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"
)

// JobSpec describes a job to create.
type JobSpec struct {
	Name     string
	UserID   string
	Type     JobType
	Payload  map[string]string
	Schedule string
}

// JobEdit changes an existing job. Empty fields are left alone; Payload keys
// are merged into the current payload.
type JobEdit struct {
	Name     string
	Schedule string
	Payload  map[string]string
}

// CreateJob parses the schedule, computes the first run and stores the job.
func (s *Scheduler) CreateJob(ctx context.Context, spec JobSpec) (*Job, error) {
	jobType, err := ParseJobType(string(spec.Type))
	if err != nil {
		return nil, err
	}
	now := s.now()
	sched, err := ParseSchedule(spec.Schedule, now)
	if err != nil {
		return nil, err
	}
	next, err := sched.Next(now)
	if err != nil {
		return nil, err
	}

	job := &Job{
		Name:         strings.TrimSpace(spec.Name),
		UserID:       spec.UserID,
		Type:         jobType,
		Payload:      maps.Clone(spec.Payload),
		Schedule:     sched,
		ScheduleText: strings.TrimSpace(spec.Schedule),
		Enabled:      true,
		NextRunAt:    &next,
	}
	if job.Payload == nil {
		job.Payload = map[string]string{}
	}
	if job.Name == "" {
		job.Name = fmt.Sprintf("%s_%d", jobType, now.Unix())
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job", job.Name, "type", job.Type, "schedule", job.Schedule.String(), "next", next.Format(time.RFC3339))
	return job, nil
}

// GetJob resolves a job by id or name. A non-empty owner hides other users'
// jobs.
func (s *Scheduler) GetJob(ctx context.Context, owner, ref string) (*Job, error) {
	job, err := s.store.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if owner != "" && job.UserID != "" && job.UserID != owner {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, ref)
	}
	return job, nil
}

// ListJobs lists the owner's jobs, or all jobs for an empty owner.
func (s *Scheduler) ListJobs(ctx context.Context, owner string) ([]*Job, error) {
	return s.store.List(ctx, owner)
}

// EnableJob turns a job on and schedules its next run. A one-shot job whose
// time has passed fires on the next tick.
func (s *Scheduler) EnableJob(ctx context.Context, owner, ref string) (*Job, error) {
	job, err := s.GetJob(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return s.store.Update(ctx, job.ID, func(j *Job) error {
		next, err := j.Schedule.Next(now)
		if err != nil {
			return err
		}
		j.Enabled = true
		j.NextRunAt = &next
		return nil
	})
}

// DisableJob turns a job off. Its history is kept.
func (s *Scheduler) DisableJob(ctx context.Context, owner, ref string) (*Job, error) {
	job, err := s.GetJob(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	return s.store.Update(ctx, job.ID, func(j *Job) error {
		j.Enabled = false
		return nil
	})
}

// EditJob renames, reschedules or re-parameterizes a job.
func (s *Scheduler) EditJob(ctx context.Context, owner, ref string, edit JobEdit) (*Job, error) {
	job, err := s.GetJob(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	now := s.now()

	var sched *Schedule
	if strings.TrimSpace(edit.Schedule) != "" {
		parsed, err := ParseSchedule(edit.Schedule, now)
		if err != nil {
			return nil, err
		}
		sched = &parsed
	}

	return s.store.Update(ctx, job.ID, func(j *Job) error {
		if name := strings.TrimSpace(edit.Name); name != "" {
			j.Name = name
		}
		if len(edit.Payload) > 0 {
			if j.Payload == nil {
				j.Payload = map[string]string{}
			}
			maps.Copy(j.Payload, edit.Payload)
		}
		if sched != nil {
			j.Schedule = *sched
			j.ScheduleText = strings.TrimSpace(edit.Schedule)
			next, err := sched.Next(now)
			if err != nil {
				return err
			}
			j.NextRunAt = &next
			if sched.OneShot() {
				j.Enabled = true
			}
		}
		return nil
	})
}

// DeleteJob removes a job permanently.
func (s *Scheduler) DeleteJob(ctx context.Context, owner, ref string) (*Job, error) {
	job, err := s.GetJob(ctx, owner, ref)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, job.ID); err != nil {
		return nil, err
	}
	s.logger.Info("job deleted", "job", job.Name)
	return job, nil
}

// RunNow executes a job immediately through the normal claim and record
// path, outside the tick loop.
func (s *Scheduler) RunNow(ctx context.Context, owner, ref string) (ExecutionResult, error) {
	job, err := s.GetJob(ctx, owner, ref)
	if err != nil {
		return ExecutionResult{}, err
	}
	claimed, err := s.store.MarkRunning(ctx, job.ID, s.generation)
	if err != nil {
		return ExecutionResult{}, err
	}
	if !claimed {
		return ExecutionResult{}, fmt.Errorf("job %q is disabled or already running", job.Name)
	}
	return s.execute(ctx, job), nil
}

// FormatJob renders one job for chat and CLI listings.
func FormatJob(j *Job) string {
	var b strings.Builder
	state := "✅ enabled"
	if !j.Enabled {
		state = "⏸️ disabled"
	}
	fmt.Fprintf(&b, "• %s (%s) %s\n", j.Name, j.Type, state)
	sched := j.ScheduleText
	if sched == "" {
		sched = j.Schedule.String()
	}
	fmt.Fprintf(&b, "  Schedule: %s\n", sched)
	if j.NextRunAt != nil && j.Enabled {
		fmt.Fprintf(&b, "  Next run: %s\n", j.NextRunAt.Format("2006-01-02 15:04"))
	}
	if j.LastRunAt != nil {
		fmt.Fprintf(&b, "  Last run: %s (%s)\n", j.LastRunAt.Format("2006-01-02 15:04"), j.LastStatus)
	}
	fmt.Fprintf(&b, "  ID: %s", j.ID)
	return b.String()
}

// FormatJobList renders a listing.
func FormatJobList(jobs []*Job) string {
	if len(jobs) == 0 {
		return "📭 No scheduled jobs."
	}
	parts := make([]string, 0, len(jobs)+1)
	parts = append(parts, fmt.Sprintf("⏰ Scheduled jobs (%d):", len(jobs)))
	for _, j := range jobs {
		parts = append(parts, FormatJob(j))
	}
	return strings.Join(parts, "\n\n")
}

// FormatCreated renders the confirmation for a new job.
func FormatCreated(j *Job) string {
	var b strings.Builder
	b.WriteString("✅ Cron Job Created\n\n")
	fmt.Fprintf(&b, "Name: %s\nType: %s\nSchedule: %s\n", j.Name, j.Type, j.ScheduleText)
	if j.NextRunAt != nil {
		fmt.Fprintf(&b, "Next run: %s\n", j.NextRunAt.Format("2006-01-02 15:04"))
	}
	if msg := j.Param("message"); msg != "" && j.Type == TypeSendMessage {
		fmt.Fprintf(&b, "Message: %s\n", msg)
	}
	if cmd := j.Param("command"); cmd != "" {
		fmt.Fprintf(&b, "Command: %s\n", cmd)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Package scheduler stores one-shot and recurring jobs in SQLite, fires them
// from a clock-driven tick loop and dispatches each run to the executor.
//
// A job moves through pending → running → success|failed. Recurring jobs are
// rescheduled after every run; one-shot jobs are disabled once they have run.
// Runs are claimed with a conditional update so overlapping ticks, restarts
// and manual runs never fire the same job twice.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidSchedule rejects a malformed or impossible schedule.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrJobNotFound is returned for an unknown id or name.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when a job name is already taken.
	ErrJobExists = errors.New("job already exists")

	// ErrInvalidJob rejects a job with an unknown type or missing fields.
	ErrInvalidJob = errors.New("invalid job")
)

// JobType selects the executor handler.
type JobType string

const (
	TypeSendMessage   JobType = "send_message"
	TypeCheckEmail    JobType = "check_email"
	TypeCustomCommand JobType = "custom_command"
	TypeCleanup       JobType = "cleanup"
	TypeReport        JobType = "report"
)

// JobTypes lists every supported type.
var JobTypes = []JobType{TypeSendMessage, TypeCheckEmail, TypeCustomCommand, TypeCleanup, TypeReport}

// ParseJobType resolves a type name, accepting a few aliases.
func ParseJobType(s string) (JobType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "message", "reminder", "send":
		return TypeSendMessage, nil
	case "email", "check_emails":
		return TypeCheckEmail, nil
	case "command", "shell", "cmd":
		return TypeCustomCommand, nil
	}
	for _, t := range JobTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, s)
}

// Status is the persisted run state.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Schedule is either a one-shot RunAt or a recurring Cron expression, never
// both.
type Schedule struct {
	RunAt *time.Time
	Cron  string
}

// OneShot reports whether the schedule fires once.
func (s Schedule) OneShot() bool { return s.RunAt != nil }

// Validate enforces the one-of invariant and parses the cron expression.
func (s Schedule) Validate() error {
	switch {
	case s.RunAt != nil && s.Cron != "":
		return fmt.Errorf("%w: both run_at and cron set", ErrInvalidSchedule)
	case s.RunAt == nil && s.Cron == "":
		return fmt.Errorf("%w: neither run_at nor cron set", ErrInvalidSchedule)
	case s.Cron != "":
		_, err := ParseCron(s.Cron)
		return err
	}
	return nil
}

// Equal reports whether both schedules fire at the same times.
func (s Schedule) Equal(o Schedule) bool {
	if (s.RunAt == nil) != (o.RunAt == nil) {
		return false
	}
	if s.RunAt != nil && !s.RunAt.Equal(*o.RunAt) {
		return false
	}
	return s.Cron == o.Cron
}

// String renders the schedule for listings.
func (s Schedule) String() string {
	if s.RunAt != nil {
		return "once at " + s.RunAt.Format("2006-01-02 15:04")
	}
	return "cron " + s.Cron
}

// Next returns the next fire time at or after from. One-shot schedules
// always return RunAt, even when it lies in the past.
func (s Schedule) Next(from time.Time) (time.Time, error) {
	if s.RunAt != nil {
		return *s.RunAt, nil
	}
	spec, err := ParseCron(s.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return spec.Next(from)
}

// Job is a scheduled unit of work.
type Job struct {
	ID           string
	Name         string
	UserID       string
	Type         JobType
	Payload      map[string]string
	Schedule     Schedule
	ScheduleText string
	Enabled      bool

	NextRunAt     *time.Time
	LastRunAt     *time.Time
	LastStatus    Status
	LastDetail    string
	RunGeneration string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Param returns a payload value or "".
func (j *Job) Param(key string) string {
	if j.Payload == nil {
		return ""
	}
	return j.Payload[key]
}

// Validate checks the job before it is written.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if _, err := ParseJobType(string(j.Type)); err != nil {
		return err
	}
	return j.Schedule.Validate()
}

// ExecutionResult is the outcome of one run.
type ExecutionResult struct {
	Status Status
	Detail string
}

// Succeeded builds a success result.
func Succeeded(format string, args ...any) ExecutionResult {
	return ExecutionResult{Status: StatusSuccess, Detail: fmt.Sprintf(format, args...)}
}

// Failed builds a failure result.
func Failed(format string, args ...any) ExecutionResult {
	return ExecutionResult{Status: StatusFailed, Detail: fmt.Sprintf(format, args...)}
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/email"
	"github.com/jholhewres/clawbot/pkg/clawbot/sandbox"
)

// Notifier delivers text to a user ("<channel>:<chat id>").
type Notifier interface {
	Deliver(ctx context.Context, userID, text string) error
}

// EmailChecker produces the unread-mail summary.
type EmailChecker interface {
	CheckUnread(ctx context.Context) (string, error)
}

// CommandRunner runs a shell command with a timeout.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (*sandbox.Result, error)
}

// ReportRenderer builds the sleep and tracking reports.
type ReportRenderer interface {
	SleepReport(ctx context.Context, userID string, days int) (string, error)
	TrackingReport(ctx context.Context, userID, category string, days int) (string, error)
}

// Cleaner purges one kind of stale data.
type Cleaner interface {
	Name() string
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// ExecutorConfig tunes the executor.
type ExecutorConfig struct {
	CommandTimeout time.Duration
	OutputLimit    int

	// DefaultUserID receives output of jobs without an owner.
	DefaultUserID string
}

// Executor dispatches a job to the handler for its type. Collaborators may be
// nil; a job needing a missing collaborator fails with a clear detail.
type Executor struct {
	Notifier Notifier
	Email    EmailChecker
	Commands CommandRunner
	Reports  ReportRenderer
	Cleaners []Cleaner

	cfg    ExecutorConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewExecutor creates an executor; set the collaborator fields before use.
func NewExecutor(cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 30 * time.Second
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 1500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{cfg: cfg, now: time.Now, logger: logger.With("component", "executor")}
}

// Execute runs job once. It never panics on collaborator errors; every
// failure ends up in the result detail.
func (e *Executor) Execute(ctx context.Context, job *Job) ExecutionResult {
	switch job.Type {
	case TypeSendMessage:
		return e.sendMessage(ctx, job)
	case TypeCheckEmail:
		return e.checkEmail(ctx, job)
	case TypeCustomCommand:
		return e.customCommand(ctx, job)
	case TypeCleanup:
		return e.cleanup(ctx, job)
	case TypeReport:
		return e.report(ctx, job, job.Param("report"), job.Param("user_id"), job.Param("category"), atoiDefault(job.Param("days"), 7))
	default:
		return Failed("unknown job type %q", job.Type)
	}
}

func (e *Executor) owner(job *Job) string {
	if v := job.Param("user_id"); v != "" {
		return v
	}
	if job.UserID != "" {
		return job.UserID
	}
	return e.cfg.DefaultUserID
}

func (e *Executor) deliver(ctx context.Context, job *Job, text string) error {
	to := e.owner(job)
	if to == "" {
		return errors.New("no recipient: set the job owner or scheduler.notify_user_id")
	}
	if e.Notifier == nil {
		return errors.New("no notifier configured")
	}
	return e.Notifier.Deliver(ctx, to, text)
}

func (e *Executor) sendMessage(ctx context.Context, job *Job) ExecutionResult {
	msg := job.Param("message")
	if msg == "" {
		msg = "Scheduled reminder"
	}

	switch {
	case strings.HasPrefix(msg, "SLEEP_REPORT:"):
		parts := strings.Split(msg, ":")
		days := 7
		if len(parts) > 2 {
			days = atoiDefault(parts[2], 7)
		}
		return e.report(ctx, job, "sleep", parts[1], "", days)
	case strings.HasPrefix(msg, "TRACKING_REPORT:"):
		parts := strings.Split(msg, ":")
		if len(parts) < 3 {
			return Failed("malformed tracking report message %q", msg)
		}
		days := 7
		if len(parts) > 3 {
			days = atoiDefault(parts[3], 7)
		}
		return e.report(ctx, job, "tracking", parts[1], parts[2], days)
	}

	if err := e.deliver(ctx, job, msg); err != nil {
		return Failed("delivery failed: %v", err)
	}
	return Succeeded("message delivered to %s", e.owner(job))
}

func (e *Executor) checkEmail(ctx context.Context, job *Job) ExecutionResult {
	var (
		summary string
		err     = email.ErrNotConfigured
	)
	if e.Email != nil {
		summary, err = e.Email.CheckUnread(ctx)
	}
	if err != nil {
		if errors.Is(err, email.ErrNotConfigured) {
			if dErr := e.deliver(ctx, job, email.FailureMessage(err)); dErr != nil {
				e.logger.Warn("could not tell owner email is not configured", "job", job.Name, "error", dErr)
			}
			return Failed("email not configured")
		}
		return Failed("email check failed: %v", err)
	}

	if err := e.deliver(ctx, job, "📧 Scheduled Email Check:\n\n"+summary); err != nil {
		return Failed("delivery failed: %v", err)
	}
	return Succeeded("%s", sandbox.Truncate(summary, e.cfg.OutputLimit))
}

func (e *Executor) customCommand(ctx context.Context, job *Job) ExecutionResult {
	command := job.Param("command")
	if command == "" {
		return Failed("no command in payload")
	}
	if e.Commands == nil {
		return Failed("command execution is not available")
	}

	timeout := e.cfg.CommandTimeout
	if secs := atoiDefault(job.Param("timeout"), 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	res, err := e.Commands.Run(ctx, command, timeout)
	if err != nil {
		return Failed("❌ Error: %v", err)
	}
	output := sandbox.FormatResult(res, e.cfg.OutputLimit)

	if err := e.deliver(ctx, job, fmt.Sprintf("🖥️ %s\n%s", job.Name, output)); err != nil {
		e.logger.Warn("command output not delivered", "job", job.Name, "error", err)
	}

	if res.TimedOut {
		return Failed("%s", output)
	}
	detail := sandbox.Truncate(fmt.Sprintf("exit code %d\n%s", res.ExitCode, output), e.cfg.OutputLimit)
	if res.ExitCode != 0 {
		return Failed("%s", detail)
	}
	return Succeeded("%s", detail)
}

func (e *Executor) cleanup(ctx context.Context, job *Job) ExecutionResult {
	days := atoiDefault(job.Param("days"), 30)
	if days < 0 {
		days = 30
	}
	before := e.now().AddDate(0, 0, -days)

	var lines []string
	var total int64
	for _, c := range e.Cleaners {
		n, err := c.Purge(ctx, before)
		if err != nil {
			e.logger.Warn("cleanup step failed", "step", c.Name(), "error", err)
			lines = append(lines, fmt.Sprintf("%s: failed (%v)", c.Name(), err))
			continue
		}
		total += n
		lines = append(lines, fmt.Sprintf("%s: %d removed", c.Name(), n))
	}

	summary := fmt.Sprintf("🧹 Cleanup completed (>%d days old data, %d rows removed)", days, total)
	if len(lines) > 0 {
		summary += "\n" + strings.Join(lines, "\n")
	}
	if e.owner(job) != "" {
		if err := e.deliver(ctx, job, summary); err != nil {
			e.logger.Warn("cleanup summary not delivered", "job", job.Name, "error", err)
		}
	}
	return Succeeded("%s", summary)
}

func (e *Executor) report(ctx context.Context, job *Job, kind, userID, category string, days int) ExecutionResult {
	if e.Reports == nil {
		return Failed("reports are not available")
	}
	if userID == "" {
		userID = e.owner(job)
	}
	if days <= 0 {
		days = 7
	}

	var (
		text string
		err  error
	)
	switch kind {
	case "sleep":
		text, err = e.Reports.SleepReport(ctx, userID, days)
	case "tracking":
		if category == "" {
			return Failed("tracking report needs a category")
		}
		text, err = e.Reports.TrackingReport(ctx, userID, category, days)
	default:
		return Failed("unknown report %q", kind)
	}
	if err != nil {
		return Failed("render %s report: %v", kind, err)
	}
	if err := e.deliver(ctx, job, text); err != nil {
		return Failed("delivery failed: %v", err)
	}
	return Succeeded("%s report delivered", kind)
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

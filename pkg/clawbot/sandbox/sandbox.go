// Package sandbox runs the shell commands stored in custom_command jobs and
// issued through /run.
//
// Every run is non-interactive (stdin is empty), bounded by a timeout that
// kills the whole process group, and has its combined output capped. Commands
// are checked against a small policy before they start: the string must split
// into words cleanly and must not match a critical scan rule.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ErrPolicy is returned when a command is refused before it runs.
var ErrPolicy = errors.New("command rejected by policy")

// Config holds the runner settings.
type Config struct {
	// Shell is the interpreter used with "-c". Defaults to /bin/sh.
	Shell string

	// Timeout applies when Run is called with a zero timeout. Defaults to 30s.
	Timeout time.Duration

	// OutputLimit caps the formatted output in characters. Defaults to 1500.
	OutputLimit int

	// WorkDir is the working directory of every command.
	WorkDir string

	// BlockedEnv lists variables stripped from the child environment.
	BlockedEnv []string
}

// Result is the outcome of one command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Timeout  time.Duration
	Duration time.Duration
}

// OK reports whether the command exited 0 without timing out.
func (r *Result) OK() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Runner executes commands under Config.
type Runner struct {
	cfg    Config
	policy *Policy
	logger *slog.Logger
}

// NewRunner creates a runner, applying defaults.
func NewRunner(cfg Config, logger *slog.Logger) *Runner {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = 1500
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:    cfg,
		policy: NewPolicy(cfg),
		logger: logger.With("component", "sandbox"),
	}
}

// Run executes command through the shell. A non-zero exit or a timeout is
// reported in the Result, not as an error; errors mean the command never ran.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrPolicy)
	}
	if _, err := shellquote.Split(command); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicy, err)
	}
	if findings := r.policy.Scan(command); HasCritical(findings) {
		r.logger.Warn("command blocked", "command", command, "rule", findings[0].Rule)
		return nil, fmt.Errorf("%w: %s", ErrPolicy, findings[0].Message)
	}

	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := r.execute(runCtx, command)
	if err != nil {
		return nil, fmt.Errorf("run command: %w", err)
	}
	res.Command = command
	res.Timeout = timeout
	res.Duration = time.Since(start)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
	}

	r.logger.Debug("command finished",
		"command", command, "exit_code", res.ExitCode,
		"timed_out", res.TimedOut, "duration", res.Duration)
	return res, nil
}

// Format renders a result the way users see it: stdout, then stderr after a
// warning marker, capped to the output limit. Timeouts replace the output.
func (r *Runner) Format(res *Result) string {
	return FormatResult(res, r.cfg.OutputLimit)
}

// FormatResult renders res capped to limit characters.
func FormatResult(res *Result, limit int) string {
	if res.TimedOut {
		return fmt.Sprintf("❌ Command timed out after %d seconds", int(res.Timeout.Seconds()))
	}

	out := strings.TrimRight(res.Stdout, "\n")
	if errText := strings.TrimRight(res.Stderr, "\n"); errText != "" {
		out += "\n⚠️ stderr:\n" + errText
	}
	out = strings.TrimSpace(out)
	if out == "" {
		out = "✅ Done"
	}
	if res.ExitCode != 0 {
		out = fmt.Sprintf("%s\n(exit code %d)", out, res.ExitCode)
	}
	return Truncate(out, limit)
}

// Truncate caps s to limit runes, marking the cut.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	const marker = "\n... (truncated)"
	keep := limit - len([]rune(marker))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + marker
}

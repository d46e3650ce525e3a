package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
	"github.com/jholhewres/clawbot/pkg/clawbot/sandbox"
	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

// Commands handles explicit slash commands:
//
//	/learned                  - show learned patterns
//	/deletelearned <n>        - forget the n-th learned pattern
//	/clearlearned             - forget every learned pattern
//	/addjob <name> <type> "<schedule>" [k=v ...]
//	/listjobs                 - list scheduled jobs
//	/removejob <id|name>      - delete a job
//	/enablejob <id|name>      - resume a job
//	/disablejob <id|name>     - pause a job
//	/run <command>            - run a shell command
//	/help                     - show this help
type Commands struct {
	skills.Base
	deps *Deps
}

// NewCommands creates the slash command skill.
func NewCommands(desc skills.Descriptor, deps *Deps) *Commands {
	return &Commands{Base: skills.Base{Desc: desc}, deps: deps}
}

// Detect matches a known command prefix. Command intents are never learned.
func (c *Commands) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	cmd, args, ok := c.Command(msg.Text)
	if !ok {
		return skills.Intent{}, false
	}
	return skills.Intent{
		Slug:      c.Slug(),
		Label:     cmd,
		Params:    map[string]string{"args": args},
		Transient: true,
	}, true
}

// Resume never rebuilds a command from a learned pattern.
func (c *Commands) Resume(string, skills.Message) (skills.Intent, bool) {
	return skills.Intent{}, false
}

// Handle dispatches the command.
func (c *Commands) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	args := in.Param("args")
	switch in.Label {
	case "/learned":
		return c.learned(ctx, msg.UserID)
	case "/deletelearned":
		return c.deleteLearned(ctx, msg.UserID, args)
	case "/clearlearned":
		n, err := c.deps.Patterns.Clear(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🧹 Cleared %s.", pluralize(n, "learned pattern", "learned patterns")), nil
	case "/addjob":
		return c.addJob(ctx, msg.UserID, args)
	case "/listjobs":
		if c.deps.Jobs == nil {
			return schedulerMissing, nil
		}
		jobs, err := c.deps.Jobs.ListJobs(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		return scheduler.FormatJobList(jobs), nil
	case "/removejob", "/enablejob", "/disablejob":
		return c.jobAction(ctx, in.Label, msg.UserID, args)
	case "/run":
		return c.run(ctx, args)
	case "/help":
		return c.help(), nil
	}
	return "", skills.ErrDeclined
}

func (c *Commands) learned(ctx context.Context, userID string) (string, error) {
	all, err := c.deps.Patterns.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	return patterns.FormatView(patterns.BuildView(all)), nil
}

func (c *Commands) deleteLearned(ctx context.Context, userID, args string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil || n < 1 {
		return "Usage: /deletelearned <number>\n\nUse /learned to see the numbers.", nil
	}
	all, err := c.deps.Patterns.Lookup(ctx, userID)
	if err != nil {
		return "", err
	}
	view := patterns.BuildView(all)
	entry, ok := patterns.EntryAt(view, n)
	if !ok {
		return fmt.Sprintf("❌ No learned pattern #%d. You have %d.", n, patterns.CountEntries(view)), nil
	}
	if _, err := c.deps.Patterns.Delete(ctx, userID, entry.Pattern.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑️ Forgot %q → %s.", entry.Pattern.UserInput, entry.Pattern.DetectedIntent), nil
}

const addJobUsage = "Usage: /addjob <name> <type> \"<schedule>\" [key=value ...]\n\n" +
	"Types: send_message, check_email, custom_command, cleanup, report\n\n" +
	"Schedules:\n" +
	"• \"every 30 minutes\"\n" +
	"• \"every 2 hours from 9am to 6pm\"\n" +
	"• \"daily at 09:00\"\n" +
	"• \"weekly on monday at 10:00\"\n" +
	"• \"in 15 minutes\"\n" +
	"• \"0 9 * * 1-5\"\n\n" +
	"Example: /addjob standup send_message \"daily at 09:30\" message=\"Standup time\""

func (c *Commands) addJob(ctx context.Context, userID, args string) (string, error) {
	if c.deps.Jobs == nil {
		return schedulerMissing, nil
	}
	fields, err := shellquote.Split(args)
	if err != nil || len(fields) < 3 {
		return addJobUsage, nil
	}
	payload := make(map[string]string, len(fields)-3)
	for _, kv := range fields[3:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Sprintf("❌ Invalid parameter %q, expected key=value.\n\n%s", kv, addJobUsage), nil
		}
		payload[k] = v
	}
	jobType, err := scheduler.ParseJobType(fields[1])
	if err != nil {
		return jobErrorReply(err, fields[0]), nil
	}
	stampUser(jobType, payload, userID)

	job, err := c.deps.Jobs.CreateJob(ctx, scheduler.JobSpec{
		Name:     fields[0],
		UserID:   userID,
		Type:     jobType,
		Payload:  payload,
		Schedule: fields[2],
	})
	if err != nil {
		return jobErrorReply(err, fields[0]), nil
	}
	return fmt.Sprintf("✅ Cron job `%s` added and scheduled!\n\n%s", job.Name, scheduler.FormatJob(job)), nil
}

func (c *Commands) jobAction(ctx context.Context, cmd, userID, ref string) (string, error) {
	if c.deps.Jobs == nil {
		return schedulerMissing, nil
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return fmt.Sprintf("Usage: %s <id|name>", cmd), nil
	}
	var (
		job *scheduler.Job
		err error
	)
	switch cmd {
	case "/removejob":
		job, err = c.deps.Jobs.DeleteJob(ctx, userID, ref)
	case "/enablejob":
		job, err = c.deps.Jobs.EnableJob(ctx, userID, ref)
	default:
		job, err = c.deps.Jobs.DisableJob(ctx, userID, ref)
	}
	if err != nil {
		return jobErrorReply(err, ref), nil
	}
	switch cmd {
	case "/removejob":
		return fmt.Sprintf("✅ Deleted job '%s' successfully.", job.Name), nil
	case "/enablejob":
		return fmt.Sprintf("✅ Enabled job '%s'.", job.Name), nil
	default:
		return fmt.Sprintf("✅ Paused job '%s'.", job.Name), nil
	}
}

func (c *Commands) run(ctx context.Context, command string) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "Usage: /run <command>", nil
	}
	if c.deps.Commands == nil {
		return "❌ Command execution is not available.", nil
	}
	res, err := c.deps.Commands.Run(ctx, command, c.deps.CommandTimeout)
	if err != nil {
		return fmt.Sprintf("❌ Command failed: %v", err), nil
	}
	return fmt.Sprintf("🖥️ %s\n%s", command, sandbox.FormatResult(res, c.deps.OutputLimit)), nil
}

func (c *Commands) help() string {
	var b strings.Builder
	b.WriteString("🤖 Commands:\n")
	b.WriteString("/learned - what I've learned about you\n")
	b.WriteString("/deletelearned <n> - forget one learned pattern\n")
	b.WriteString("/clearlearned - forget everything I learned\n")
	b.WriteString("/addjob <name> <type> \"<schedule>\" [k=v] - schedule a job\n")
	b.WriteString("/listjobs - list scheduled jobs\n")
	b.WriteString("/removejob, /enablejob, /disablejob <id|name> - manage a job\n")
	b.WriteString("/run <command> - run a shell command\n")

	var listed []string
	for _, d := range c.deps.Descriptors {
		if !d.IsEnabled() || d.Slug == c.Slug() || d.Description == "" {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Slug
		}
		listed = append(listed, fmt.Sprintf("• %s: %s", name, d.Description))
	}
	if len(listed) > 0 {
		b.WriteString("\n💡 You can also just ask:\n")
		b.WriteString(strings.Join(listed, "\n"))
	}
	return b.String()
}

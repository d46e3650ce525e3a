package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

const schedulerMissing = "❌ The scheduler is not available."

// jobErrorReply turns a scheduler error into chat text.
func jobErrorReply(err error, ref string) string {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return fmt.Sprintf("❌ Job '%s' not found.", ref)
	case errors.Is(err, scheduler.ErrJobExists):
		return fmt.Sprintf("❌ A job named '%s' already exists.", ref)
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return fmt.Sprintf("❌ %v\n\nTry \"every 30 minutes\", \"daily at 9am\" or \"in 10 minutes\".", err)
	default:
		return fmt.Sprintf("❌ %v", err)
	}
}

// stampUser records the recipient on jobs that deliver to a user.
func stampUser(t scheduler.JobType, payload map[string]string, userID string) {
	if t != scheduler.TypeSendMessage && t != scheduler.TypeCheckEmail {
		return
	}
	if payload["user_id"] == "" && userID != "" {
		payload["user_id"] = userID
	}
}

var (
	reListJobs  = regexp.MustCompile(`\b(list|show|view|display)\s+(all\s+)?(my\s+)?(cron\s+|scheduled\s+)?(jobs?|reminders)\b|^my\s+(cron\s+|scheduled\s+)?jobs\??$`)
	reJobAction = regexp.MustCompile(`\b(delete|remove|disable|enable|pause|stop|start|resume|edit|change|update|modify)\b.*\b(jobs?|reminders?|cron)\b`)
	reNewSched  = regexp.MustCompile(`\bto\s+((?:every|daily|weekly|hourly|in|at|tomorrow)\b.*)$`)
)

// canonicalAction maps management verbs onto the four job operations.
func canonicalAction(verb string) string {
	switch verb {
	case "delete", "remove":
		return "delete"
	case "disable", "pause", "stop":
		return "disable"
	case "enable", "start", "resume":
		return "enable"
	case "edit", "change", "update", "modify":
		return "edit"
	}
	return ""
}

// CronManage lists, enables, disables, edits and deletes jobs from natural
// language.
type CronManage struct {
	skills.Base
	deps *Deps
}

// NewCronManage creates the job management skill.
func NewCronManage(desc skills.Descriptor, deps *Deps) *CronManage {
	return &CronManage{Base: skills.Base{Desc: desc}, deps: deps}
}

func (c *CronManage) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := msg.Normalized
	if reListJobs.MatchString(text) {
		return intent(c.Slug(), "list"), true
	}
	if m := reJobAction.FindStringSubmatch(text); m != nil {
		return skills.Intent{Slug: c.Slug(), Label: canonicalAction(m[1]), Transient: true}, true
	}
	return skills.Intent{}, false
}

// Resume rebuilds listings only. Destructive actions are never replayed.
func (c *CronManage) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if label == "list" {
		return intent(c.Slug(), "list"), true
	}
	return skills.Intent{}, false
}

func (c *CronManage) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	if c.deps.Jobs == nil {
		return schedulerMissing, nil
	}
	jobs, err := c.deps.Jobs.ListJobs(ctx, msg.UserID)
	if err != nil {
		return "", err
	}
	if in.Label == "list" {
		return scheduler.FormatJobList(jobs), nil
	}
	if len(jobs) == 0 {
		return "📭 You have no scheduled jobs to manage.", nil
	}

	action, name, schedule := in.Label, matchJobName(jobs, msg.Normalized), ""
	if action == "edit" {
		if m := reNewSched.FindStringSubmatch(msg.Normalized); m != nil {
			schedule = m[1]
		}
	}
	var params map[string]string
	if name == "" || (action == "edit" && schedule == "") {
		req, err := c.extract(ctx, jobs, msg.Text)
		if err != nil {
			c.deps.Logger.Warn("job management extraction failed", "error", err)
			if name == "" {
				return "❓ Which job? Use /listjobs to see job names.", nil
			}
		} else {
			if a := canonicalAction(strings.ToLower(req.Action)); a != "" {
				action = a
			}
			if req.JobName != "" {
				name = req.JobName
			}
			if req.NewSchedule != "" {
				schedule = req.NewSchedule
			}
			params = req.NewParams
		}
	}
	return c.apply(ctx, msg.UserID, action, name, schedule, params), nil
}

type manageRequest struct {
	Action      string            `json:"action"`
	JobName     string            `json:"job_name"`
	NewSchedule string            `json:"new_schedule"`
	NewParams   map[string]string `json:"new_params"`
}

func (c *CronManage) extract(ctx context.Context, jobs []*scheduler.Job, text string) (manageRequest, error) {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	prompt := fmt.Sprintf(`The user wants to manage a scheduled job.
Existing jobs: %s

Message: %q

Reply with JSON only:
{"action": "delete|enable|disable|edit", "job_name": "<one of the existing jobs>", "new_schedule": "<schedule text, only for edit>", "new_params": {"message": "<new message, only for edit>"}}`,
		strings.Join(names, ", "), text)

	var req manageRequest
	err := c.deps.askJSON(ctx, prompt, &req)
	return req, err
}

func (c *CronManage) apply(ctx context.Context, userID, action, name, schedule string, params map[string]string) string {
	var (
		job *scheduler.Job
		err error
	)
	switch action {
	case "delete":
		if job, err = c.deps.Jobs.DeleteJob(ctx, userID, name); err == nil {
			return fmt.Sprintf("✅ Deleted job '%s' successfully.", job.Name)
		}
	case "enable":
		if job, err = c.deps.Jobs.EnableJob(ctx, userID, name); err == nil {
			return fmt.Sprintf("✅ Enabled job '%s'.", job.Name)
		}
	case "disable":
		if job, err = c.deps.Jobs.DisableJob(ctx, userID, name); err == nil {
			return fmt.Sprintf("✅ Paused job '%s'.", job.Name)
		}
	case "edit":
		if schedule == "" && len(params) == 0 {
			return "❓ What should change? For example: change job standup to daily at 10:00"
		}
		job, err = c.deps.Jobs.EditJob(ctx, userID, name, scheduler.JobEdit{Schedule: schedule, Payload: params})
		if err == nil {
			return fmt.Sprintf("✅ Updated job '%s' successfully!\n\n%s", job.Name, scheduler.FormatJob(job))
		}
	default:
		return "❓ I can delete, enable, disable or edit jobs."
	}
	return jobErrorReply(err, name)
}

// matchJobName returns the longest job name mentioned in text, accepting
// underscores written as spaces.
func matchJobName(jobs []*scheduler.Job, text string) string {
	best := ""
	for _, j := range jobs {
		name := strings.ToLower(j.Name)
		if strings.Contains(text, name) || strings.Contains(text, strings.ReplaceAll(name, "_", " ")) {
			if len(j.Name) > len(best) {
				best = j.Name
			}
		}
	}
	return best
}

var (
	reDailyWord  = regexp.MustCompile(`\b(daily|every ?day|each day|every morning)\b`)
	reEmailWord  = regexp.MustCompile(`\b(e-?mails?|inbox|gmail|mail)\b`)
	reFetchWord  = regexp.MustCompile(`\b(check|show|get|fetch|read|recent|unread|summar\w*)\b`)
	reClockTime  = regexp.MustCompile(`\bat\s+(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\b`)
	reRemindTask = regexp.MustCompile(`^(?:please\s+)?(?:remind me to|remind me|notify me to|alert me to|send me a message to|tell me to)\s+`)
	reNonName    = regexp.MustCompile(`[^a-z0-9]+`)
)

// scheduleStarters are the words a schedule phrase can begin with.
var scheduleStarters = []string{"every ", "daily ", "weekly ", "hourly", "everyday", "in ", "at ", "tomorrow at "}

// splitSchedule finds the earliest suffix of text that parses as a
// schedule and returns the text before it.
func splitSchedule(text string, now time.Time) (task, schedule string, ok bool) {
	var starts []int
	for _, w := range scheduleStarters {
		for i := 0; i < len(text); {
			j := strings.Index(text[i:], w)
			if j < 0 {
				break
			}
			at := i + j
			if at == 0 || text[at-1] == ' ' {
				starts = append(starts, at)
			}
			i = at + 1
		}
	}
	sort.Ints(starts)
	for _, at := range starts {
		cand := strings.TrimRight(text[at:], ".!? ")
		if _, err := scheduler.ParseSchedule(cand, now); err == nil {
			return strings.TrimSpace(text[:at]), cand, true
		}
	}
	return "", "", false
}

// isEmailFetch reports whether text asks for mail to be fetched rather than
// a message to be sent.
func isEmailFetch(text string) bool {
	if !reEmailWord.MatchString(text) {
		return false
	}
	if reFetchWord.MatchString(text) {
		return true
	}
	return !containsAny(text, "send", "message", "remind", "tell")
}

// jobName builds a job name from free text.
func jobName(prefix, text string) string {
	words := strings.Fields(strings.Trim(reNonName.ReplaceAllString(strings.ToLower(text), " "), " "))
	if len(words) > 4 {
		words = words[:4]
	}
	if len(words) == 0 {
		return prefix
	}
	return prefix + "_" + strings.Join(words, "_")
}

// CronCreate schedules reminders and recurring tasks from natural language.
type CronCreate struct {
	skills.Base
	deps     *Deps
	keywords *regexp.Regexp
}

// NewCronCreate creates the job creation skill.
func NewCronCreate(desc skills.Descriptor, deps *Deps) *CronCreate {
	return &CronCreate{Base: skills.Base{Desc: desc}, deps: deps, keywords: keywordRegexp(desc.Keywords)}
}

func (c *CronCreate) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if !hasWord(c.keywords, msg.Normalized) {
		return skills.Intent{}, false
	}
	return intent(c.Slug(), "create"), true
}

func (c *CronCreate) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if label != "create" {
		return skills.Intent{}, false
	}
	return intent(c.Slug(), "create"), true
}

func (c *CronCreate) Handle(ctx context.Context, _ skills.Intent, msg skills.Message) (string, error) {
	if c.deps.Jobs == nil {
		return schedulerMissing, nil
	}
	if spec, ok := dailyEmailSpec(msg.Normalized); ok {
		return c.create(ctx, msg.UserID, spec)
	}
	if spec, ok := c.ruleSpec(msg.Normalized); ok {
		return c.create(ctx, msg.UserID, spec)
	}

	req, err := c.extract(ctx, msg.Text)
	if err != nil {
		c.deps.Logger.Warn("job extraction failed", "error", err)
		return "❌ I couldn't work out the schedule. Try \"remind me to stretch every hour\" or /addjob.", nil
	}
	if !req.IsCronRequest {
		return "", skills.ErrDeclined
	}

	jobType, err := scheduler.ParseJobType(req.Type)
	if err != nil {
		jobType = scheduler.TypeSendMessage
	}
	if isEmailFetch(msg.Normalized) {
		jobType = scheduler.TypeCheckEmail
	}
	payload := req.Params
	if payload == nil {
		payload = map[string]string{}
	}
	if jobType == scheduler.TypeSendMessage && payload["message"] == "" {
		payload["message"] = msg.Text
	}
	name := reNonName.ReplaceAllString(strings.ToLower(strings.TrimSpace(req.Name)), "_")
	if strings.Trim(name, "_") == "" {
		name = jobName(string(jobType), msg.Normalized)
	}
	return c.create(ctx, msg.UserID, scheduler.JobSpec{
		Name:     strings.Trim(name, "_"),
		Type:     jobType,
		Payload:  payload,
		Schedule: req.Schedule,
	})
}

// dailyEmailSpec recognizes "check my email daily at 8am".
func dailyEmailSpec(text string) (scheduler.JobSpec, bool) {
	if !reDailyWord.MatchString(text) || !reEmailWord.MatchString(text) {
		return scheduler.JobSpec{}, false
	}
	hour, minute := 9, 0
	if m := reClockTime.FindStringSubmatch(text); m != nil {
		fmt.Sscanf(m[1], "%d", &hour)
		if m[2] != "" {
			fmt.Sscanf(m[2], "%d", &minute)
		}
		switch {
		case m[3] == "pm" && hour < 12:
			hour += 12
		case m[3] == "am" && hour == 12:
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return scheduler.JobSpec{}, false
	}
	hhmm := fmt.Sprintf("%02d:%02d", hour, minute)
	return scheduler.JobSpec{
		Name:     "daily_email_reminder_" + strings.ReplaceAll(hhmm, ":", ""),
		Type:     scheduler.TypeCheckEmail,
		Payload:  map[string]string{},
		Schedule: "daily at " + hhmm,
	}, true
}

// ruleSpec handles "remind me to <task> <schedule>" without the AI backend.
func (c *CronCreate) ruleSpec(text string) (scheduler.JobSpec, bool) {
	loc := reRemindTask.FindStringIndex(text)
	if loc == nil {
		return scheduler.JobSpec{}, false
	}
	task, schedule, ok := splitSchedule(text[loc[1]:], c.deps.Now())
	if !ok || task == "" {
		return scheduler.JobSpec{}, false
	}
	return scheduler.JobSpec{
		Name:     jobName("reminder", task),
		Type:     scheduler.TypeSendMessage,
		Payload:  map[string]string{"message": "⏰ Reminder: " + task},
		Schedule: schedule,
	}, true
}

type createRequest struct {
	IsCronRequest bool              `json:"is_cron_request"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	Schedule      string            `json:"schedule"`
	Params        map[string]string `json:"params"`
}

func (c *CronCreate) extract(ctx context.Context, text string) (createRequest, error) {
	prompt := fmt.Sprintf(`Decide whether this message asks to schedule a task, and extract it.

Message: %q

Job types: send_message (params: message), check_email, custom_command (params: command).
Schedule examples: "every 30 minutes", "every 2 hours from 9am to 6pm", "daily at 09:00",
"weekly on monday at 10:00", "in 15 minutes", "at 18:30", or a five-field cron expression.

Reply with JSON only:
{"is_cron_request": true, "name": "short_snake_case_name", "type": "send_message", "schedule": "daily at 09:00", "params": {"message": "text to send"}}`, text)

	var req createRequest
	err := c.deps.askJSON(ctx, prompt, &req)
	return req, err
}

func (c *CronCreate) create(ctx context.Context, userID string, spec scheduler.JobSpec) (string, error) {
	spec.UserID = userID
	if spec.Payload == nil {
		spec.Payload = map[string]string{}
	}
	stampUser(spec.Type, spec.Payload, userID)

	job, err := c.deps.Jobs.CreateJob(ctx, spec)
	if errors.Is(err, scheduler.ErrJobExists) {
		spec.Name = fmt.Sprintf("%s_%d", spec.Name, c.deps.Now().Unix()%100000)
		job, err = c.deps.Jobs.CreateJob(ctx, spec)
	}
	if err != nil {
		return jobErrorReply(err, spec.Name), nil
	}
	return scheduler.FormatCreated(job), nil
}

package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var (
	reTimerList   = regexp.MustCompile(`\b(?:show|list|check|my)(?: me)?(?: my)?(?: active)? timers?\b|^timers\??$`)
	reTimerCreate = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:set|start|create)(?: me)?(?: a| an)? timer (?:for )?(.+)$`),
		regexp.MustCompile(`\btimer (?:for )?(\d.*)$`),
		regexp.MustCompile(`\bcountdown (?:for |of )?(\d.*)$`),
	}
	reDurationPart = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m|seconds?|secs?|s)\b`)
	reBareNumber   = regexp.MustCompile(`^(\d+(?:\.\d+)?)\b`)
	reTimerName    = regexp.MustCompile(`^\s*(?:and\s+)?(?:for|to|called|named)\s+(.+)$`)
)

// maxTimer bounds timers to one day.
const maxTimer = 24 * time.Hour

// Timer starts and lists countdown timers. Each timer schedules a one-shot
// reminder job that fires when it ends.
type Timer struct {
	skills.Base
	deps *Deps
}

// NewTimer creates the timer skill.
func NewTimer(desc skills.Descriptor, deps *Deps) *Timer {
	return &Timer{Base: skills.Base{Desc: desc}, deps: deps}
}

func (t *Timer) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := strings.TrimRight(msg.Normalized, ".!?")
	for _, re := range reTimerCreate {
		if m := re.FindStringSubmatch(text); m != nil {
			if _, _, ok := parseTimer(m[1]); ok {
				return intent(t.Slug(), "create "+m[1]), true
			}
		}
	}
	if reTimerList.MatchString(text) {
		return intent(t.Slug(), "list"), true
	}
	return skills.Intent{}, false
}

func (t *Timer) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	kind, arg, _ := strings.Cut(label, " ")
	switch {
	case kind == "list":
		return intent(t.Slug(), "list"), true
	case kind == "create":
		if _, _, ok := parseTimer(arg); ok {
			return intent(t.Slug(), label), true
		}
	}
	return skills.Intent{}, false
}

func (t *Timer) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	kind, arg, _ := strings.Cut(in.Label, " ")
	switch kind {
	case "create":
		return t.create(ctx, msg.UserID, arg)
	case "list":
		return t.list(ctx, msg.UserID)
	}
	return "", skills.ErrDeclined
}

func (t *Timer) create(ctx context.Context, userID, spec string) (string, error) {
	d, name, ok := parseTimer(spec)
	if !ok {
		return "⏱️ How long? Try \"set a timer for 10 minutes\".", nil
	}
	if d > maxTimer {
		return "⏱️ Timers can run for at most 24 hours. Use a reminder for anything longer.", nil
	}
	timer, err := t.deps.Store.AddTimer(ctx, userID, name, d)
	if err != nil {
		return "", err
	}

	done := "⏰ Timer done!"
	if name != "Timer" {
		done = fmt.Sprintf("⏰ Timer done: %s!", name)
	}
	if t.deps.Jobs != nil {
		_, err := t.deps.Jobs.CreateJob(ctx, scheduler.JobSpec{
			Name:     fmt.Sprintf("timer_%d", timer.ID),
			UserID:   userID,
			Type:     scheduler.TypeSendMessage,
			Payload:  map[string]string{"message": done, "user_id": userID},
			Schedule: fmt.Sprintf("in %d seconds", int64(d/time.Second)),
		})
		if err != nil {
			t.deps.Logger.Warn("failed to schedule timer alert", "timer", timer.ID, "error", err)
		}
	}

	return fmt.Sprintf("⏱️ Timer #%d started!\n\n⏳ Duration: %s\n🔔 Ends at: %s",
		timer.ID, formatDuration(d), clock(timer.EndsAt)), nil
}

func (t *Timer) list(ctx context.Context, userID string) (string, error) {
	timers, err := t.deps.Store.ActiveTimers(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(timers) == 0 {
		return "⏱️ No active timers.", nil
	}
	now := t.deps.Now()
	var b strings.Builder
	b.WriteString("⏱️ Your timers:\n")
	for _, tm := range timers {
		state := "✅ done"
		if tm.Remaining(now) > 0 {
			state = humanize.RelTime(now, tm.EndsAt, "left", "ago")
		}
		fmt.Fprintf(&b, "\n#%d %s (%s): %s", tm.ID, tm.Name, formatDuration(tm.Duration), state)
	}
	return b.String(), nil
}

// parseTimer reads "10 minutes", "1h 30m for pasta" or a bare number of
// minutes, returning the duration and a name.
func parseTimer(spec string) (time.Duration, string, bool) {
	spec = strings.TrimSpace(spec)
	var (
		total time.Duration
		end   int
	)
	for _, loc := range reDurationPart.FindAllStringSubmatchIndex(spec, -1) {
		if strings.TrimSpace(spec[end:loc[0]]) != "" && total > 0 {
			break
		}
		n, err := strconv.ParseFloat(spec[loc[2]:loc[3]], 64)
		if err != nil {
			return 0, "", false
		}
		total += time.Duration(n * float64(unitOf(spec[loc[4]:loc[5]])))
		end = loc[1]
	}
	if total == 0 {
		m := reBareNumber.FindStringSubmatchIndex(spec)
		if m == nil {
			return 0, "", false
		}
		n, err := strconv.ParseFloat(spec[m[2]:m[3]], 64)
		if err != nil {
			return 0, "", false
		}
		total, end = time.Duration(n*float64(time.Minute)), m[1]
	}
	if total < time.Second {
		return 0, "", false
	}

	name := "Timer"
	if m := reTimerName.FindStringSubmatch(spec[end:]); m != nil {
		name = strings.TrimSpace(m[1])
	}
	return total.Round(time.Second), name, true
}

func unitOf(u string) time.Duration {
	switch {
	case strings.HasPrefix(u, "h"):
		return time.Hour
	case strings.HasPrefix(u, "m"):
		return time.Minute
	}
	return time.Second
}

// formatDuration renders 1h30m0s as "1h 30m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h, m, s := int(d/time.Hour), int(d%time.Hour/time.Minute), int(d%time.Minute/time.Second)
	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return strings.Join(parts, " ")
}

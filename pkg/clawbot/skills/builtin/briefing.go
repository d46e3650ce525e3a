package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var reBriefing = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:give me|show me|tell me)(?: my)? (?:daily |morning )?briefing\b`),
	regexp.MustCompile(`\bwhat(?:'s| is) (?:my )?(?:daily |morning )?(?:briefing|update)\b`),
	regexp.MustCompile(`\b(?:morning|daily) (?:briefing|update|summary)\b`),
	regexp.MustCompile(`\bbrief me\b`),
}

// Briefing summarises the user's day: weather for the default city, enabled
// jobs, running timers and the latest notes.
type Briefing struct {
	skills.Base
	deps     *Deps
	maxJobs  int
	maxNotes int
}

// NewBriefing creates the briefing skill. The max_jobs and max_notes
// descriptor kwargs cap the list sections.
func NewBriefing(desc skills.Descriptor, deps *Deps) *Briefing {
	b := &Briefing{Base: skills.Base{Desc: desc}, deps: deps}
	b.maxJobs = kwargInt(b.Base, "max_jobs", 5)
	b.maxNotes = kwargInt(b.Base, "max_notes", 3)
	return b
}

func (b *Briefing) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if !matchAny(reBriefing, msg.Normalized) {
		return skills.Intent{}, false
	}
	return intent(b.Slug(), "daily"), true
}

func (b *Briefing) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if label != "daily" {
		return skills.Intent{}, false
	}
	return intent(b.Slug(), label), true
}

func (b *Briefing) Handle(ctx context.Context, _ skills.Intent, msg skills.Message) (string, error) {
	now := b.deps.Now()
	sections := []string{
		fmt.Sprintf("📋 Daily Briefing - %s\n🕐 The time is %s", now.Format("Monday, January 2, 2006"), clock(now)),
	}
	for _, section := range []func(context.Context, string) string{b.weather, b.jobs, b.timers, b.notes} {
		if s := section(ctx, msg.UserID); s != "" {
			sections = append(sections, s)
		}
	}
	sections = append(sections, "Have a great day! 🌟")
	return strings.Join(sections, "\n\n"), nil
}

func (b *Briefing) weather(ctx context.Context, _ string) string {
	cfg := b.deps.Weather
	if cfg.APIKey == "" || cfg.DefaultCity == "" {
		return ""
	}
	q := cfg.DefaultCity
	if cfg.DefaultCountry != "" && !strings.Contains(q, ",") {
		q += "," + cfg.DefaultCountry
	}
	data, reply, err := b.deps.currentWeather(ctx, q)
	if err != nil || reply != "" {
		b.deps.Logger.Debug("briefing: weather skipped", "city", q, "error", err)
		return ""
	}
	condition, desc := "", ""
	if len(data.Weather) > 0 {
		condition, desc = data.Weather[0].Main, ", "+data.Weather[0].Description
	}
	return fmt.Sprintf("%s %s: %.1f°C%s", weatherEmoji(condition), data.Name, data.Main.Temp, desc)
}

func (b *Briefing) jobs(ctx context.Context, userID string) string {
	if b.deps.Jobs == nil {
		return ""
	}
	jobs, err := b.deps.Jobs.ListJobs(ctx, userID)
	if err != nil {
		b.deps.Logger.Warn("briefing: list jobs", "error", err)
		return ""
	}
	var lines []string
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		if len(lines) == b.maxJobs {
			break
		}
		lines = append(lines, fmt.Sprintf("• %s (%s)", j.Name, j.ScheduleText))
	}
	if len(lines) == 0 {
		return ""
	}
	return "⏰ Scheduled:\n" + strings.Join(lines, "\n")
}

func (b *Briefing) timers(ctx context.Context, userID string) string {
	if b.deps.Store == nil {
		return ""
	}
	timers, err := b.deps.Store.ActiveTimers(ctx, userID)
	if err != nil || len(timers) == 0 {
		return ""
	}
	lines := make([]string, 0, len(timers))
	for _, tm := range timers {
		lines = append(lines, fmt.Sprintf("• %s until %s", tm.Name, clock(tm.EndsAt)))
	}
	return "⏱️ Timers:\n" + strings.Join(lines, "\n")
}

func (b *Briefing) notes(ctx context.Context, userID string) string {
	if b.deps.Store == nil || b.maxNotes == 0 {
		return ""
	}
	notes, err := b.deps.Store.Notes(ctx, userID, b.maxNotes)
	if err != nil || len(notes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(notes))
	for _, n := range notes {
		lines = append(lines, "• "+n.Title)
	}
	return "📝 Recent notes:\n" + strings.Join(lines, "\n")
}

// kwargInt reads a numeric descriptor kwarg, falling back to def.
func kwargInt(b skills.Base, key string, def int) int {
	n, err := strconv.Atoi(b.Kwarg(key, strconv.Itoa(def)))
	if err != nil || n < 0 {
		return def
	}
	return n
}

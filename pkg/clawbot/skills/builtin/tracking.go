package builtin

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

var (
	reWeatherWords = regexp.MustCompile(`\b(weather|forecast|temperature outside|rain|raining|sunny|snowing|humid)\b`)
	reBedtime      = regexp.MustCompile(`\b(good ?night|going to (sleep|bed)|off to (sleep|bed)|heading to bed|time (to|for) (sleep|bed)|signing off|nighty night)\b`)
	reWake         = regexp.MustCompile(`\b(good ?morning|just woke up|i woke up|i'?m awake|waking up|rise and shine)\b`)
	reSleepReport  = regexp.MustCompile(`\b(sleep (report|analysis|stats|summary|history)|how (did|have) i (been )?sle(?:ep|pt)|how was my sleep|my sleep)\b`)
	reTrackReport  = regexp.MustCompile(`\b(report|summary|stats|statistics|history|how much|how many|show me my)\b`)
	reDays         = regexp.MustCompile(`\b(\d+)\s*days?\b`)
	reTrackValue   = regexp.MustCompile(`\b(?:drank|drink|had|ate|did|walked|ran|log|logged|track|tracked|record|recorded)\s+(\d+(?:\.\d+)?)\s*([a-z]+)(?:\s+(?:of\s+)?([a-z]+))?`)
)

// Tracking logs sleep and habit events and renders their reports.
type Tracking struct {
	skills.Base
	deps     *Deps
	keywords *regexp.Regexp
}

// NewTracking creates the tracking skill.
func NewTracking(desc skills.Descriptor, deps *Deps) *Tracking {
	return &Tracking{Base: skills.Base{Desc: desc}, deps: deps, keywords: keywordRegexp(desc.Keywords)}
}

func (t *Tracking) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := msg.Normalized
	if reWeatherWords.MatchString(text) {
		return skills.Intent{}, false
	}
	switch {
	case reSleepReport.MatchString(text):
		return intent(t.Slug(), "sleep_report "+strconv.Itoa(daysIn(text, 7))), true
	case reBedtime.MatchString(text):
		return intent(t.Slug(), "bedtime"), true
	case reWake.MatchString(text):
		return intent(t.Slug(), "wake"), true
	case !hasWord(t.keywords, text):
		return skills.Intent{}, false
	case reTrackReport.MatchString(text):
		return intent(t.Slug(), "report"), true
	}
	return intent(t.Slug(), "log"), true
}

func (t *Tracking) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	kind, _, _ := strings.Cut(label, " ")
	switch kind {
	case "sleep_report", "bedtime", "wake", "report", "log":
		return intent(t.Slug(), label), true
	}
	return skills.Intent{}, false
}

func (t *Tracking) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	kind, arg, _ := strings.Cut(in.Label, " ")
	switch kind {
	case "bedtime":
		if _, err := t.deps.Store.LogSleep(ctx, msg.UserID, store.Bedtime); err != nil {
			return "", err
		}
		return fmt.Sprintf("🌙 Good night! The time is %s. Sleep well!", clock(t.deps.Now())), nil
	case "wake":
		return t.wake(ctx, msg.UserID)
	case "sleep_report":
		days, err := strconv.Atoi(arg)
		if err != nil || days <= 0 {
			days = 7
		}
		return t.deps.Store.SleepReport(ctx, msg.UserID, days)
	case "report":
		return t.report(ctx, msg)
	case "log":
		return t.log(ctx, msg)
	}
	return "", skills.ErrDeclined
}

func (t *Tracking) wake(ctx context.Context, userID string) (string, error) {
	ev, err := t.deps.Store.LogSleep(ctx, userID, store.Wake)
	if err != nil {
		return "", err
	}
	reply := fmt.Sprintf("☀️ Good morning! The time is %s.", clock(ev.Timestamp))

	events, err := t.deps.Store.SleepEvents(ctx, userID, ev.Timestamp.Add(-24*time.Hour))
	if err != nil {
		return "", err
	}
	// Only a wake directly following a bedtime closes a session.
	if n := len(events); n > 1 && events[n-1].ID == ev.ID && events[n-2].Kind == store.Bedtime {
		sess := store.SleepSession{Bedtime: events[n-2].Timestamp, Wake: events[n-1].Timestamp}
		reply += fmt.Sprintf(" You got about %.1f hours of sleep.", sess.Duration().Hours())
	}
	return reply, nil
}

type reportRequest struct {
	Category string `json:"category"`
	Days     int    `json:"days"`
}

func (t *Tracking) report(ctx context.Context, msg skills.Message) (string, error) {
	req := reportRequest{Days: daysIn(msg.Normalized, 7)}

	cats, err := t.deps.Store.TrackingCategories(ctx, msg.UserID)
	if err != nil {
		return "", err
	}
	for _, c := range cats {
		if strings.Contains(msg.Normalized, c) {
			req.Category = c
			break
		}
	}
	if req.Category == "" {
		prompt := fmt.Sprintf(`The user asks for a report of something they track.
Known categories: %s

Message: %q

Reply with JSON only: {"category": "<category>", "days": 7}`, strings.Join(cats, ", "), msg.Text)
		if err := t.deps.askJSON(ctx, prompt, &req); err != nil || req.Category == "" {
			if len(cats) == 0 {
				return "📊 You are not tracking anything yet. Try \"I drank 2 glasses of water\".", nil
			}
			return fmt.Sprintf("📊 Which category? Available categories: %s", strings.Join(cats, ", ")), nil
		}
	}
	if req.Days <= 0 {
		req.Days = 7
	}
	return t.deps.Store.TrackingReport(ctx, msg.UserID, req.Category, req.Days)
}

type trackRequest struct {
	ShouldTrack    bool     `json:"should_track"`
	Category       string   `json:"category"`
	EventType      string   `json:"event_type"`
	Value          *float64 `json:"value"`
	Unit           string   `json:"unit"`
	Notes          string   `json:"notes"`
	ScheduleReport struct {
		Enabled bool   `json:"enabled"`
		Days    int    `json:"days"`
		Time    string `json:"time"`
	} `json:"schedule_report"`
}

func (t *Tracking) log(ctx context.Context, msg skills.Message) (string, error) {
	req, ok := ruleTrack(msg.Normalized)
	if !ok {
		prompt := fmt.Sprintf(`Decide whether the user wants to log something they track (habits, food, drinks, exercise, mood, weight).

Message: %q

Reply with JSON only:
{"should_track": true, "category": "water", "event_type": "intake", "value": 2, "unit": "glasses", "notes": "",
 "schedule_report": {"enabled": false, "days": 7, "time": "21:00"}}`, msg.Text)
		if err := t.deps.askJSON(ctx, prompt, &req); err != nil {
			t.deps.Logger.Debug("tracking extraction failed", "error", err)
			return "", skills.ErrDeclined
		}
	}
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if !req.ShouldTrack || req.Category == "" {
		return "", skills.ErrDeclined
	}

	if _, err := t.deps.Store.LogTracking(ctx, store.TrackingEvent{
		UserID:    msg.UserID,
		Category:  req.Category,
		EventType: req.EventType,
		Value:     req.Value,
		Unit:      req.Unit,
		Notes:     req.Notes,
	}); err != nil {
		return "", err
	}

	var reply string
	if req.Value != nil {
		amount := strconv.FormatFloat(*req.Value, 'f', -1, 64)
		if req.Unit != "" {
			reply = fmt.Sprintf("✅ Got it! Tracked %s %s of %s.", amount, req.Unit, req.Category)
		} else {
			reply = fmt.Sprintf("✅ Got it! Tracked %s %s.", amount, req.Category)
		}
	} else {
		reply = fmt.Sprintf("✅ Noted! %s tracked.", titleFirst(req.Category))
	}

	if req.ScheduleReport.Enabled {
		reply += t.scheduleReport(ctx, msg.UserID, req.Category, req.ScheduleReport.Days, req.ScheduleReport.Time)
	}
	return reply, nil
}

// scheduleReport creates the daily report job once per category.
func (t *Tracking) scheduleReport(ctx context.Context, userID, category string, days int, at string) string {
	if t.deps.Jobs == nil {
		return ""
	}
	if days <= 0 {
		days = 7
	}
	if at == "" {
		at = "21:00"
	}
	_, err := t.deps.Jobs.CreateJob(ctx, scheduler.JobSpec{
		Name:   jobName("tracking_report", category),
		UserID: userID,
		Type:   scheduler.TypeReport,
		Payload: map[string]string{
			"report":   "tracking",
			"user_id":  userID,
			"category": category,
			"days":     strconv.Itoa(days),
		},
		Schedule: "daily at " + at,
	})
	switch {
	case errors.Is(err, scheduler.ErrJobExists):
		return ""
	case err != nil:
		t.deps.Logger.Warn("failed to schedule tracking report", "category", category, "error", err)
		return ""
	}
	return fmt.Sprintf("\n\n📊 I'll send you a %s report every day at %s.", category, at)
}

// ruleTrack understands "drank 2 glasses of water" and "track 8000 steps".
func ruleTrack(text string) (trackRequest, bool) {
	m := reTrackValue.FindStringSubmatch(text)
	if m == nil {
		return trackRequest{}, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return trackRequest{}, false
	}
	req := trackRequest{ShouldTrack: true, Value: &v, Unit: m[2], Category: m[3]}
	if req.Category == "" {
		req.Category, req.Unit = req.Unit, ""
	}
	return req, true
}

// daysIn finds "N days", "week" or "month" in text.
func daysIn(text string, def int) int {
	if m := reDays.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	switch {
	case strings.Contains(text, "month"):
		return 30
	case strings.Contains(text, "week"):
		return 7
	}
	return def
}

func titleFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

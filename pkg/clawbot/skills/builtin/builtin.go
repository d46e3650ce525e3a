// Package builtin implements the compiled-in skills: slash commands, job
// management and creation, tracking, status, daily briefings, weather,
// notes, shopping, timers, calculation, plain-language shell commands, email
// and identity questions.
//
// Detection is rule based and cheap. Anything that needs the AI backend,
// the network or the database happens in Handle.
package builtin

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
	"github.com/jholhewres/clawbot/pkg/clawbot/email"
	"github.com/jholhewres/clawbot/pkg/clawbot/llm"
	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
	"github.com/jholhewres/clawbot/pkg/clawbot/scheduler"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

// Completer is the part of the AI backend the skills use.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []llm.Message) (string, error)
}

// Mailbox reads the configured inbox. *email.Client implements it.
type Mailbox interface {
	Unread(ctx context.Context, limit int) ([]email.Message, error)
	Recent(ctx context.Context, limit int) ([]email.Message, error)
	Search(ctx context.Context, query string, limit int) ([]email.Message, error)
}

// Deps are the collaborators shared by every built-in skill.
type Deps struct {
	AI       Completer
	Store    *store.Store
	Patterns patterns.Repository
	Jobs     *scheduler.Scheduler
	Mail     Mailbox

	// Commands runs /run and plain-language commands.
	Commands       scheduler.CommandRunner
	CommandTimeout time.Duration
	OutputLimit    int

	Weather    config.WeatherConfig
	HTTPClient *http.Client

	// BotName is used when the identity file does not name the assistant.
	BotName      string
	IdentityFile string

	// Descriptors feed the /help listing and the status report.
	Descriptors []skills.Descriptor

	// Reported by the status skill.
	AIBackend    string
	AIModel      string
	DatabasePath string
	StartedAt    time.Time

	Now    func() time.Time
	Logger *slog.Logger
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if d.CommandTimeout <= 0 {
		d.CommandTimeout = 30 * time.Second
	}
	if d.OutputLimit <= 0 {
		d.OutputLimit = 3500
	}
	if d.BotName == "" {
		d.BotName = "Clawbot"
	}
}

// Factories returns the constructors for every built-in class, keyed
// "builtin.<Class>".
func Factories(deps Deps) map[string]skills.Factory {
	deps.defaults()
	d := &deps
	ctors := map[string]skills.Factory{
		"CommandsSkill":    func(desc skills.Descriptor) (skills.Skill, error) { return NewCommands(desc, d), nil },
		"CronManageSkill":  func(desc skills.Descriptor) (skills.Skill, error) { return NewCronManage(desc, d), nil },
		"CronCreateSkill":  func(desc skills.Descriptor) (skills.Skill, error) { return NewCronCreate(desc, d), nil },
		"TrackingSkill":    func(desc skills.Descriptor) (skills.Skill, error) { return NewTracking(desc, d), nil },
		"StatusSkill":      func(desc skills.Descriptor) (skills.Skill, error) { return NewStatus(desc, d), nil },
		"BriefingSkill":    func(desc skills.Descriptor) (skills.Skill, error) { return NewBriefing(desc, d), nil },
		"WeatherSkill":     func(desc skills.Descriptor) (skills.Skill, error) { return NewWeather(desc, d), nil },
		"NotesSkill":       func(desc skills.Descriptor) (skills.Skill, error) { return NewNotes(desc, d), nil },
		"ShoppingSkill":    func(desc skills.Descriptor) (skills.Skill, error) { return NewShopping(desc, d), nil },
		"TimerSkill":       func(desc skills.Descriptor) (skills.Skill, error) { return NewTimer(desc, d), nil },
		"CalculationSkill": func(desc skills.Descriptor) (skills.Skill, error) { return NewCalculation(desc, d), nil },
		"CommandSkill":     func(desc skills.Descriptor) (skills.Skill, error) { return NewCommand(desc, d), nil },
		"EmailSkill":       func(desc skills.Descriptor) (skills.Skill, error) { return NewEmail(desc, d), nil },
		"IdentitySkill":    func(desc skills.Descriptor) (skills.Skill, error) { return NewIdentity(desc, d), nil },
	}
	out := make(map[string]skills.Factory, len(ctors))
	for class, f := range ctors {
		out[skills.BuiltinModule+"."+class] = f
	}
	return out
}

// aiUnavailableReply is shown when a skill needs the AI backend and it is
// down or not configured.
const aiUnavailableReply = "❌ The AI backend is unavailable right now. Please try again later."

// askJSON sends an extraction prompt and decodes the JSON object in the
// answer into v.
func (d *Deps) askJSON(ctx context.Context, prompt string, v any) error {
	if d.AI == nil {
		return llm.ErrBackendUnavailable
	}
	answer, err := d.AI.Complete(ctx, prompt, nil)
	if err != nil {
		return err
	}
	return llm.ExtractJSON(answer, v)
}

// ask sends a free-form prompt.
func (d *Deps) ask(ctx context.Context, prompt string) (string, error) {
	if d.AI == nil {
		return "", llm.ErrBackendUnavailable
	}
	return d.AI.Complete(ctx, prompt, nil)
}

func intent(slug, label string) skills.Intent {
	return skills.Intent{Slug: slug, Label: label}
}

// matchAny reports whether any expression matches s.
func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// keywordRegexp matches any keyword at the start of a word, so "log" hits
// "logged" but not "blog". It returns nil for no keywords.
func keywordRegexp(keywords []string) *regexp.Regexp {
	var alts []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(strings.ToLower(kw)); kw != "" {
			alts = append(alts, regexp.QuoteMeta(kw))
		}
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)`)
}

// hasWord reports whether re matches text. A nil re never matches.
func hasWord(re *regexp.Regexp, text string) bool {
	return re != nil && re.MatchString(text)
}

// containsAny reports whether s contains one of the words.
func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// clock formats a time as "03:04 PM".
func clock(t time.Time) string {
	return t.Format("03:04 PM")
}

func pluralize(n int64, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}

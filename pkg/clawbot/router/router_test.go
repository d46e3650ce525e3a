package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/jholhewres/clawbot/pkg/clawbot/config"
	"github.com/jholhewres/clawbot/pkg/clawbot/llm"
	"github.com/jholhewres/clawbot/pkg/clawbot/nlu"
	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const user = "telegram:42"

// fakeSkill detects its keyword and replies "<slug> <label>" unless told
// otherwise.
type fakeSkill struct {
	skills.Base
	keyword   string
	reply     string
	err       error
	panics    bool
	transient bool

	mu      sync.Mutex
	detects int
	handled []string
}

func (f *fakeSkill) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	f.mu.Lock()
	f.detects++
	f.mu.Unlock()
	before, after, ok := strings.Cut(msg.Normalized, f.keyword)
	if !ok {
		return skills.Intent{}, false
	}
	label := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(after), "in "))
	if label == "" {
		label = strings.TrimSpace(before)
	}
	return skills.Intent{Slug: f.Slug(), Label: label, Transient: f.transient}, true
}

func (f *fakeSkill) Handle(_ context.Context, in skills.Intent, _ skills.Message) (string, error) {
	f.mu.Lock()
	f.handled = append(f.handled, in.String())
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return "", f.err
	}
	if f.reply != "" {
		return f.reply, nil
	}
	return strings.TrimSpace(f.Slug() + " " + in.Label), nil
}

func (f *fakeSkill) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	return skills.Intent{Slug: f.Slug(), Label: label}, true
}

func (f *fakeSkill) calls() (detects int, handled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detects, append([]string(nil), f.handled...)
}

type fakeAI struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	history [][]llm.Message
}

func (f *fakeAI) Complete(_ context.Context, prompt string, history []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.history = append(f.history, history)
	return f.reply, f.err
}

type fakeSemantic struct {
	match nlu.Match
	ok    bool
}

func (f fakeSemantic) Match(context.Context, string) (nlu.Match, bool) { return f.match, f.ok }

type fakeHistory struct {
	mu        sync.Mutex
	exchanges []store.Exchange
}

func (f *fakeHistory) SaveExchange(_ context.Context, ex store.Exchange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanges = append(f.exchanges, ex)
	return nil
}

func (f *fakeHistory) RecentExchanges(_ context.Context, userID string, limit int) ([]store.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Exchange
	for _, ex := range f.exchanges {
		if ex.UserID == userID {
			out = append(out, ex)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (f *fakeHistory) all() []store.Exchange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Exchange(nil), f.exchanges...)
}

type fixture struct {
	router   *Router
	patterns *patterns.MemoryStore
	history  *fakeHistory
	ai       *fakeAI
}

// newFixture builds a router over the given fake skills, in order.
func newFixture(t *testing.T, fakes []*fakeSkill, mutate func(*Deps)) *fixture {
	t.Helper()
	factories := map[string]skills.Factory{}
	var descs []skills.Descriptor
	for _, f := range fakes {
		f := f
		class := "Fake_" + f.Desc.Slug
		descs = append(descs, skills.Descriptor{Slug: f.Desc.Slug, Module: "test", Class: class})
		factories["test."+class] = func(d skills.Descriptor) (skills.Skill, error) {
			f.Desc = d
			return f, nil
		}
	}
	reg, err := skills.Load(descs, factories, nil)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}

	fx := &fixture{
		patterns: patterns.NewMemoryStore(),
		history:  &fakeHistory{},
		ai:       &fakeAI{reply: "Hello from the AI"},
	}
	deps := Deps{
		Registry: reg,
		Patterns: fx.patterns,
		AI:       fx.ai,
		History:  fx.history,
		Persona:  func() string { return "You are Clawbot." },
	}
	if mutate != nil {
		mutate(&deps)
	}
	cfg := config.RouterConfig{LearnedMinConfidence: 0.5, HistoryLimit: 2, LearningQueueSize: 16}
	r, err := New(cfg, config.AccessConfig{}, deps, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(r.Close)
	fx.router = r
	return fx
}

func skill(slug, keyword string) *fakeSkill {
	return &fakeSkill{Base: skills.Base{Desc: skills.Descriptor{Slug: slug}}, keyword: keyword}
}

func (fx *fixture) route(t *testing.T, text string) Response {
	t.Helper()
	resp := fx.router.Route(context.Background(), skills.Message{Platform: "telegram", UserID: user, Text: text})
	fx.router.learner.flush()
	return resp
}

func (fx *fixture) learned(t *testing.T) []patterns.Pattern {
	t.Helper()
	all, err := fx.patterns.Lookup(context.Background(), user)
	if err != nil {
		t.Fatal(err)
	}
	return all
}

func TestNewRequiresRegistryAndPatterns(t *testing.T) {
	t.Parallel()
	if _, err := New(config.RouterConfig{}, config.AccessConfig{}, Deps{}, nil); err == nil {
		t.Error("New without registry succeeded")
	}
	reg, err := skills.Load(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(config.RouterConfig{}, config.AccessConfig{}, Deps{Registry: reg}, nil); err == nil {
		t.Error("New without pattern store succeeded")
	}
}

func TestLearnedPatternTakesPrecedence(t *testing.T) {
	t.Parallel()
	weather := skill("weather", "weather")
	fx := newFixture(t, []*fakeSkill{weather}, nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := fx.patterns.Record(ctx, user, "weather", "paris weather", "weather:paris"); err != nil {
			t.Fatal(err)
		}
	}

	resp := fx.route(t, "Paris   weather")
	if resp.Source != SourceLearned || resp.Intent != "weather:paris" || resp.Text != "weather paris" {
		t.Fatalf("resp = %+v", resp)
	}
	if detects, _ := weather.calls(); detects != 0 {
		t.Errorf("detector ran %d times on a learned route", detects)
	}

	all := fx.learned(t)
	if len(all) != 1 {
		t.Fatalf("patterns = %d, want 1", len(all))
	}
	if all[0].SuccessCount != 6 || all[0].Confidence != patterns.MaxConfidence {
		t.Errorf("pattern = count %d conf %v, want 6 and 1.0", all[0].SuccessCount, all[0].Confidence)
	}
}

func TestSkillSuccessIsLearnedAndResumed(t *testing.T) {
	t.Parallel()
	weather := skill("weather", "weather")
	fx := newFixture(t, []*fakeSkill{weather}, nil)

	resp := fx.route(t, "Weather in Lisbon")
	if resp.Source != SourceSkill || resp.Intent != "weather:lisbon" {
		t.Fatalf("first resp = %+v", resp)
	}
	all := fx.learned(t)
	if len(all) != 1 {
		t.Fatalf("patterns = %d, want 1", len(all))
	}
	p := all[0]
	if p.PatternType != "weather" || p.UserInput != "weather in lisbon" || p.DetectedIntent != "weather:lisbon" ||
		p.Confidence != patterns.InitialConfidence || p.SuccessCount != 1 {
		t.Errorf("pattern = %+v", p)
	}

	resp = fx.route(t, "weather in lisbon")
	if resp.Source != SourceLearned || resp.Text != "weather lisbon" {
		t.Errorf("second resp = %+v", resp)
	}
	if got := fx.learned(t); got[0].SuccessCount != 1 {
		t.Errorf("learned route re-recorded the pattern: count %d", got[0].SuccessCount)
	}
}

func TestSkillsRunInPriorityOrder(t *testing.T) {
	t.Parallel()
	first := skill("cron_create", "remind me")
	second := skill("notes", "remind me")
	fx := newFixture(t, []*fakeSkill{first, second}, nil)

	resp := fx.route(t, "remind me to stretch")
	if resp.Intent != "cron_create:to stretch" {
		t.Errorf("intent = %q, want cron_create", resp.Intent)
	}
	if _, handled := second.calls(); len(handled) != 0 {
		t.Errorf("lower priority skill handled %v", handled)
	}
}

func TestDeclinedSkillPassesToNext(t *testing.T) {
	t.Parallel()
	first := skill("tracking", "coffee")
	first.err = fmt.Errorf("not a tracking request: %w", skills.ErrDeclined)
	second := skill("shopping", "coffee")
	fx := newFixture(t, []*fakeSkill{first, second}, nil)

	resp := fx.route(t, "buy coffee")
	if resp.Source != SourceSkill || !strings.HasPrefix(resp.Intent, "shopping:") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestFailingSkillFallsBackToChat(t *testing.T) {
	t.Parallel()
	for name, broken := range map[string]*fakeSkill{
		"error": {err: errors.New("upstream timeout")},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			broken.Base = skills.Base{Desc: skills.Descriptor{Slug: "weather"}}
			broken.keyword = "weather"
			next := skill("notes", "weather")
			fx := newFixture(t, []*fakeSkill{broken, next}, nil)

			resp := fx.route(t, "weather please")
			if resp.Source != SourceChat || resp.Text != "Hello from the AI" {
				t.Errorf("resp = %+v", resp)
			}
			if _, handled := next.calls(); len(handled) != 0 {
				t.Errorf("next skill handled %v after a failure", handled)
			}
		})
	}
}

func TestFailureRepliesAreNotLearned(t *testing.T) {
	t.Parallel()
	weather := skill("weather", "weather")
	weather.reply = "❌ City 'atlantis' not found."
	fx := newFixture(t, []*fakeSkill{weather}, nil)

	if resp := fx.route(t, "weather in atlantis"); resp.Text != weather.reply {
		t.Fatalf("resp = %+v", resp)
	}
	if got := fx.learned(t); len(got) != 0 {
		t.Errorf("failure reply learned: %+v", got)
	}
}

func TestTransientIntentsAreNotLearned(t *testing.T) {
	t.Parallel()
	identity := skill("identity", "call yourself")
	identity.transient = true
	fx := newFixture(t, []*fakeSkill{identity}, nil)

	fx.route(t, "call yourself nova")
	if got := fx.learned(t); len(got) != 0 {
		t.Errorf("transient intent learned: %+v", got)
	}
}

func TestSemanticFallback(t *testing.T) {
	t.Parallel()
	timer := skill("timer", "timer")
	fx := newFixture(t, []*fakeSkill{timer}, func(d *Deps) {
		d.Semantic = fakeSemantic{match: nlu.Match{Intent: "timer", Score: 0.8}, ok: true}
	})

	resp := fx.route(t, "how long until the countdown ends")
	if resp.Source != SourceSemantic || resp.Intent != "timer:list" || resp.Text != "timer list" {
		t.Fatalf("resp = %+v", resp)
	}
	all := fx.learned(t)
	if len(all) != 1 || all[0].PatternType != "timer" || all[0].DetectedIntent != "timer:list" {
		t.Errorf("learned = %+v", all)
	}
}

func TestSemanticLabels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		slug   string
		intent string
	}{
		{"status", "status:show"},
		{"briefing", "briefing:daily"},
		{"notes", "notes:list"},
	}
	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, []*fakeSkill{skill(tt.slug, "never-typed")}, func(d *Deps) {
				d.Semantic = fakeSemantic{match: nlu.Match{Intent: tt.slug, Score: 0.8}, ok: true}
			})
			if resp := fx.route(t, "anything at all"); resp.Source != SourceSemantic || resp.Intent != tt.intent {
				t.Errorf("resp = %+v", resp)
			}
		})
	}
}

func TestSemanticMatchWithoutSkillFallsToChat(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, []*fakeSkill{skill("timer", "timer")}, func(d *Deps) {
		d.Semantic = fakeSemantic{match: nlu.Match{Intent: "news", Score: 0.9}, ok: true}
	})

	if resp := fx.route(t, "any headlines today"); resp.Source != SourceChat {
		t.Errorf("resp = %+v", resp)
	}
}

func TestChatUsesPersonaAndHistory(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, nil, nil)

	fx.route(t, "hi")
	fx.route(t, "how are you")
	fx.route(t, "tell me a joke")

	if len(fx.ai.history) != 3 {
		t.Fatalf("completions = %d, want 3", len(fx.ai.history))
	}
	last := fx.ai.history[2]
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are Clawbot."},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "Hello from the AI"},
		{Role: llm.RoleUser, Content: "how are you"},
		{Role: llm.RoleAssistant, Content: "Hello from the AI"},
	}
	if len(last) != len(want) {
		t.Fatalf("history = %+v", last)
	}
	for i := range want {
		if last[i] != want[i] {
			t.Errorf("history[%d] = %+v, want %+v", i, last[i], want[i])
		}
	}
	if fx.ai.prompts[2] != "tell me a joke" {
		t.Errorf("prompt = %q", fx.ai.prompts[2])
	}

	all := fx.learned(t)
	if len(all) != 3 || all[0].PatternType != ChatType || !strings.HasPrefix(all[0].DetectedIntent, "chat:") {
		t.Errorf("chat patterns = %+v", all)
	}
}

func TestChatPatternsAreNotResumed(t *testing.T) {
	t.Parallel()
	weather := skill("weather", "weather")
	fx := newFixture(t, []*fakeSkill{weather}, nil)
	for i := 0; i < 5; i++ {
		if err := fx.patterns.Record(context.Background(), user, ChatType, "hi", "chat:hi"); err != nil {
			t.Fatal(err)
		}
	}

	if resp := fx.route(t, "hi, what's the weather"); resp.Source != SourceSkill {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAIFailureApologizes(t *testing.T) {
	t.Parallel()
	for name, mutate := range map[string]func(*Deps){
		"error": func(d *Deps) { d.AI = &fakeAI{err: llm.ErrBackendUnavailable} },
		"nil":   func(d *Deps) { d.AI = nil },
		"empty": func(d *Deps) { d.AI = &fakeAI{reply: "  "} },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, nil, mutate)

			resp := fx.route(t, "tell me something")
			if resp.Source != SourceFailed || resp.Text != ApologyReply {
				t.Errorf("resp = %+v", resp)
			}
			if got := fx.learned(t); len(got) != 0 {
				t.Errorf("apology learned: %+v", got)
			}
			if ex := fx.history.all(); len(ex) != 1 || ex[0].Reply != ApologyReply {
				t.Errorf("history = %+v", ex)
			}
		})
	}
}

func TestRouteSavesExchange(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, []*fakeSkill{skill("notes", "notes")}, nil)

	fx.router.Route(context.Background(), skills.Message{Platform: "discord", UserID: "discord:7", UserName: "ana", Text: "show my notes"})
	ex := fx.history.all()
	if len(ex) != 1 {
		t.Fatalf("history = %+v", ex)
	}
	if ex[0].Platform != "discord" || ex[0].UserName != "ana" || ex[0].Message != "show my notes" || ex[0].Reply != "notes show my" {
		t.Errorf("exchange = %+v", ex[0])
	}
}

func TestRouteDeniesAndIgnoresBlank(t *testing.T) {
	t.Parallel()
	reg, err := skills.Load(nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	hist := &fakeHistory{}
	r, err := New(config.RouterConfig{}, config.AccessConfig{AllowedUsers: []string{"telegram:1"}},
		Deps{Registry: reg, Patterns: patterns.NewMemoryStore(), AI: &fakeAI{reply: "hey"}, History: hist}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ctx := context.Background()

	if resp := r.Route(ctx, skills.Message{UserID: "telegram:2", Text: "hello"}); resp.Source != SourceDenied || resp.Text != DeniedReply {
		t.Errorf("denied resp = %+v", resp)
	}
	if resp := r.Route(ctx, skills.Message{UserID: "telegram:1", Text: "   "}); resp.Source != SourceEmpty {
		t.Errorf("blank resp = %+v", resp)
	}
	if resp := r.Route(ctx, skills.Message{UserID: "telegram:1", Text: "hello"}); resp.Text != "hey" {
		t.Errorf("allowed resp = %+v", resp)
	}
	if got := hist.all(); len(got) != 1 {
		t.Errorf("history = %+v, want only the allowed exchange", got)
	}
}

func TestConcurrentRoutesLearnEveryUser(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, []*fakeSkill{skill("shopping", "shopping")}, nil)
	ctx := context.Background()

	const users = 20
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("telegram:%d", i)
			fx.router.Route(ctx, skills.Message{UserID: id, Text: "show shopping list"})
		}(i)
	}
	wg.Wait()
	fx.router.learner.flush()

	for i := 0; i < users; i++ {
		got, err := fx.patterns.Lookup(ctx, fmt.Sprintf("telegram:%d", i))
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].DetectedIntent != "shopping:list" {
			t.Errorf("user %d patterns = %+v", i, got)
		}
	}
}

func TestSuccessful(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"✅ Note saved":                    true,
		"🌤️ 18°C in Paris":                true,
		"":                                false,
		"❌ Failed to add":                 false,
		"City not found":                  false,
		"An ERROR occurred":               false,
		"bash: no such file or directory": false,
		"Unknown command":                 false,
	}
	for reply, want := range tests {
		if got := Successful(reply); got != want {
			t.Errorf("Successful(%q) = %v, want %v", reply, got, want)
		}
	}
}

func TestAccess(t *testing.T) {
	t.Parallel()
	open := NewAccess(nil)
	if !open.Open() || !open.Allowed("anyone:1") {
		t.Error("empty allowlist must allow everyone")
	}

	a := NewAccess([]string{"telegram:123", " 456 ", ""})
	tests := map[string]bool{
		"telegram:123": true,
		"discord:123":  false,
		"discord:456":  true,
		"whatsapp:456": true,
		"456":          true,
		"telegram:789": false,
	}
	for id, want := range tests {
		if got := a.Allowed(id); got != want {
			t.Errorf("Allowed(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestLearnerDropsAfterClose(t *testing.T) {
	t.Parallel()
	repo := patterns.NewMemoryStore()
	l := newLearner(repo, 1, slog.Default())
	l.close()
	l.close()
	l.enqueue(learnItem{userID: user, patternType: "weather", input: "x", intent: "weather:x"})

	got, err := repo.Lookup(context.Background(), user)
	if err != nil || len(got) != 0 {
		t.Errorf("patterns after close = %+v, %v", got, err)
	}
}

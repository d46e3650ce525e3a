package builtin

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/jholhewres/clawbot/pkg/clawbot/email"
)

func TestParseProfile(t *testing.T) {
	t.Parallel()
	content := "# Name\nAria\n\n# Personality\nCheerful and curious\n\nstyle: concise\nLikes puns."
	p := ParseProfile(content)
	want := Profile{Name: "Aria", Personality: "Cheerful and curious", Style: "concise", Notes: "Likes puns."}
	if p != want {
		t.Errorf("ParseProfile = %+v, want %+v", p, want)
	}

	p = ParseProfile("- **Name:** Nova\n- **Vibe:** warm")
	if p.Name != "Nova" || p.Style != "warm" {
		t.Errorf("bullet profile = %+v", p)
	}
}

func TestProfileSystemPrompt(t *testing.T) {
	t.Parallel()
	p := Profile{Name: "Aria", Personality: "cheerful.", Style: "brief"}
	want := "You are Aria, a personal AI assistant chatting with your user. Personality: cheerful. Style: brief. Keep answers concise."
	if got := p.SystemPrompt(); got != want {
		t.Errorf("SystemPrompt = %q, want %q", got, want)
	}
}

func TestSetProfileName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		content, name, want string
	}{
		{"", "Nova", "name: Nova\n"},
		{"name: Aria\nstyle: calm", "Nova", "name: Nova\nstyle: calm"},
		{"# Name\nAria\n\n# Style\ncalm", "Luna", "# Name\nLuna\n\n# Style\ncalm"},
		{"style: calm", "Cash $1", "name: Cash $1\nstyle: calm"},
		{"name: Aria", "Cash $1", "name: Cash $1"},
	}
	for _, tt := range tests {
		if got := setProfileName(tt.content, tt.name); got != tt.want {
			t.Errorf("setProfileName(%q, %q) = %q, want %q", tt.content, tt.name, got, tt.want)
		}
	}
}

func TestIdentityQuestions(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewIdentity(descriptor(t, "identity"), e.deps)

	tests := map[string]string{
		"what is your name":  "My name is Clawbot.",
		"who are you?":       "I'm Clawbot, your personal AI assistant.",
		"what is my user id": "🆔 Your user ID is: telegram:1",
		"what time is it":    "🕒 It's 10:00 on Thursday, March 14, 2024.",
	}
	for text, want := range tests {
		if reply := mustHandle(t, s, text); reply != want {
			t.Errorf("%q: reply = %q, want %q", text, reply, want)
		}
	}

	caps := mustHandle(t, s, "what can you do")
	if !strings.HasPrefix(caps, "🤖 I'm Clawbot. Here's what I can do:") || !strings.Contains(caps, "• Weather: Current weather conditions") {
		t.Errorf("capabilities = %q", caps)
	}
	if strings.Contains(caps, "• Identity") {
		t.Error("capabilities list the identity skill")
	}
}

func TestIdentityTimeUsesAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	ai := &fakeAI{reply: " It's 10 in the morning. "}
	e.deps.AI = ai
	s := NewIdentity(descriptor(t, "identity"), e.deps)

	in, reply, err := handle(t, s, "what time is it")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "It's 10 in the morning." {
		t.Errorf("reply = %q", reply)
	}
	if in.Type() != timeQueryType {
		t.Errorf("pattern type = %q, want %q", in.Type(), timeQueryType)
	}
	if len(ai.prompts) != 1 || !strings.Contains(ai.prompts[0], "Thursday, 14 March 2024 10:00") {
		t.Errorf("prompts = %q", ai.prompts)
	}
}

func TestIdentityRename(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewIdentity(descriptor(t, "identity"), e.deps)

	if reply := mustHandle(t, s, "show your identity"); !strings.HasPrefix(reply, "🪪 I'm Clawbot. No identity file") {
		t.Errorf("show reply = %q", reply)
	}

	in, reply, err := handle(t, s, "call yourself nova")
	if err != nil {
		t.Fatal(err)
	}
	if !in.Transient {
		t.Error("identity updates must not be learned")
	}
	if reply != "✅ Identity updated! I'm now Nova." {
		t.Errorf("rename reply = %q", reply)
	}
	if reply := mustHandle(t, s, "what is your name"); reply != "My name is Nova." {
		t.Errorf("name after rename = %q", reply)
	}
	if reply := mustHandle(t, s, "show your identity"); reply != "🪪 My identity:\n\nname: Nova" {
		t.Errorf("show reply = %q", reply)
	}
}

func TestIdentityRenameKeepsSections(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	if err := os.WriteFile(e.deps.IdentityFile, []byte("# Name\nAria\n\n# Personality\ncheerful\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewIdentity(descriptor(t, "identity"), e.deps)

	if reply := mustHandle(t, s, "your name is luna"); reply != "✅ Identity updated! I'm now Luna." {
		t.Errorf("reply = %q", reply)
	}
	p := LoadProfile(e.deps.IdentityFile, "Clawbot")
	if p.Name != "Luna" || p.Personality != "cheerful" {
		t.Errorf("profile = %+v", p)
	}
}

func TestIdentityUpdateWithAI(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.deps.AI = &fakeAI{reply: "```markdown\nname: Aria\nstyle: playful\n```"}
	s := NewIdentity(descriptor(t, "identity"), e.deps)

	if reply := mustHandle(t, s, "be more playful"); reply != "✅ Identity updated! I'm now Aria." {
		t.Errorf("reply = %q", reply)
	}
	data, err := os.ReadFile(e.deps.IdentityFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "name: Aria\nstyle: playful\n" {
		t.Errorf("identity file = %q", data)
	}

	e.deps.AI = &fakeAI{err: errors.New("offline")}
	if reply := mustHandle(t, s, "be more serious"); reply != aiUnavailableReply {
		t.Errorf("offline reply = %q", reply)
	}
}

type fakeMailbox struct {
	msgs    []email.Message
	err     error
	queries []string
}

func (f *fakeMailbox) Unread(context.Context, int) ([]email.Message, error) { return f.msgs, f.err }
func (f *fakeMailbox) Recent(context.Context, int) ([]email.Message, error) { return f.msgs, f.err }

func (f *fakeMailbox) Search(_ context.Context, query string, _ int) ([]email.Message, error) {
	f.queries = append(f.queries, query)
	return f.msgs, f.err
}

func TestEmail(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	s := NewEmail(descriptor(t, "email"), e.deps)

	if reply := mustHandle(t, s, "check my email"); reply != email.FailureMessage(email.ErrNotConfigured) {
		t.Errorf("unconfigured reply = %q", reply)
	}

	msgs := []email.Message{{SeqNum: 1, From: "Ana <ana@example.com>", Subject: "Lunch?"}}
	box := &fakeMailbox{msgs: msgs}
	e.deps.Mail = box

	tests := map[string]string{
		"check my unread emails":        email.FormatUnread(msgs),
		"show my latest emails":         email.FormatRecent(msgs),
		"search my emails for invoice?": email.FormatSearch("invoice", msgs),
	}
	for text, want := range tests {
		if reply := mustHandle(t, s, text); reply != want {
			t.Errorf("%q: reply = %q, want %q", text, reply, want)
		}
	}
	if len(box.queries) != 1 || box.queries[0] != "invoice" {
		t.Errorf("search queries = %v", box.queries)
	}

	box.err = errors.New("dial tcp: i/o timeout")
	if reply := mustHandle(t, s, "any new mail"); reply != "❌ Failed to connect to the mailbox. Please try again later." {
		t.Errorf("error reply = %q", reply)
	}
}

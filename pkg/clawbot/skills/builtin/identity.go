package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

// Profile is the assistant persona read from the identity file.
type Profile struct {
	Name        string
	Personality string
	Style       string
	// Notes holds lines that are not "key: value" fields.
	Notes string
}

// ParseProfile extracts the persona from identity markdown. Both
// "name: Aria" lines and "# Name" headers followed by the value are read.
func ParseProfile(content string) Profile {
	var (
		p     Profile
		extra []string
	)
	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || line == "---" {
			continue
		}
		if key, val, ok := parseKeyValue(strings.TrimLeft(line, "-* ")); ok && p.set(key, val) {
			continue
		}
		if strings.HasPrefix(line, "#") {
			header := strings.TrimSpace(strings.TrimLeft(line, "#"))
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next != "" && !strings.HasPrefix(next, "#") && p.set(header, next) {
					i++
				}
			}
			continue
		}
		extra = append(extra, line)
	}
	p.Notes = strings.Join(extra, " ")
	return p
}

func parseKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 1 || idx >= len(line)-1 {
		return "", "", false
	}
	key = strings.Trim(strings.TrimSpace(line[:idx]), "*")
	value = strings.TrimSpace(strings.TrimLeft(line[idx+1:], "* "))
	return key, value, value != ""
}

func (p *Profile) set(key, value string) bool {
	switch strings.ToLower(key) {
	case "name":
		p.Name = value
	case "personality", "theme":
		p.Personality = value
	case "style", "tone", "vibe":
		p.Style = value
	default:
		return false
	}
	return true
}

// LoadProfile reads the identity file, falling back to name when the file
// is missing or does not name the assistant.
func LoadProfile(path, name string) Profile {
	var p Profile
	if path != "" {
		if data, err := os.ReadFile(path); err == nil {
			p = ParseProfile(string(data))
		}
	}
	if p.Name == "" {
		p.Name = name
	}
	return p
}

// SystemPrompt renders the persona as the system message for AI chat.
func (p Profile) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a personal AI assistant chatting with your user.", p.Name)
	if p.Personality != "" {
		fmt.Fprintf(&b, " Personality: %s.", strings.TrimRight(p.Personality, "."))
	}
	if p.Style != "" {
		fmt.Fprintf(&b, " Style: %s.", strings.TrimRight(p.Style, "."))
	}
	if p.Notes != "" {
		b.WriteString(" " + p.Notes)
	}
	b.WriteString(" Keep answers concise.")
	return b.String()
}

var (
	reIdentityShow   = regexp.MustCompile(`\b(?:show|display|print|what(?:'s| is))(?: me)? (?:your|the) (?:identity|persona)\b`)
	reIdentityRename = regexp.MustCompile(`\b(?:your name (?:is|should be)|call yourself|i(?:'ll| will) call you|change your name to|rename yourself to)\s+(.+?)[.!]?$`)
	reIdentityUpdate = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:change|update|modify|set|edit)\b.*\byour (?:identity|name|personality|persona|style|tone)\b`),
		regexp.MustCompile(`\bbe more \w+`),
		regexp.MustCompile(`^identity:`),
	}
	reAskName   = regexp.MustCompile(`\bwhat(?:'s| is) your name\b|\bwho am i talking to\b|^your name\??$`)
	reAskWho    = regexp.MustCompile(`\bwho are you\b`)
	reAskID     = regexp.MustCompile(`\b(?:my|what(?:'s| is) my) (?:user |chat )?id\b`)
	reAskCaps   = regexp.MustCompile(`\bwhat can you do\b|\bwhat are your (?:capabilities|features|skills|commands)\b|\bwhat commands\b|\bhow can you help\b`)
	reAskTime   = regexp.MustCompile(`\bwhat time is it\b|\bwhat(?:'s| is) the (?:time|date)\b|\bwhat day is (?:it|today)\b|\btoday'?s date\b|\bcurrent time\b`)
	reCodeFence = regexp.MustCompile("(?s)^```[a-z]*\\n?(.*?)\\n?```$")
)

// timeQueryType is the learned-pattern type of time questions.
const timeQueryType = "time_query"

// Identity answers questions about the assistant and shows or updates its
// identity file.
type Identity struct {
	skills.Base
	deps *Deps
}

// NewIdentity creates the identity skill.
func NewIdentity(desc skills.Descriptor, deps *Deps) *Identity {
	return &Identity{Base: skills.Base{Desc: desc}, deps: deps}
}

func (s *Identity) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := msg.Normalized
	switch {
	case reIdentityShow.MatchString(text):
		return intent(s.Slug(), "show"), true
	case reIdentityRename.MatchString(text) || matchAny(reIdentityUpdate, text):
		return skills.Intent{Slug: s.Slug(), Label: "update", Transient: true}, true
	case reAskName.MatchString(text):
		return intent(s.Slug(), "name"), true
	case reAskWho.MatchString(text):
		return intent(s.Slug(), "who"), true
	case reAskID.MatchString(text):
		return intent(s.Slug(), "userid"), true
	case reAskCaps.MatchString(text):
		return intent(s.Slug(), "capabilities"), true
	case reAskTime.MatchString(text):
		return skills.Intent{Slug: s.Slug(), Label: "time", PatternType: timeQueryType}, true
	}
	return skills.Intent{}, false
}

func (s *Identity) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	switch label {
	case "show", "name", "who", "userid", "capabilities":
		return intent(s.Slug(), label), true
	case "time":
		return skills.Intent{Slug: s.Slug(), Label: "time", PatternType: timeQueryType}, true
	}
	return skills.Intent{}, false
}

func (s *Identity) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	profile := LoadProfile(s.deps.IdentityFile, s.deps.BotName)
	switch in.Label {
	case "name":
		return fmt.Sprintf("My name is %s.", profile.Name), nil
	case "who":
		return fmt.Sprintf("I'm %s, your personal AI assistant.", profile.Name), nil
	case "userid":
		return fmt.Sprintf("🆔 Your user ID is: %s", msg.UserID), nil
	case "capabilities":
		return s.capabilities(profile), nil
	case "time":
		return s.timeAnswer(ctx, profile, msg)
	case "show":
		return s.show(profile)
	case "update":
		return s.update(ctx, msg)
	}
	return "", skills.ErrDeclined
}

func (s *Identity) capabilities(p Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 I'm %s. Here's what I can do:\n", p.Name)
	for _, d := range s.deps.Descriptors {
		if !d.IsEnabled() || d.Description == "" || d.Slug == s.Slug() {
			continue
		}
		name := d.Name
		if name == "" {
			name = d.Slug
		}
		fmt.Fprintf(&b, "\n• %s: %s", name, d.Description)
	}
	b.WriteString("\n\nI also learn how you phrase things, and anything else goes to open chat. Send /help for commands.")
	return b.String()
}

func (s *Identity) timeAnswer(ctx context.Context, p Profile, msg skills.Message) (string, error) {
	now := s.deps.Now()
	prompt := fmt.Sprintf("%s\n\nCurrent date and time: %s.\n\nUser: %s",
		p.SystemPrompt(), now.Format("Monday, 2 January 2006 15:04 MST"), msg.Text)
	if answer, err := s.deps.ask(ctx, prompt); err == nil && strings.TrimSpace(answer) != "" {
		return strings.TrimSpace(answer), nil
	}
	return fmt.Sprintf("🕒 It's %s on %s.", now.Format("15:04"), now.Format("Monday, January 2, 2006")), nil
}

func (s *Identity) show(p Profile) (string, error) {
	data, err := os.ReadFile(s.deps.IdentityFile)
	switch {
	case errors.Is(err, os.ErrNotExist) || s.deps.IdentityFile == "":
		return fmt.Sprintf("🪪 I'm %s. No identity file has been written yet; ask me to change my name or personality.", p.Name), nil
	case err != nil:
		return "", fmt.Errorf("read identity: %w", err)
	}
	return "🪪 My identity:\n\n" + strings.TrimSpace(string(data)), nil
}

func (s *Identity) update(ctx context.Context, msg skills.Message) (string, error) {
	if s.deps.IdentityFile == "" {
		return "❌ No identity file is configured.", nil
	}
	current, err := os.ReadFile(s.deps.IdentityFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read identity: %w", err)
	}

	var updated string
	if m := reIdentityRename.FindStringSubmatch(msg.Normalized); m != nil {
		updated = setProfileName(string(current), titleWords(m[1]))
	} else {
		prompt := fmt.Sprintf(`Here is the assistant identity file (markdown, may be empty):

%s

Apply this change requested by the user: %q

Return the complete updated file only. Keep a "name: <name>" line.`, string(current), msg.Text)
		answer, err := s.deps.ask(ctx, prompt)
		if err != nil {
			s.deps.Logger.Warn("identity update failed", "error", err)
			return aiUnavailableReply, nil
		}
		updated = stripFences(answer)
	}
	if strings.TrimSpace(updated) == "" {
		return "❌ Could not update the identity.", nil
	}
	if err := os.WriteFile(s.deps.IdentityFile, []byte(strings.TrimSpace(updated)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write identity: %w", err)
	}
	p := LoadProfile(s.deps.IdentityFile, s.deps.BotName)
	s.deps.Logger.Info("identity updated", "name", p.Name)
	return fmt.Sprintf("✅ Identity updated! I'm now %s.", p.Name), nil
}

var (
	reNameLine   = regexp.MustCompile(`(?im)^(\s*[-*]?\s*\**name\**\s*:).*$`)
	reNameHeader = regexp.MustCompile(`(?im)^(#+\s*name\s*\n+)[^#\n].*$`)
)

// setProfileName replaces the name line or "# Name" section value, adding
// a name line when neither exists.
func setProfileName(content, name string) string {
	escaped := strings.ReplaceAll(name, "$", "$$")
	switch {
	case reNameLine.MatchString(content):
		return reNameLine.ReplaceAllString(content, "${1} "+escaped)
	case reNameHeader.MatchString(content):
		return reNameHeader.ReplaceAllString(content, "${1}"+escaped)
	}
	return "name: " + name + "\n" + content
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := reCodeFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = titleFirst(w)
	}
	return strings.Join(words, " ")
}

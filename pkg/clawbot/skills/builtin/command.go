package builtin

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/jholhewres/clawbot/pkg/clawbot/sandbox"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

// commandPatternType is the learned-pattern bucket for shell commands.
const commandPatternType = "command_like"

// autoCommands map plain questions to the command that answers them.
var autoCommands = []struct {
	re      *regexp.Regexp
	command string
}{
	{regexp.MustCompile(`^who am i\??$|\bwhat(?:'s| is) my (?:user ?name|login)\b`), "whoami"},
	{regexp.MustCompile(`\b(?:current|working) directory\b|^where am i\??$`), "pwd"},
	{regexp.MustCompile(`\b(?:system|server) uptime\b|^uptime\??$|\bhow long (?:has|have) (?:the )?(?:system|server|machine) been (?:up|running)\b`), "uptime"},
	{regexp.MustCompile(`\bdisk (?:space|usage)\b|\bfree (?:disk|storage)\b`), "df -h"},
	{regexp.MustCompile(`\b(?:memory|ram) usage\b|\b(?:free|available) (?:memory|ram)\b`), "free -h"},
	{regexp.MustCompile(`\b(?:cpu|processor) info(?:rmation)?\b`), "lscpu"},
	{regexp.MustCompile(`\b(?:my|the|server|local) ip address(?:es)?\b`), "hostname -I"},
	{regexp.MustCompile(`\blist (?:the |my )?files\b`), "ls -lh"},
	{regexp.MustCompile(`\bshow (?:me )?(?:the |all )?files\b`), "ls -la"},
}

var (
	// reShellTerms gates the AI interpretation path.
	reShellTerms = regexp.MustCompile(`\b(?:run|execute|shell|terminal|bash|command line)\b`)

	// reChatter is small talk and clock questions that mention "run".
	reChatter = regexp.MustCompile(`\b(?:how are you|thank|what time|what day|what date|went for a run|go for a run)\b`)

	// reShellMeta rejects chaining, redirection and substitution.
	reShellMeta = regexp.MustCompile("[;&|<>$`\\n]")

	confidenceRank = map[string]int{"low": 0, "medium": 1, "high": 2}
)

// Command turns plain-language requests into allowlisted shell commands:
// explicit "run command <cmd>" phrases, a fixed set of system questions, and
// (with an AI backend) free-form requests that mention running something.
// Descriptor init_args is the allowlist of program names; empty leaves only
// the runner's policy in force. The min_confidence kwarg bounds what the AI
// may resolve.
type Command struct {
	skills.Base
	deps     *Deps
	explicit *regexp.Regexp
	allowed  map[string]bool
	minRank  int
}

// NewCommand creates the natural-language command skill.
func NewCommand(desc skills.Descriptor, deps *Deps) *Command {
	c := &Command{Base: skills.Base{Desc: desc}, deps: deps, allowed: make(map[string]bool)}
	if kw := keywordAlternation(desc.Keywords); kw != "" {
		c.explicit = regexp.MustCompile(`(?i)\b(?:` + kw + `)\b:?\s+(.+)$`)
	}
	for _, name := range c.Args() {
		c.allowed[strings.TrimSpace(name)] = true
	}
	rank, ok := confidenceRank[strings.ToLower(c.Kwarg("min_confidence", "medium"))]
	if !ok {
		rank = confidenceRank["medium"]
	}
	c.minRank = rank
	return c
}

func keywordAlternation(keywords []string) string {
	var alts []string
	for _, kw := range keywords {
		if kw = strings.TrimSpace(strings.ToLower(kw)); kw != "" {
			alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(kw), " ", `\s+`))
		}
	}
	return strings.Join(alts, "|")
}

// Detect resolves explicit and well-known requests up front. Anything else
// that talks about running something is left for the AI in Handle and is
// not learned, since its command is not known until then.
func (c *Command) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if c.explicit != nil {
		if m := c.explicit.FindStringSubmatch(strings.TrimSpace(msg.Text)); m != nil {
			if cmd := cleanCommand(m[1]); cmd != "" {
				return c.commandIntent(cmd), true
			}
		}
	}
	for _, auto := range autoCommands {
		if auto.re.MatchString(msg.Normalized) {
			return c.commandIntent(auto.command), true
		}
	}
	if c.deps.AI != nil && reShellTerms.MatchString(msg.Normalized) && !reChatter.MatchString(msg.Normalized) {
		return skills.Intent{
			Slug:        c.Slug(),
			PatternType: commandPatternType,
			Params:      map[string]string{"request": msg.Text},
			Transient:   true,
		}, true
	}
	return skills.Intent{}, false
}

func (c *Command) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if strings.TrimSpace(label) == "" {
		return skills.Intent{}, false
	}
	return c.commandIntent(label), true
}

func (c *Command) commandIntent(cmd string) skills.Intent {
	return skills.Intent{Slug: c.Slug(), Label: cmd, PatternType: commandPatternType}
}

func cleanCommand(s string) string {
	return strings.Trim(strings.TrimSpace(s), "`'\"")
}

type commandInterpretation struct {
	IsCommandRequest bool   `json:"is_command_request"`
	Command          string `json:"command"`
	Explanation      string `json:"explanation"`
	Confidence       string `json:"confidence"`
}

const interpretPrompt = `Decide whether the user wants a shell command run on the server.

User message: %q

Reply with JSON only:
{"is_command_request": true or false, "command": "the single shell command", "explanation": "what it does", "confidence": "high", "medium" or "low"}

Use one simple command with no pipes, redirection or chaining.%s`

func (c *Command) interpret(ctx context.Context, request string) (string, error) {
	var allow string
	if len(c.allowed) > 0 {
		allow = "\nAllowed programs: " + strings.Join(c.Args(), ", ") + "."
	}
	var out commandInterpretation
	if err := c.deps.askJSON(ctx, fmt.Sprintf(interpretPrompt, request, allow), &out); err != nil {
		c.deps.Logger.Warn("command interpretation failed", "error", err)
		return "", skills.ErrDeclined
	}
	rank, ok := confidenceRank[strings.ToLower(out.Confidence)]
	if !out.IsCommandRequest || !ok || rank < c.minRank {
		return "", skills.ErrDeclined
	}
	cmd := cleanCommand(out.Command)
	if cmd == "" {
		return "", skills.ErrDeclined
	}
	return cmd, nil
}

// Handle validates the command against the allowlist and runs it.
func (c *Command) Handle(ctx context.Context, in skills.Intent, _ skills.Message) (string, error) {
	cmd := in.Label
	if cmd == "" {
		var err error
		if cmd, err = c.interpret(ctx, in.Param("request")); err != nil {
			return "", err
		}
	}
	if reply := c.check(cmd); reply != "" {
		return reply, nil
	}
	if c.deps.Commands == nil {
		return "❌ Command execution is not available.", nil
	}
	res, err := c.deps.Commands.Run(ctx, cmd, c.deps.CommandTimeout)
	if err != nil {
		return fmt.Sprintf("❌ Command failed: %v", err), nil
	}
	return fmt.Sprintf("🖥️ %s\n%s", cmd, sandbox.FormatResult(res, c.deps.OutputLimit)), nil
}

// check returns a refusal for commands that may not run, or "".
func (c *Command) check(cmd string) string {
	if reShellMeta.MatchString(cmd) {
		return "❌ Only a single plain command can be run here. Use /run for anything else."
	}
	fields, err := shellquote.Split(cmd)
	if err != nil || len(fields) == 0 {
		return fmt.Sprintf("❌ Couldn't parse the command %q.", cmd)
	}
	if len(c.allowed) > 0 && !c.allowed[filepath.Base(fields[0])] {
		return fmt.Sprintf("❌ %s is not on the allowed command list.", fields[0])
	}
	return ""
}

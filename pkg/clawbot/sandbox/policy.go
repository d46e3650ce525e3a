package sandbox

import (
	"os"
	"regexp"
	"strings"
)

// Policy screens commands and filters the child environment.
type Policy struct {
	blockedEnv map[string]bool
	rules      []ScanRule
}

// ScanRule is a pattern to detect in a command.
type ScanRule struct {
	Name     string
	Severity string // "critical", "warn"
	Pattern  *regexp.Regexp
	Message  string
}

// ScanResult is a rule hit.
type ScanResult struct {
	Rule     string
	Severity string
	Message  string
}

// blockedEnvPrefixes are always stripped.
var blockedEnvPrefixes = []string{"LD_", "DYLD_"}

// secretEnv are the credentials clawbot itself reads; commands never see them.
var secretEnv = []string{
	"TELEGRAM_BOT_TOKEN", "DISCORD_BOT_TOKEN", "OPENAI_API_KEY",
	"GMAIL_APP_PASSWORD", "OPENWEATHER_API_KEY",
}

// NewPolicy builds the policy for cfg.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{blockedEnv: make(map[string]bool), rules: defaultScanRules()}
	for _, name := range secretEnv {
		p.blockedEnv[name] = true
	}
	for _, name := range cfg.BlockedEnv {
		p.blockedEnv[name] = true
	}
	return p
}

// Scan returns the rules the command matches, critical first.
func (p *Policy) Scan(command string) []ScanResult {
	var critical, warn []ScanResult
	for _, rule := range p.rules {
		if !rule.Pattern.MatchString(command) {
			continue
		}
		r := ScanResult{Rule: rule.Name, Severity: rule.Severity, Message: rule.Message}
		if rule.Severity == "critical" {
			critical = append(critical, r)
		} else {
			warn = append(warn, r)
		}
	}
	return append(critical, warn...)
}

// HasCritical reports whether any result is critical.
func HasCritical(results []ScanResult) bool {
	for _, r := range results {
		if r.Severity == "critical" {
			return true
		}
	}
	return false
}

// Environ returns the process environment without blocked variables.
func (p *Policy) Environ() []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if p.blockedEnv[name] || hasBlockedPrefix(name) {
			continue
		}
		env = append(env, kv)
	}
	return env
}

func hasBlockedPrefix(name string) bool {
	for _, prefix := range blockedEnvPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func defaultScanRules() []ScanRule {
	return []ScanRule{
		{
			Name:     "reverse-shell",
			Severity: "critical",
			Pattern:  regexp.MustCompile(`(?i)(/dev/tcp/|nc\s+-[a-z]*e|bash\s+-i\s+>&)`),
			Message:  "possible reverse shell",
		},
		{
			Name:     "destructive-root",
			Severity: "critical",
			Pattern:  regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/(\s|$|\*)`),
			Message:  "recursive delete of the filesystem root",
		},
		{
			Name:     "fork-bomb",
			Severity: "critical",
			Pattern:  regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`),
			Message:  "fork bomb",
		},
		{
			Name:     "disk-wipe",
			Severity: "critical",
			Pattern:  regexp.MustCompile(`\b(mkfs(\.\w+)?|dd\s+.*of=/dev/[sh]d)`),
			Message:  "writes directly to a block device",
		},
		{
			Name:     "sensitive-read",
			Severity: "critical",
			Pattern:  regexp.MustCompile(`(?i)(cat|head|tail|less|more)\s+.*/etc/(shadow|sudoers)`),
			Message:  "reads a sensitive system file",
		},
		{
			Name:     "base64-exec",
			Severity: "warn",
			Pattern:  regexp.MustCompile(`(?i)base64\s+.*\|\s*(bash|sh|eval)`),
			Message:  "base64 payload piped to a shell",
		},
		{
			Name:     "interactive",
			Severity: "warn",
			Pattern:  regexp.MustCompile(`\b(vim?|nano|less|top|htop)\b`),
			Message:  "interactive program; it will see no terminal",
		},
	}
}

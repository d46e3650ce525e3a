package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// BuiltinModule is the module name of the compiled-in skills.
const BuiltinModule = "builtin"

// DefaultPriority places a descriptor without an explicit priority among the
// domain skills, after tracking and before email.
const DefaultPriority = 590

// Descriptor declares one skill. Module and Class together name a
// constructor registered with the registry.
type Descriptor struct {
	Slug        string            `yaml:"slug"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Module      string            `yaml:"module"`
	Class       string            `yaml:"class"`
	Keywords    []string          `yaml:"keywords,omitempty"`
	Commands    []string          `yaml:"commands,omitempty"`
	InitArgs    []string          `yaml:"init_args,omitempty"`
	InitKwargs  map[string]string `yaml:"init_kwargs,omitempty"`
	Enabled     *bool             `yaml:"enabled,omitempty"`

	// Priority orders detection, lowest first. Zero means DefaultPriority.
	Priority int `yaml:"priority,omitempty"`
}

// EffectivePriority returns Priority or DefaultPriority when unset.
func (d Descriptor) EffectivePriority() int {
	if d.Priority == 0 {
		return DefaultPriority
	}
	return d.Priority
}

// IsEnabled reports whether the descriptor is active. Omitted means enabled.
func (d Descriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Key is the constructor lookup key "<module>.<class>".
func (d Descriptor) Key() string {
	return d.Module + "." + d.Class
}

// Validate checks the required keys.
func (d Descriptor) Validate() error {
	var missing []string
	if strings.TrimSpace(d.Slug) == "" {
		missing = append(missing, "slug")
	}
	if strings.TrimSpace(d.Module) == "" {
		missing = append(missing, "module")
	}
	if strings.TrimSpace(d.Class) == "" {
		missing = append(missing, "class")
	}
	if len(missing) > 0 {
		name := d.Slug
		if name == "" {
			name = "<unnamed>"
		}
		return fmt.Errorf("%w: descriptor %s missing %s", ErrConfig, name, strings.Join(missing, ", "))
	}
	return nil
}

// LoadDescriptorDir reads every *.yaml / *.yml file in dir as one descriptor,
// in file name order. A missing directory yields no descriptors.
func LoadDescriptorDir(dir string) ([]Descriptor, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read descriptor %s: %w", name, err)
		}
		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: parse descriptor %s: %v", ErrConfig, name, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Merge overlays extra onto base: a descriptor whose slug already exists
// replaces it in place, others are appended.
func Merge(base, extra []Descriptor) []Descriptor {
	out := append([]Descriptor(nil), base...)
	index := make(map[string]int, len(out))
	for i, d := range out {
		index[d.Slug] = i
	}
	for _, d := range extra {
		if i, ok := index[d.Slug]; ok {
			out[i] = d
			continue
		}
		index[d.Slug] = len(out)
		out = append(out, d)
	}
	return out
}

// DefaultDescriptors lists the built-in skills in routing priority order.
func DefaultDescriptors() []Descriptor {
	return []Descriptor{
		{
			Slug: "commands", Name: "Commands", Module: BuiltinModule, Class: "CommandsSkill", Priority: 100,
			Description: "Explicit slash commands",
			Commands: []string{"/learned", "/deletelearned", "/clearlearned", "/addjob", "/listjobs",
				"/removejob", "/enablejob", "/disablejob", "/run", "/help"},
		},
		{
			Slug: "cron_manage", Name: "Job management", Module: BuiltinModule, Class: "CronManageSkill", Priority: 200,
			Description: "List, enable, disable, edit and delete scheduled jobs",
			Keywords: []string{"delete", "remove", "disable", "enable", "pause", "stop", "start",
				"resume", "edit", "change", "update", "modify", "list", "show", "my jobs"},
		},
		{
			Slug: "cron_create", Name: "Job creation", Module: BuiltinModule, Class: "CronCreateSkill", Priority: 300,
			Description: "Schedule reminders and recurring tasks from natural language",
			Keywords: []string{"remind me", "schedule", "every hour", "every day", "every morning",
				"every evening", "every night", "daily at", "everyday", "send me a message",
				"notify me", "alert me", "every minute"},
		},
		{
			Slug: "tracking", Name: "Tracking", Module: BuiltinModule, Class: "TrackingSkill", Priority: 400,
			Description: "Sleep and habit tracking with reports",
			Keywords: []string{"track", "log", "record", "drank", "ate", "exercise", "workout",
				"water", "coffee", "steps", "weight", "mood", "meditat"},
		},
		{
			Slug: "status", Name: "Status", Module: BuiltinModule, Class: "StatusSkill", Priority: 500,
			Description: "Assistant health, storage and learning stats",
		},
		{
			Slug: "briefing", Name: "Daily briefing", Module: BuiltinModule, Class: "BriefingSkill", Priority: 510,
			Description: "Weather, upcoming jobs, timers and notes in one message",
			InitKwargs:  map[string]string{"max_jobs": "5", "max_notes": "3"},
		},
		{
			Slug: "weather", Name: "Weather", Module: BuiltinModule, Class: "WeatherSkill", Priority: 520,
			Description: "Current weather conditions",
			Keywords:    []string{"weather", "temperature", "forecast", "rain", "sunny"},
		},
		{
			Slug: "notes", Name: "Notes", Module: BuiltinModule, Class: "NotesSkill", Priority: 530,
			Description: "Create, list and search notes",
			Keywords:    []string{"note", "notes", "remember that", "write down"},
		},
		{
			Slug: "shopping", Name: "Shopping list", Module: BuiltinModule, Class: "ShoppingSkill", Priority: 540,
			Description: "Manage a shopping list",
			Keywords:    []string{"shopping", "grocery", "groceries", "buy"},
		},
		{
			Slug: "timer", Name: "Timers", Module: BuiltinModule, Class: "TimerSkill", Priority: 550,
			Description: "Countdown timers",
			Keywords:    []string{"timer", "countdown"},
		},
		{
			Slug: "calculation", Name: "Calculator", Module: BuiltinModule, Class: "CalculationSkill", Priority: 560,
			Description: "Arithmetic via the AI backend",
			Keywords:    []string{"calculate", "compute", "what is", "how much is"},
		},
		{
			Slug: "command_exec", Name: "Shell commands", Module: BuiltinModule, Class: "CommandSkill", Priority: 570,
			Description: "Run read-only system commands described in plain language",
			Keywords:    []string{"run command", "execute command", "run the command", "execute this"},
			InitArgs: []string{"ls", "pwd", "whoami", "uptime", "df", "du", "free", "ps", "date",
				"hostname", "uname", "lscpu", "ip", "cat", "head", "tail", "wc", "echo", "git"},
			InitKwargs: map[string]string{"min_confidence": "medium"},
		},
		{
			Slug: "email", Name: "Email", Module: BuiltinModule, Class: "EmailSkill", Priority: 600,
			Description: "Unread email summary",
			Keywords:    []string{"email", "emails", "inbox", "mail"},
		},
		{
			Slug: "identity", Name: "Identity", Module: BuiltinModule, Class: "IdentitySkill", Priority: 700,
			Description: "Assistant identity and capability questions",
			Keywords:    []string{"your name", "who are you", "what can you do", "user id", "identity"},
		},
	}
}

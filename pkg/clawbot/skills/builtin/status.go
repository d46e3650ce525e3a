package builtin

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var reStatus = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:show|give|tell)(?: me)? (?:your |the |bot )?status\b`),
	regexp.MustCompile(`\bwhat(?:'s| is) (?:your |the |bot )?(?:status|health)\b`),
	regexp.MustCompile(`\bare you (?:working|running|ok|okay|operational|alive)\b`),
	regexp.MustCompile(`\bbot (?:status|health|info|information)\b`),
	regexp.MustCompile(`\bsystem (?:status|info)\b`),
	regexp.MustCompile(`\bcheck status\b`),
}

// Status reports the bot's own health: backend, storage, jobs, learned
// patterns, skills and runtime.
type Status struct {
	skills.Base
	deps *Deps
}

// NewStatus creates the status skill.
func NewStatus(desc skills.Descriptor, deps *Deps) *Status {
	return &Status{Base: skills.Base{Desc: desc}, deps: deps}
}

func (s *Status) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	if !matchAny(reStatus, msg.Normalized) {
		return skills.Intent{}, false
	}
	return intent(s.Slug(), "show"), true
}

func (s *Status) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	if label != "show" {
		return skills.Intent{}, false
	}
	return intent(s.Slug(), label), true
}

// Handle builds the report. Sections whose source is unavailable are
// skipped rather than failing the whole reply.
func (s *Status) Handle(ctx context.Context, _ skills.Intent, msg skills.Message) (string, error) {
	d := s.deps
	var b strings.Builder
	fmt.Fprintf(&b, "🤖 %s Status\n\n", d.BotName)

	switch {
	case d.AI == nil:
		b.WriteString("🧠 AI: offline\n")
	case d.AIModel != "":
		fmt.Fprintf(&b, "🧠 AI: %s (%s)\n", d.AIBackend, d.AIModel)
	default:
		fmt.Fprintf(&b, "🧠 AI: %s\n", d.AIBackend)
	}

	if d.DatabasePath != "" {
		if fi, err := os.Stat(d.DatabasePath); err == nil {
			fmt.Fprintf(&b, "💾 Database: %s\n", humanize.Bytes(uint64(fi.Size())))
		}
	}
	if d.Store != nil {
		if n, err := d.Store.CountExchanges(ctx); err == nil {
			fmt.Fprintf(&b, "💬 Messages: %s\n", humanize.Comma(n))
		} else {
			d.Logger.Warn("status: count exchanges", "error", err)
		}
	}
	if d.Jobs != nil {
		if jobs, err := d.Jobs.ListJobs(ctx, ""); err == nil {
			active := 0
			for _, j := range jobs {
				if j.Enabled {
					active++
				}
			}
			fmt.Fprintf(&b, "⏰ Jobs: %d active / %d total\n", active, len(jobs))
		} else {
			d.Logger.Warn("status: list jobs", "error", err)
		}
	}
	if d.Patterns != nil {
		if learned, err := d.Patterns.Lookup(ctx, msg.UserID); err == nil {
			fmt.Fprintf(&b, "🎓 Learned patterns: %d\n", len(learned))
		}
	}
	fmt.Fprintf(&b, "🌤️ Weather: %s\n", onOff(d.Weather.APIKey != ""))
	fmt.Fprintf(&b, "📧 Email: %s\n", onOff(d.Mail != nil))

	var enabled []string
	for _, desc := range d.Descriptors {
		if desc.IsEnabled() {
			enabled = append(enabled, desc.Slug)
		}
	}
	fmt.Fprintf(&b, "🧩 Skills (%d): %s\n", len(enabled), strings.Join(enabled, ", "))

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	fmt.Fprintf(&b, "⚙️ Runtime: %s, %d goroutines, %s heap\n",
		runtime.Version(), runtime.NumGoroutine(), humanize.Bytes(mem.HeapAlloc))
	if !d.StartedAt.IsZero() {
		fmt.Fprintf(&b, "⏱️ Uptime: %s\n", d.Now().Sub(d.StartedAt).Truncate(time.Second))
	}
	b.WriteString("\nStatus: Operational ⚡")
	return b.String(), nil
}

func onOff(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

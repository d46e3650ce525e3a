// Package skills defines the capability every chat skill implements and the
// registry that builds the ordered skill set from declarative descriptors.
package skills

import (
	"context"
	"errors"
	"strings"
)

// ErrConfig reports a descriptor that cannot be turned into a skill.
var ErrConfig = errors.New("skill configuration error")

// ErrDeclined is returned by Handle when a detected message turns out not to
// be for the skill after all. The router moves on to the next skill.
var ErrDeclined = errors.New("skill declined message")

// Message is one inbound chat message as seen by skills.
type Message struct {
	// Platform is the channel name (telegram, discord, whatsapp, cli).
	Platform string

	// UserID is the stable "<platform>:<id>" identity of the sender.
	UserID string

	// UserName is a display name, possibly empty.
	UserName string

	// Text is the raw message text.
	Text string

	// Normalized is Text lower-cased, trimmed and whitespace-collapsed.
	Normalized string
}

// Intent is a detected request for one skill. Its string form
// "<slug>:<label>" is what the router learns and later resumes.
type Intent struct {
	Slug  string
	Label string

	// PatternType is the learned-pattern bucket. Empty means Slug.
	PatternType string

	// Params carries detection captures to the handler. Not persisted.
	Params map[string]string

	// Transient intents are handled but never learned.
	Transient bool
}

// String encodes the intent as "<slug>:<label>".
func (i Intent) String() string {
	if i.Label == "" {
		return i.Slug
	}
	return i.Slug + ":" + i.Label
}

// Type returns the learned-pattern type for the intent.
func (i Intent) Type() string {
	if i.PatternType != "" {
		return i.PatternType
	}
	return i.Slug
}

// Param returns a detection capture, or "".
func (i Intent) Param(key string) string {
	if i.Params == nil {
		return ""
	}
	return i.Params[key]
}

// ParseIntent splits a stored "<slug>:<label>" intent.
func ParseIntent(s string) (slug, label string) {
	slug, label, _ = strings.Cut(s, ":")
	return slug, label
}

// Skill is a pluggable handler for one category of request.
//
// Detect must be cheap and side-effect free; slow work (AI extraction, HTTP)
// belongs in Handle. Resume rebuilds an intent from a label produced by an
// earlier Detect so a learned pattern can dispatch without re-detecting.
type Skill interface {
	Slug() string
	Detect(ctx context.Context, msg Message) (Intent, bool)
	Handle(ctx context.Context, intent Intent, msg Message) (string, error)
	Resume(label string, msg Message) (Intent, bool)
}

// Closer is implemented by skills that hold resources.
type Closer interface {
	Close() error
}

// Base carries the descriptor fields most skills need.
type Base struct {
	Desc Descriptor
}

// Slug returns the descriptor slug.
func (b Base) Slug() string { return b.Desc.Slug }

// HasKeyword reports whether normalized text contains one of the descriptor
// keywords.
func (b Base) HasKeyword(normalized string) bool {
	for _, kw := range b.Desc.Keywords {
		if kw != "" && strings.Contains(normalized, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Command returns the argument text when normalized starts with one of the
// descriptor commands.
func (b Base) Command(text string) (cmd, args string, ok bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, c := range b.Desc.Commands {
		c = strings.ToLower(c)
		if lower == c || strings.HasPrefix(lower, c+" ") {
			return c, strings.TrimSpace(trimmed[len(c):]), true
		}
	}
	return "", "", false
}

// Kwarg returns an init_kwargs value or def.
func (b Base) Kwarg(key, def string) string {
	if v, ok := b.Desc.InitKwargs[key]; ok && v != "" {
		return v
	}
	return def
}

// Args returns the descriptor's positional init_args.
func (b Base) Args() []string {
	return b.Desc.InitArgs
}

package builtin

import (
	"context"
	"regexp"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/email"
	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var (
	reMailSearch = regexp.MustCompile(`\b(?:search|find)(?: my)? (?:e-?mails?|inbox|mail) (?:for|from|about) (.+)$`)
	reMailRecent = regexp.MustCompile(`\b(?:recent|latest|last)(?: \d+)? (?:e-?mails?|mails)\b`)
	reMailUnread = regexp.MustCompile(`\b(?:check|show|read|any|new|unread|get|fetch)\b.*\b(?:e-?mails?|inbox|mail)\b|\bunread\b`)
)

const mailLimit = 10

// Email summarizes the inbox.
type Email struct {
	skills.Base
	deps *Deps
}

// NewEmail creates the email skill.
func NewEmail(desc skills.Descriptor, deps *Deps) *Email {
	return &Email{Base: skills.Base{Desc: desc}, deps: deps}
}

func (e *Email) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := strings.TrimRight(msg.Normalized, "?.!")
	switch {
	case reMailSearch.MatchString(text):
		return intent(e.Slug(), "search "+reMailSearch.FindStringSubmatch(text)[1]), true
	case reMailRecent.MatchString(text):
		return intent(e.Slug(), "recent"), true
	case reMailUnread.MatchString(text):
		return intent(e.Slug(), "unread"), true
	}
	return skills.Intent{}, false
}

func (e *Email) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	kind, arg, _ := strings.Cut(label, " ")
	switch {
	case kind == "recent" || kind == "unread":
		return intent(e.Slug(), kind), true
	case kind == "search" && arg != "":
		return intent(e.Slug(), label), true
	}
	return skills.Intent{}, false
}

func (e *Email) Handle(ctx context.Context, in skills.Intent, _ skills.Message) (string, error) {
	if e.deps.Mail == nil {
		return email.FailureMessage(email.ErrNotConfigured), nil
	}
	kind, arg, _ := strings.Cut(in.Label, " ")

	var (
		msgs []email.Message
		err  error
	)
	switch kind {
	case "unread":
		msgs, err = e.deps.Mail.Unread(ctx, mailLimit)
	case "recent":
		msgs, err = e.deps.Mail.Recent(ctx, mailLimit)
	case "search":
		msgs, err = e.deps.Mail.Search(ctx, arg, mailLimit)
	default:
		return "", skills.ErrDeclined
	}
	if err != nil {
		e.deps.Logger.Warn("mailbox fetch failed", "kind", kind, "error", err)
		return email.FailureMessage(err), nil
	}

	switch kind {
	case "recent":
		return email.FormatRecent(msgs), nil
	case "search":
		return email.FormatSearch(arg, msgs), nil
	}
	return email.FormatUnread(msgs), nil
}

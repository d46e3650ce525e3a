package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
	"github.com/jholhewres/clawbot/pkg/clawbot/store"
)

var (
	reNoteSearch = regexp.MustCompile(`\b(?:search|find)(?: my)? notes? (?:for|about) (.+)$`)
	reNoteList   = regexp.MustCompile(`\b(?:show|list|get|see|view)(?: me)?(?: all)?(?: my)? notes?\b|^(?:my )?notes\??$`)
	reNoteCreate = regexp.MustCompile(`\b(?:create|make|add|write|save|take)(?: a| new| a new)? note\b|\bnote (?:this|that)\b|\bremember (?:this|that)\b|\bwrite (?:this|that) down\b`)
	reNotePrefix = regexp.MustCompile(`(?i)^.*?\b(?:note|remember this|remember that|write this down|write that down)\b\s*(?:that|:|-)?\s*`)
)

// Notes creates, lists and searches notes.
type Notes struct {
	skills.Base
	deps *Deps
}

// NewNotes creates the notes skill.
func NewNotes(desc skills.Descriptor, deps *Deps) *Notes {
	return &Notes{Base: skills.Base{Desc: desc}, deps: deps}
}

func (n *Notes) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := msg.Normalized
	switch {
	case reNoteSearch.MatchString(text):
		return intent(n.Slug(), "search "+reNoteSearch.FindStringSubmatch(text)[1]), true
	case reNoteList.MatchString(text):
		return intent(n.Slug(), "list"), true
	case reNoteCreate.MatchString(text):
		return intent(n.Slug(), "create"), true
	}
	return skills.Intent{}, false
}

func (n *Notes) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	kind, _, _ := strings.Cut(label, " ")
	switch kind {
	case "search", "list", "create":
		return intent(n.Slug(), label), true
	}
	return skills.Intent{}, false
}

func (n *Notes) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	kind, arg, _ := strings.Cut(in.Label, " ")
	switch kind {
	case "list":
		notes, err := n.deps.Store.Notes(ctx, msg.UserID, 10)
		if err != nil {
			return "", err
		}
		if len(notes) == 0 {
			return "📝 You don't have any notes yet. Try \"take a note: call the dentist\".", nil
		}
		return "📝 Your recent notes:\n\n" + formatNotes(notes), nil
	case "search":
		query := strings.TrimSpace(strings.TrimRight(arg, "?.!"))
		notes, err := n.deps.Store.SearchNotes(ctx, msg.UserID, query)
		if err != nil {
			return "", err
		}
		if len(notes) == 0 {
			return fmt.Sprintf("🔍 No notes mention '%s'.", query), nil
		}
		return fmt.Sprintf("🔍 Notes matching '%s':\n\n%s", query, formatNotes(notes)), nil
	case "create":
		return n.create(ctx, msg)
	}
	return "", skills.ErrDeclined
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (n *Notes) create(ctx context.Context, msg skills.Message) (string, error) {
	body := strings.TrimSpace(reNotePrefix.ReplaceAllString(msg.Text, ""))
	if body == "" {
		return "📝 What should the note say? Try \"take a note: buy a birthday card\".", nil
	}

	req := noteRequest{Title: "Quick Note", Content: body}
	prompt := fmt.Sprintf(`Turn this note into a short title and the note content.

Note: %q

Reply with JSON only: {"title": "3-6 word title", "content": "the note"}`, body)
	var extracted noteRequest
	if err := n.deps.askJSON(ctx, prompt, &extracted); err != nil {
		n.deps.Logger.Debug("note extraction failed, saving as quick note", "error", err)
	} else {
		if t := strings.TrimSpace(extracted.Title); t != "" {
			req.Title = t
		}
		if c := strings.TrimSpace(extracted.Content); c != "" {
			req.Content = c
		}
	}

	id, err := n.deps.Store.AddNote(ctx, msg.UserID, req.Title, req.Content)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Note #%d saved!\n\n📌 %s\n%s", id, req.Title, req.Content), nil
}

func formatNotes(notes []store.Note) string {
	var b strings.Builder
	for _, note := range notes {
		fmt.Fprintf(&b, "#%d 📌 %s (%s)\n%s\n\n", note.ID, note.Title, note.CreatedAt.Format("Jan 2"), note.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

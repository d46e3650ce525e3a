package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jholhewres/clawbot/pkg/clawbot/skills"
)

var (
	reShopClear  = regexp.MustCompile(`\b(?:clear|empty|reset|wipe)(?: out)?(?: my| the)? (?:shopping|grocery) list\b`)
	reShopList   = regexp.MustCompile(`\b(?:show|list|see|view|get|what'?s on|what is on)(?: me)?(?: my| the)? (?:shopping|grocery) list\b|^(?:my )?(?:shopping|grocery) list\??$`)
	reShopBought = regexp.MustCompile(`^(?:i )?(?:bought|purchased|check off|tick off|cross off) (.+?)(?: (?:from|on|off) (?:my |the )?(?:shopping |grocery )?list)?$`)
	reShopAdd    = []*regexp.Regexp{
		regexp.MustCompile(`\badd (.+?) to (?:my |the )?(?:shopping|grocery) list\b`),
		regexp.MustCompile(`\b(?:put|add) (.+?) (?:on|in) (?:the |my )?(?:shopping |grocery )?list\b`),
		regexp.MustCompile(`\b(?:shopping|grocery) list:? (.+)$`),
		regexp.MustCompile(`^(?:i need to |i have to |please |remember to )?buy (.+)$`),
	}
	reItemSplit = regexp.MustCompile(`\s*(?:,|;|\band\b|\n)\s*`)
	reQuantity  = regexp.MustCompile(`^(\d+(?:\.\d+)?\s*(?:x|kg|g|lb|lbs|l|ml|pack|packs|bottles?|cans?|boxes|box|bags?|dozen)?)\s+(?:of\s+)?(.+)$`)
)

// Shopping manages the shopping list.
type Shopping struct {
	skills.Base
	deps *Deps
}

// NewShopping creates the shopping list skill.
func NewShopping(desc skills.Descriptor, deps *Deps) *Shopping {
	return &Shopping{Base: skills.Base{Desc: desc}, deps: deps}
}

func (s *Shopping) Detect(_ context.Context, msg skills.Message) (skills.Intent, bool) {
	text := strings.TrimRight(msg.Normalized, ".!")
	switch {
	case reShopClear.MatchString(text):
		return intent(s.Slug(), "clear"), true
	case reShopList.MatchString(text):
		return intent(s.Slug(), "list"), true
	}
	if m := reShopBought.FindStringSubmatch(text); m != nil {
		return intent(s.Slug(), "bought "+m[1]), true
	}
	for _, re := range reShopAdd {
		if m := re.FindStringSubmatch(text); m != nil {
			return intent(s.Slug(), "add "+m[1]), true
		}
	}
	return skills.Intent{}, false
}

func (s *Shopping) Resume(label string, _ skills.Message) (skills.Intent, bool) {
	kind, arg, _ := strings.Cut(label, " ")
	switch {
	case kind == "list" || kind == "clear":
		return intent(s.Slug(), kind), true
	case (kind == "add" || kind == "bought") && arg != "":
		return intent(s.Slug(), label), true
	}
	return skills.Intent{}, false
}

func (s *Shopping) Handle(ctx context.Context, in skills.Intent, msg skills.Message) (string, error) {
	kind, arg, _ := strings.Cut(in.Label, " ")
	switch kind {
	case "add":
		return s.add(ctx, msg.UserID, arg)
	case "list":
		return s.list(ctx, msg.UserID)
	case "clear":
		n, err := s.deps.Store.ClearItems(ctx, msg.UserID)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "🛒 Your shopping list is already empty.", nil
		}
		return fmt.Sprintf("🛒 Cleared %s from your shopping list.", pluralize(n, "item", "items")), nil
	case "bought":
		return s.bought(ctx, msg.UserID, arg)
	}
	return "", skills.ErrDeclined
}

type parsedItem struct {
	name     string
	quantity string
}

// parseItems splits "2 milk, eggs and bread" into items with quantities.
func parseItems(text string) []parsedItem {
	var out []parsedItem
	for _, part := range reItemSplit.Split(text, -1) {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "some "))
		if part == "" {
			continue
		}
		it := parsedItem{name: part}
		if m := reQuantity.FindStringSubmatch(part); m != nil {
			it.quantity, it.name = m[1], m[2]
		}
		out = append(out, it)
	}
	return out
}

func (s *Shopping) add(ctx context.Context, userID, text string) (string, error) {
	items := parseItems(text)
	if len(items) == 0 {
		return "🛒 What should I add? Try \"add milk and eggs to my shopping list\".", nil
	}
	var b strings.Builder
	b.WriteString("🛒 Added to shopping list:\n")
	for _, it := range items {
		if _, err := s.deps.Store.AddItem(ctx, userID, it.name, it.quantity); err != nil {
			return "", err
		}
		b.WriteString("\n• ")
		if it.quantity != "" {
			b.WriteString(it.quantity + " ")
		}
		b.WriteString(it.name)
	}
	return b.String(), nil
}

func (s *Shopping) list(ctx context.Context, userID string) (string, error) {
	items, err := s.deps.Store.Items(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "🛒 Your shopping list is empty. Try \"add milk to my shopping list\".", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🛒 Shopping list (%d):\n", len(items))
	for _, it := range items {
		b.WriteString("\n• ")
		if it.Quantity != "" {
			b.WriteString(it.Quantity + " ")
		}
		b.WriteString(it.Name)
	}
	return b.String(), nil
}

func (s *Shopping) bought(ctx context.Context, userID, text string) (string, error) {
	items, err := s.deps.Store.Items(ctx, userID)
	if err != nil {
		return "", err
	}
	var done []string
	for _, want := range parseItems(text) {
		for _, it := range items {
			if !strings.EqualFold(it.Name, want.name) {
				continue
			}
			ok, err := s.deps.Store.MarkPurchased(ctx, userID, it.ID)
			if err != nil {
				return "", err
			}
			if ok {
				done = append(done, it.Name)
			}
			break
		}
	}
	if len(done) == 0 {
		return "", skills.ErrDeclined
	}
	return "✅ Checked off: " + strings.Join(done, ", "), nil
}

package patterns

import (
	"fmt"
	"sort"
	"strings"
)

// Bucket is the human-facing confidence band.
type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
)

// BucketFor classifies a confidence: high ≥ 0.9, medium ≥ 0.7, low otherwise.
func BucketFor(confidence float64) Bucket {
	switch {
	case confidence >= 0.9:
		return BucketHigh
	case confidence >= 0.7:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Entry is one numbered line of the learned view.
type Entry struct {
	Index   int
	Bucket  Bucket
	Pattern Pattern
}

// Group collects the entries of one pattern type.
type Group struct {
	PatternType string
	Entries     []Entry
}

// BuildView groups patterns by type (types alphabetical), sorts each group by
// confidence then success count, and numbers entries across groups starting
// at 1. The numbering is what /deletelearned refers to.
func BuildView(all []Pattern) []Group {
	byType := make(map[string][]Pattern)
	for _, p := range all {
		t := p.PatternType
		if t == "" {
			t = "general"
		}
		byType[t] = append(byType[t], p)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	groups := make([]Group, 0, len(types))
	index := 0
	for _, t := range types {
		ps := byType[t]
		sort.SliceStable(ps, func(i, j int) bool {
			if ps[i].Confidence != ps[j].Confidence {
				return ps[i].Confidence > ps[j].Confidence
			}
			return ps[i].SuccessCount > ps[j].SuccessCount
		})
		g := Group{PatternType: t}
		for _, p := range ps {
			index++
			g.Entries = append(g.Entries, Entry{Index: index, Bucket: BucketFor(p.Confidence), Pattern: p})
		}
		groups = append(groups, g)
	}
	return groups
}

// EntryAt returns the entry with the given display number.
func EntryAt(groups []Group, index int) (Entry, bool) {
	for _, g := range groups {
		for _, e := range g.Entries {
			if e.Index == index {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// CountEntries returns the number of entries in the view.
func CountEntries(groups []Group) int {
	n := 0
	for _, g := range groups {
		n += len(g.Entries)
	}
	return n
}

// FormatView renders the view as plain text.
func FormatView(groups []Group) string {
	if len(groups) == 0 {
		return "🎓 I haven't learned any patterns from you yet!\n\nI'll learn automatically from our successful interactions."
	}

	var b strings.Builder
	b.WriteString("🎓 What I've learned about you:\n")
	for _, g := range groups {
		fmt.Fprintf(&b, "\n%s:\n", titleCase(g.PatternType))
		for _, e := range g.Entries {
			fmt.Fprintf(&b, "%d. [%s %.0f%%] %q → %s (used %dx)\n",
				e.Index, e.Bucket, e.Pattern.Confidence*100, e.Pattern.UserInput,
				e.Pattern.DetectedIntent, e.Pattern.SuccessCount)
		}
	}
	b.WriteString("\nUse /deletelearned <number> to forget one entry, /clearlearned to forget everything.")
	return b.String()
}

func titleCase(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// SleepReport summarizes the user's sleep sessions over the last days.
func (s *Store) SleepReport(ctx context.Context, userID string, days int) (string, error) {
	if days <= 0 {
		days = 7
	}
	events, err := s.SleepEvents(ctx, userID, s.now().AddDate(0, 0, -days))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return fmt.Sprintf("📊 No sleep data found for the last %d days. Start tracking by saying 'good night' when you go to bed!", days), nil
	}
	sessions := Sessions(events)
	if len(sessions) == 0 {
		return "📊 No complete sleep sessions found. Make sure to log both 'good night' and 'good morning'!", nil
	}

	var total time.Duration
	shortest, longest := sessions[0], sessions[0]
	for _, sess := range sessions {
		total += sess.Duration()
		if sess.Duration() < shortest.Duration() {
			shortest = sess
		}
		if sess.Duration() > longest.Duration() {
			longest = sess
		}
	}
	avg := total.Hours() / float64(len(sessions))

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Sleep Report - Last %d Days\n\n", days)
	fmt.Fprintf(&b, "🛌 Total Nights Tracked: %d\n", len(sessions))
	fmt.Fprintf(&b, "⏱️ Average Sleep: %.1f hours/night\n", avg)
	fmt.Fprintf(&b, "📈 Total Sleep Time: %.1f hours\n", total.Hours())
	fmt.Fprintf(&b, "🌟 Best Night: %.1f hours (%s)\n", longest.Duration().Hours(), longest.Bedtime.Format("Jan 02"))
	fmt.Fprintf(&b, "⚠️ Shortest Night: %.1f hours (%s)\n\n", shortest.Duration().Hours(), shortest.Bedtime.Format("Jan 02"))

	switch {
	case avg >= 7:
		b.WriteString("✅ Sleep Quality: Good! You're getting recommended sleep.\n")
	case avg >= 6:
		b.WriteString("⚠️ Sleep Quality: Fair. Try to get more sleep.\n")
	default:
		b.WriteString("❌ Sleep Quality: Poor. You need more rest!\n")
	}

	b.WriteString("\n📅 Recent Sessions:\n")
	recent := sessions[max(len(sessions)-5, 0):]
	for i := len(recent) - 1; i >= 0; i-- {
		sess := recent[i]
		fmt.Fprintf(&b, "%d. %s: %s → %s (%.1fh)\n", len(recent)-i,
			sess.Bedtime.Format("Jan 02"), sess.Bedtime.Format("03:04 PM"), sess.Wake.Format("03:04 PM"),
			sess.Duration().Hours())
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// TrackingReport summarizes one tracking category over the last days.
func (s *Store) TrackingReport(ctx context.Context, userID, category string, days int) (string, error) {
	if days <= 0 {
		days = 7
	}
	category = strings.ToLower(strings.TrimSpace(category))
	events, err := s.TrackingEvents(ctx, userID, category, s.now().AddDate(0, 0, -days))
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		categories, err := s.TrackingCategories(ctx, userID)
		if err != nil {
			return "", err
		}
		if len(categories) > 0 {
			return fmt.Sprintf("📊 No %s data found for the last %d days.\n\nAvailable categories: %s",
				category, days, strings.Join(categories, ", ")), nil
		}
		return "📊 No tracking data found. Start tracking by telling me what you're doing!", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s Report - Last %d Days\n\n", titleWord(category), days)
	fmt.Fprintf(&b, "📝 Total Entries: %d\n", len(events))

	var values []float64
	for _, ev := range events {
		if ev.Value != nil {
			values = append(values, *ev.Value)
		}
	}
	if len(values) > 0 {
		var sum float64
		for _, v := range values {
			sum += v
		}
		unit := events[0].Unit
		fmt.Fprintf(&b, "📈 Total: %.1f %s\n", sum, unit)
		fmt.Fprintf(&b, "📊 Average: %.1f %s per entry\n", sum/float64(len(values)), unit)
		fmt.Fprintf(&b, "🌟 Highest: %.1f %s\n", slices.Max(values), unit)
		fmt.Fprintf(&b, "📉 Lowest: %.1f %s\n", slices.Min(values), unit)
	}

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.EventType]++
	}
	if len(counts) > 1 {
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		slices.SortFunc(types, func(a, b string) int {
			if c := cmp.Compare(counts[b], counts[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})
		b.WriteString("\n📋 Breakdown:\n")
		for _, t := range types {
			fmt.Fprintf(&b, "  • %s: %d times\n", t, counts[t])
		}
	}

	b.WriteString("\n📅 Recent Entries:\n")
	recent := events[max(len(events)-5, 0):]
	for i := len(recent) - 1; i >= 0; i-- {
		ev := recent[i]
		line := fmt.Sprintf("%d. %s: %s", len(recent)-i, ev.Timestamp.Format("Jan 02, 03:04 PM"), ev.EventType)
		if ev.Value != nil {
			line += fmt.Sprintf(" %g %s", *ev.Value, ev.Unit)
		}
		if ev.Notes != "" {
			line += " - " + ev.Notes
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func titleWord(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

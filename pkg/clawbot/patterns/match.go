package patterns

import "strings"

// BestMatch picks the pattern that applies to input: the stored input must be
// contained in input or contain it, and its confidence must reach
// minConfidence. The highest confidence wins; ties go to the most recently
// used. input is expected to be normalized.
func BestMatch(candidates []Pattern, input string, minConfidence float64) (Pattern, bool) {
	var best Pattern
	found := false
	for _, p := range candidates {
		if p.Confidence < minConfidence || p.UserInput == "" {
			continue
		}
		if !strings.Contains(input, p.UserInput) && !strings.Contains(p.UserInput, input) {
			continue
		}
		if !found || p.Confidence > best.Confidence ||
			(p.Confidence == best.Confidence && p.LastUsedAt.After(best.LastUsedAt)) {
			best = p
			found = true
		}
	}
	return best, found
}

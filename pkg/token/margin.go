package token

import "strings"

// MarginInfo reports how an adjusted token cap was derived.
type MarginInfo struct {
	RepetitionRate   float64
	RepetitionMargin float64
	SizeMargin       float64
	TotalMargin      float64
	BaseEffectiveMax int
	AdjustedMax      int
}

// RepetitionRate returns the fraction of lines in content that are repeats of
// an earlier line: (total - unique) / total. Empty content rates 0.
func RepetitionRate(content string) float64 {
	if content == "" {
		return 0
	}
	lines := strings.Split(content, "\n")
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		seen[l] = struct{}{}
	}
	total := len(lines)
	return float64(total-len(seen)) / float64(total)
}

// DynamicMargin shrinks baseEffectiveMax according to content
// characteristics and returns the adjusted cap.
//
// Two margins apply, and the larger wins: a repetition margin (scraped text
// dominated by navigation and footer lines tokenizes worse than the
// character ratio predicts) and a size margin (estimation error compounds on
// large chunks). If estimatedTokens still exceeds the adjusted cap, the
// margin is recomputed as the minimum needed plus 5%, capped at 30%.
func DynamicMargin(content string, estimatedTokens, baseEffectiveMax int) (int, MarginInfo) {
	rate := RepetitionRate(content)

	var repetitionMargin float64
	switch {
	case rate > 0.90:
		repetitionMargin = 0.15
	case rate > 0.80:
		repetitionMargin = 0.10
	case rate > 0.70:
		repetitionMargin = 0.05
	}

	var sizeMargin float64
	switch {
	case estimatedTokens > 80000:
		sizeMargin = 0.25
	case estimatedTokens > 75000:
		sizeMargin = 0.20
	case estimatedTokens > 70000:
		sizeMargin = 0.15
	case estimatedTokens > 60000:
		sizeMargin = 0.10
	case estimatedTokens > 50000:
		sizeMargin = 0.05
	}

	totalMargin := repetitionMargin
	if sizeMargin > totalMargin {
		totalMargin = sizeMargin
	}

	adjusted := int(float64(baseEffectiveMax) * (1 - totalMargin))
	if estimatedTokens > adjusted {
		required := 1 - float64(estimatedTokens)/float64(baseEffectiveMax)
		safe := required + 0.05
		if safe > 0.30 {
			safe = 0.30
		}
		totalMargin = safe
		adjusted = int(float64(baseEffectiveMax) * (1 - totalMargin))
	}

	return adjusted, MarginInfo{
		RepetitionRate:   rate,
		RepetitionMargin: repetitionMargin,
		SizeMargin:       sizeMargin,
		TotalMargin:      totalMargin,
		BaseEffectiveMax: baseEffectiveMax,
		AdjustedMax:      adjusted,
	}
}

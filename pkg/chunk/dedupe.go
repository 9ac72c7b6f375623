package chunk

import (
	"strings"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// Dedupe removes repeated lines from text according to cfg. Scope "document"
// drops every later occurrence of a line already seen; scope "consecutive"
// drops a line only when it repeats the line immediately before it. Lines
// shorter than MinLineLength always pass through. Ordering of surviving lines
// is preserved, and the operation is idempotent.
func Dedupe(text string, cfg config.DedupeConfig) string {
	if !cfg.Enabled || text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	switch cfg.Scope {
	case config.DedupeScopeConsecutive:
		return strings.Join(dedupeConsecutive(lines, cfg.MinLineLength), "\n")
	default:
		return strings.Join(dedupeDocument(lines, cfg), "\n")
	}
}

func dedupeDocument(lines []string, cfg config.DedupeConfig) []string {
	// Without preserve_first_occurrence every copy of a repeated line goes,
	// which needs a counting pass first.
	var counts map[string]int
	if !cfg.PreserveFirstOccurrence {
		counts = make(map[string]int, len(lines))
		for _, l := range lines {
			counts[strings.TrimSpace(l)]++
		}
	}

	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		key := strings.TrimSpace(l)
		if len(key) < cfg.MinLineLength {
			out = append(out, l)
			continue
		}
		if counts != nil {
			if counts[key] > 1 {
				continue
			}
			out = append(out, l)
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}

func dedupeConsecutive(lines []string, minLineLength int) []string {
	out := make([]string, 0, len(lines))
	prev := ""
	havePrev := false
	for _, l := range lines {
		key := strings.TrimSpace(l)
		if len(key) >= minLineLength && havePrev && key == prev {
			continue
		}
		out = append(out, l)
		prev = key
		havePrev = true
	}
	return out
}

// Normalize strips trailing whitespace from every line and collapses runs of
// blank lines down to at most two.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blanks := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t")
		if l == "" {
			blanks++
			if blanks > 2 {
				continue
			}
		} else {
			blanks = 0
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

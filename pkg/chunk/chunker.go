// Package chunk turns raw aggregated scrape text into ordered, token-budgeted
// chunks that are guaranteed to pass the dispatcher's pre-flight check:
// dedupe, normalize, page split, grouping, and a final validation pass.
package chunk

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/token"
)

// pageStartPrefix marks the beginning of one scraped page inside the
// aggregated text. The scraper emits it; the chunker splits on it.
const pageStartPrefix = "--- PAGE START: "

// preSplitCharsPerToken converts a token budget into a character cap for the
// degenerate truncation path of oversize pages.
const preSplitCharsPerToken = 2.5

// minTruncateChars is the floor below which iterative truncation gives up and
// the chunk is dropped instead.
const minTruncateChars = 1000

// Chunk is one LLM-sized slice of the scraped content. Immutable once
// produced; Tokens is the content-only estimate, before prompt overheads.
type Chunk struct {
	Index           int
	Content         string
	Tokens          int
	SourcePageCount int
}

// Chunker slices aggregated page text into chunks under the effective token
// budget. Deterministic: identical input and config yield identical output.
type Chunker struct {
	cfg  *config.ChunkingConfig
	acct *token.Accountant
}

// New builds a Chunker over the given config and token accountant.
func New(cfg *config.ChunkingConfig, acct *token.Accountant) *Chunker {
	return &Chunker{cfg: cfg, acct: acct}
}

// Split runs the full pipeline: dedupe, normalize, page split with oversize
// pre-split, grouping toward the group target, per-group dynamic margin, and
// final validation with iterative truncation. Empty input yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	text = Normalize(Dedupe(text, c.cfg.Dedupe))
	if strings.TrimSpace(text) == "" {
		return nil
	}

	effMax := c.cfg.EffectiveMaxTokens()
	target := c.cfg.GroupTarget()

	// 1. Pages, with any oversize page pre-split down to the effective cap.
	var pages []string
	for _, p := range splitPages(text) {
		pages = append(pages, c.splitOversize(p, effMax)...)
	}

	// 2. Greedy grouping toward the target without crossing it.
	groups := c.group(pages, target)

	// 3. Dynamic margin per group; a group over its adjusted cap is split
	// again at the tighter budget.
	var contents []string
	for _, g := range groups {
		tokens := c.acct.Count(g)
		adjusted, info := token.DynamicMargin(g, tokens, effMax)
		if tokens > adjusted {
			slog.Debug("Chunk group over adjusted cap, re-splitting",
				"tokens", tokens,
				"adjusted_max", adjusted,
				"repetition_rate", info.RepetitionRate,
				"total_margin", info.TotalMargin)
			contents = append(contents, c.splitOversize(g, adjusted)...)
		} else {
			contents = append(contents, g)
		}
	}

	// 4. Validation: re-measure with overhead, truncate until fit, drop what
	// cannot fit or is too small to carry signal.
	out := make([]Chunk, 0, len(contents))
	for _, content := range contents {
		content, ok := c.validate(content)
		if !ok {
			slog.Error("Dropping chunk that cannot fit the token budget",
				"max_chunk_tokens", c.cfg.MaxChunkTokens)
			continue
		}
		if len(strings.TrimSpace(content)) < c.cfg.MinChunkChars {
			slog.Debug("Dropping undersized chunk fragment",
				"chars", len(content),
				"min_chunk_chars", c.cfg.MinChunkChars)
			continue
		}
		out = append(out, Chunk{
			Index:           len(out),
			Content:         content,
			Tokens:          c.acct.Count(content),
			SourcePageCount: pageCount(content),
		})
	}
	return out
}

// splitPages cuts text at page sentinels. Each returned page keeps its own
// sentinel line. Text with no sentinel comes back as a single page.
func splitPages(text string) []string {
	lines := strings.Split(text, "\n")
	var pages []string
	var cur []string
	for _, line := range lines {
		if strings.HasPrefix(line, pageStartPrefix) && len(cur) > 0 {
			pages = append(pages, strings.Join(cur, "\n"))
			cur = nil
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		pages = append(pages, strings.Join(cur, "\n"))
	}
	return pages
}

// splitOversize breaks a page that exceeds the token cap, first by paragraph,
// then by line, and in the degenerate case by character truncation at
// cap × 2.5 chars.
func (c *Chunker) splitOversize(page string, budget int) []string {
	if c.acct.Count(page) <= budget {
		return []string{page}
	}

	var parts []string
	flushJoin := func(acc []string, sep string) []string {
		if len(acc) > 0 {
			parts = append(parts, strings.Join(acc, sep))
		}
		return nil
	}

	var acc []string
	accTokens := 0
	for _, para := range strings.Split(page, "\n\n") {
		pt := c.acct.Count(para)
		if pt > budget {
			acc = flushJoin(acc, "\n\n")
			accTokens = 0
			parts = append(parts, c.splitByLines(para, budget)...)
			continue
		}
		if len(acc) > 0 && accTokens+pt > budget {
			acc = flushJoin(acc, "\n\n")
			accTokens = 0
		}
		acc = append(acc, para)
		accTokens += pt
	}
	flushJoin(acc, "\n\n")
	return parts
}

func (c *Chunker) splitByLines(para string, budget int) []string {
	maxChars := int(float64(budget) * preSplitCharsPerToken)

	var parts []string
	var acc []string
	accTokens := 0
	flush := func() {
		if len(acc) > 0 {
			parts = append(parts, strings.Join(acc, "\n"))
			acc = nil
			accTokens = 0
		}
	}
	for _, line := range strings.Split(para, "\n") {
		lt := c.acct.Count(line)
		if lt > budget {
			flush()
			parts = append(parts, truncateChars(line, maxChars))
			continue
		}
		if len(acc) > 0 && accTokens+lt > budget {
			flush()
		}
		acc = append(acc, line)
		accTokens += lt
	}
	flush()
	return parts
}

// group appends pages into groups while the running token sum stays at or
// under target. A single page over target becomes its own group (the oversize
// pre-split already capped pages at the effective max).
func (c *Chunker) group(pages []string, target int) []string {
	var groups []string
	var acc []string
	accTokens := 0
	flush := func() {
		if len(acc) > 0 {
			groups = append(groups, strings.Join(acc, "\n\n"))
			acc = nil
			accTokens = 0
		}
	}
	for _, p := range pages {
		pt := c.acct.Count(p)
		if len(acc) > 0 && accTokens+pt > target {
			flush()
		}
		acc = append(acc, p)
		accTokens += pt
	}
	flush()
	return groups
}

// validate re-measures a chunk including prompt overheads and truncates it to
// 90% of its length until it fits. Returns false when it cannot fit above the
// truncation floor.
func (c *Chunker) validate(content string) (string, bool) {
	for {
		total := c.acct.Count(content) + c.cfg.SystemPromptOverhead + c.cfg.MessageOverhead
		if total <= c.cfg.MaxChunkTokens {
			return content, true
		}
		next := len(content) * 9 / 10
		if next < minTruncateChars {
			return "", false
		}
		content = truncateChars(content, next)
	}
}

// truncateChars cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateChars(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func pageCount(content string) int {
	n := strings.Count(content, pageStartPrefix)
	if n < 1 {
		return 1
	}
	return n
}

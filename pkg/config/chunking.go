package config

// DedupeScope selects the window within which repeated lines are removed.
type DedupeScope string

const (
	// DedupeScopeDocument removes every repeated line across the whole document.
	DedupeScopeDocument DedupeScope = "document"

	// DedupeScopeConsecutive removes a line only when it repeats the line
	// immediately before it.
	DedupeScopeConsecutive DedupeScope = "consecutive"
)

// IsValid checks if the dedupe scope is a known value
func (s DedupeScope) IsValid() bool {
	return s == DedupeScopeDocument || s == DedupeScopeConsecutive
}

// DedupeConfig controls line-level deduplication applied before chunking.
// Navigation menus and footers repeat on every scraped page; removing them
// early keeps token estimates honest.
type DedupeConfig struct {
	Enabled bool `json:"enabled"`

	// Scope is "document" (default) or "consecutive".
	Scope DedupeScope `json:"scope"`

	// MinLineLength is the shortest line considered for removal. Shorter
	// lines (bullets, numbers, blank separators) always pass through.
	MinLineLength int `json:"min_line_length"`

	// PreserveFirstOccurrence keeps the first copy of a repeated line and
	// drops only the later ones.
	PreserveFirstOccurrence bool `json:"preserve_first_occurrence"`
}

// TokenizerConfig selects how chunk sizes are estimated.
type TokenizerConfig struct {
	// Type names the tokenizer implementation ("tiktoken" or "chars").
	Type string `json:"type"`

	// Model is the model whose encoding is used when Type is "tiktoken".
	Model string `json:"model"`

	// FallbackCharsPerToken is the chars-per-token ratio used when no
	// encoding is available for Model.
	FallbackCharsPerToken int `json:"fallback_chars_per_token"`
}

// ChunkingConfig controls deduplication, token budgeting, and grouping of
// scraped content before it is sent to the LLM. Loaded from chunking.json.
type ChunkingConfig struct {
	// MaxChunkTokens is the raw per-request token budget before overheads
	// and the safety margin are applied.
	MaxChunkTokens int `json:"max_chunk_tokens"`

	// SystemPromptOverhead reserves room for the system prompt.
	SystemPromptOverhead int `json:"system_prompt_overhead"`

	// MessageOverhead reserves room for message framing.
	MessageOverhead int `json:"message_overhead"`

	// SafetyMargin scales the remaining budget down to absorb tokenizer
	// estimation error. Must be in (0, 1].
	SafetyMargin float64 `json:"safety_margin"`

	// GroupTargetTokens biases grouping toward larger chunks (fewer LLM
	// calls) without crossing the effective cap.
	GroupTargetTokens int `json:"group_target_tokens"`

	// MinChunkChars drops fragments too small to carry useful signal.
	MinChunkChars int `json:"min_chunk_chars"`

	Dedupe    DedupeConfig    `json:"dedupe"`
	Tokenizer TokenizerConfig `json:"tokenizer"`
}

// DefaultChunkingConfig returns the built-in chunking defaults.
func DefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		MaxChunkTokens:       20000,
		SystemPromptOverhead: 2500,
		MessageOverhead:      200,
		SafetyMargin:         0.85,
		GroupTargetTokens:    12000,
		MinChunkChars:        500,
		Dedupe: DedupeConfig{
			Enabled:                 true,
			Scope:                   DedupeScopeDocument,
			MinLineLength:           15,
			PreserveFirstOccurrence: true,
		},
		Tokenizer: TokenizerConfig{
			Type:                  "tiktoken",
			Model:                 "gpt-4o-mini",
			FallbackCharsPerToken: 3,
		},
	}
}

// EffectiveMaxTokens is the hard per-chunk budget after subtracting prompt
// overheads and applying the safety margin.
func (c *ChunkingConfig) EffectiveMaxTokens() int {
	budget := c.MaxChunkTokens - c.SystemPromptOverhead - c.MessageOverhead
	return int(float64(budget) * c.SafetyMargin)
}

// GroupTarget returns the grouping target clamped to the effective maximum.
func (c *ChunkingConfig) GroupTarget() int {
	max := c.EffectiveMaxTokens()
	if c.GroupTargetTokens <= 0 || c.GroupTargetTokens > max {
		return max
	}
	return c.GroupTargetTokens
}

// chunkingFileConfig is the raw chunking.json shape. Booleans and
// min_line_length are pointers so an explicit false/zero in the file can be
// told apart from an omitted field.
type chunkingFileConfig struct {
	MaxChunkTokens       int     `json:"max_chunk_tokens"`
	SystemPromptOverhead int     `json:"system_prompt_overhead"`
	MessageOverhead      int     `json:"message_overhead"`
	SafetyMargin         float64 `json:"safety_margin"`
	GroupTargetTokens    int     `json:"group_target_tokens"`
	MinChunkChars        int     `json:"min_chunk_chars"`

	Dedupe *struct {
		Enabled                 *bool  `json:"enabled"`
		Scope                   string `json:"scope"`
		MinLineLength           *int   `json:"min_line_length"`
		PreserveFirstOccurrence *bool  `json:"preserve_first_occurrence"`
	} `json:"dedupe"`

	Tokenizer *struct {
		Type                  string `json:"type"`
		Model                 string `json:"model"`
		FallbackCharsPerToken int    `json:"fallback_chars_per_token"`
	} `json:"tokenizer"`
}

// resolveChunkingConfig applies file values over the built-in defaults.
func resolveChunkingConfig(file *chunkingFileConfig) *ChunkingConfig {
	cfg := DefaultChunkingConfig()
	if file == nil {
		return cfg
	}

	if file.MaxChunkTokens > 0 {
		cfg.MaxChunkTokens = file.MaxChunkTokens
	}
	if file.SystemPromptOverhead > 0 {
		cfg.SystemPromptOverhead = file.SystemPromptOverhead
	}
	if file.MessageOverhead > 0 {
		cfg.MessageOverhead = file.MessageOverhead
	}
	if file.SafetyMargin > 0 {
		cfg.SafetyMargin = file.SafetyMargin
	}
	if file.GroupTargetTokens > 0 {
		cfg.GroupTargetTokens = file.GroupTargetTokens
	}
	if file.MinChunkChars > 0 {
		cfg.MinChunkChars = file.MinChunkChars
	}

	if d := file.Dedupe; d != nil {
		if d.Enabled != nil {
			cfg.Dedupe.Enabled = *d.Enabled
		}
		if d.Scope != "" {
			cfg.Dedupe.Scope = DedupeScope(d.Scope)
		}
		if d.MinLineLength != nil {
			cfg.Dedupe.MinLineLength = *d.MinLineLength
		}
		if d.PreserveFirstOccurrence != nil {
			cfg.Dedupe.PreserveFirstOccurrence = *d.PreserveFirstOccurrence
		}
	}

	if t := file.Tokenizer; t != nil {
		if t.Type != "" {
			cfg.Tokenizer.Type = t.Type
		}
		if t.Model != "" {
			cfg.Tokenizer.Model = t.Model
		}
		if t.FallbackCharsPerToken > 0 {
			cfg.Tokenizer.FallbackCharsPerToken = t.FallbackCharsPerToken
		}
	}

	return cfg
}

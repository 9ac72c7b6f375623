// Package pipeline orchestrates one profile job end to end: optional site
// discovery, scraping, chunking, per-chunk LLM reduction, and assembly of the
// final profile. One Orchestrator instance is shared by all workers; each Run
// owns its per-job state.
package pipeline

import (
	"context"
	"time"

	"github.com/buscafornecedor/profiler/pkg/llm"
	"github.com/buscafornecedor/profiler/pkg/profile"
	"github.com/buscafornecedor/profiler/pkg/scrape"
)

// Pipeline steps, used as timing keys and as the failed_step of a terminal
// failure.
const (
	StepDiscovery = "discovery"
	StepScrape    = "scrape"
	StepChunk     = "chunk"
	StepReduce    = "llm"
	StepTotal     = "total"
)

// Terminal failure kinds. Breaker-open and per-strategy fetch errors are not
// kinds of their own; they surface as an empty scrape.
const (
	KindNoSearchResults    = "no_search_results"
	KindDiscoveryLLMFailed = "discovery_llm_failed"
	KindScrapeEmpty        = "scrape_empty"
	KindReduceInsufficient = "reduce_insufficient"
	KindPipelineTimeout    = "pipeline_timeout"
)

// Job is one profile request. SeedURL empty means the official site must be
// discovered from search results first.
type Job struct {
	CNPJ      string `json:"cnpj"`
	TradeName string `json:"trade_name"`
	LegalName string `json:"legal_name"`
	City      string `json:"city"`
	SeedURL   string `json:"seed_url"`
}

// Result is the terminal outcome of one pipeline run. OK carries the merged
// profile; a failure carries the kind, a short message, and the step that
// failed. Stack traces never leave the process.
type Result struct {
	RunID       string                   `json:"run_id"`
	OK          bool                     `json:"ok"`
	Profile     *profile.Profile         `json:"profile,omitempty"`
	SiteURL     string                   `json:"site_url,omitempty"`
	VisitedURLs []string                 `json:"visited_urls,omitempty"`
	ErrorKind   string                   `json:"error_kind,omitempty"`
	Message     string                   `json:"message,omitempty"`
	FailedStep  string                   `json:"failed_step,omitempty"`
	Timings     map[string]time.Duration `json:"timings"`

	ChunksTotal   int `json:"chunks_total,omitempty"`
	ChunksReduced int `json:"chunks_reduced,omitempty"`
}

// stepError is a terminal orchestrator failure with its kind attached.
type stepError struct {
	kind string
	msg  string
}

func (e *stepError) Error() string { return e.msg }

func failStep(kind, msg string) *stepError {
	return &stepError{kind: kind, msg: msg}
}

// Dispatcher is the slice of the LLM dispatcher the orchestrator needs.
// *llm.Dispatcher satisfies it.
type Dispatcher interface {
	Call(ctx context.Context, provider string, msgs []llm.Message, opts llm.CallOptions) (string, time.Duration, error)
	CallWithRetry(ctx context.Context, provider string, msgs []llm.Message, opts llm.CallOptions) (string, time.Duration, error)
	BestProvider(p llm.Priority, estimatedTokens int) (string, error)
	ProvidersFor(p llm.Priority) []string
}

// SiteScraper fetches a site's main page plus its highest-scored subpages.
// *scrape.Scraper satisfies it.
type SiteScraper interface {
	Scrape(ctx context.Context, pageURL string) *scrape.Result
}

// URLProber resolves the live variation of a candidate URL.
// *scrape.Prober satisfies it.
type URLProber interface {
	Probe(ctx context.Context, rawURL string) (string, error)
}


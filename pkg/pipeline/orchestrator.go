package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/buscafornecedor/profiler/pkg/chunk"
	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/llm"
	"github.com/buscafornecedor/profiler/pkg/observe"
	"github.com/buscafornecedor/profiler/pkg/profile"
	"github.com/buscafornecedor/profiler/pkg/search"
	"github.com/buscafornecedor/profiler/pkg/token"
)

// searchResultsPerQuery is how many organic results each discovery query asks
// the search backend for.
const searchResultsPerQuery = 10

// reduceTemperature keeps extraction deterministic-ish across chunks.
const reduceTemperature = 0.1

// Deps are the collaborators one Orchestrator shares across jobs.
type Deps struct {
	Dispatcher Dispatcher
	Searcher   search.Searcher
	Scraper    SiteScraper
	Prober     URLProber
	Chunker    *chunk.Chunker
	Accountant *token.Accountant
	Metrics    *observe.Metrics
}

// Orchestrator runs profile jobs through the pipeline state machine:
// START -> (DISCOVER?) -> SCRAPE -> CHUNK -> REDUCE -> ASSEMBLE -> END.
type Orchestrator struct {
	cfg        *config.PipelineConfig
	jobTimeout time.Duration
	deps       Deps
}

// New builds an orchestrator. jobTimeout bounds one whole run wall-clock.
func New(cfg *config.PipelineConfig, jobTimeout time.Duration, deps Deps) *Orchestrator {
	return &Orchestrator{cfg: cfg, jobTimeout: jobTimeout, deps: deps}
}

// Run executes one job to a terminal Result. It never returns an error: every
// failure mode maps to a Result with an error kind and the step that failed.
func (o *Orchestrator) Run(ctx context.Context, job Job) *Result {
	start := time.Now()
	res := &Result{
		RunID:   uuid.NewString(),
		Timings: make(map[string]time.Duration),
	}

	ctx, cancel := context.WithTimeout(ctx, o.jobTimeout)
	defer cancel()

	o.deps.Metrics.JobStarted(ctx)
	defer o.deps.Metrics.JobFinished(ctx)

	log := slog.With("run_id", res.RunID, "cnpj", job.CNPJ)
	log.Info("Profile job started",
		"trade_name", job.TradeName, "city", job.City, "seed_url", job.SeedURL)

	siteURL := strings.TrimSpace(job.SeedURL)
	if siteURL == "" {
		stepStart := time.Now()
		discovered, serr := o.discover(ctx, log, job)
		res.Timings[StepDiscovery] = time.Since(stepStart)
		if serr != nil {
			return o.fail(ctx, log, res, start, StepDiscovery, serr)
		}
		siteURL = discovered
	}
	res.SiteURL = siteURL
	log = log.With("url", siteURL)

	stepStart := time.Now()
	scraped := o.deps.Scraper.Scrape(ctx, siteURL)
	res.Timings[StepScrape] = time.Since(stepStart)
	o.deps.Metrics.RecordScrape(ctx, res.Timings[StepScrape])
	res.VisitedURLs = scraped.VisitedURLs
	if strings.TrimSpace(scraped.AggregatedText) == "" {
		return o.fail(ctx, log, res, start, StepScrape,
			failStep(KindScrapeEmpty, "all fetch strategies produced no content"))
	}
	log.Info("Site scraped",
		"visited", len(scraped.VisitedURLs),
		"chars", len(scraped.AggregatedText),
		"pdf_links", len(scraped.PDFLinks))

	stepStart = time.Now()
	chunks := o.deps.Chunker.Split(scraped.AggregatedText)
	res.Timings[StepChunk] = time.Since(stepStart)
	res.ChunksTotal = len(chunks)
	o.deps.Metrics.AddChunks(ctx, len(chunks))
	if len(chunks) == 0 {
		return o.fail(ctx, log, res, start, StepChunk,
			failStep(KindScrapeEmpty, "scraped content too thin to chunk"))
	}

	stepStart = time.Now()
	parts, reduced, serr := o.reduce(ctx, log, chunks)
	res.Timings[StepReduce] = time.Since(stepStart)
	res.ChunksReduced = reduced
	if serr != nil {
		return o.fail(ctx, log, res, start, StepReduce, serr)
	}

	merged := profile.Merge(parts)
	if merged.Contato.URLSite == "" {
		merged.Contato.URLSite = siteURL
	}
	merged.Fontes = appendMissing(merged.Fontes, scraped.VisitedURLs)

	res.OK = true
	res.Profile = merged
	res.Timings[StepTotal] = time.Since(start)
	o.deps.Metrics.RecordJobOutcome(ctx, "ok", res.Timings[StepTotal])
	o.logTimings(log, res, "Profile job complete")
	return res
}

// fail finalizes res as a terminal failure. A deadline that ran out along the
// way supersedes the step's own kind.
func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, res *Result, start time.Time, step string, serr *stepError) *Result {
	kind := KindPipelineTimeout
	msg := "job deadline exceeded during " + step
	if ctx.Err() == nil {
		kind = serr.kind
		msg = serr.msg
	}

	res.OK = false
	res.ErrorKind = kind
	res.Message = msg
	res.FailedStep = step
	res.Timings[StepTotal] = time.Since(start)
	o.deps.Metrics.RecordJobOutcome(ctx, kind, res.Timings[StepTotal])
	o.logTimings(log, res, "Profile job failed")
	return res
}

func (o *Orchestrator) logTimings(log *slog.Logger, res *Result, msg string) {
	attrs := []any{"ok", res.OK}
	for _, step := range []string{StepDiscovery, StepScrape, StepChunk, StepReduce, StepTotal} {
		if d, ok := res.Timings[step]; ok {
			attrs = append(attrs, step+"_ms", d.Milliseconds())
		}
	}
	if !res.OK {
		attrs = append(attrs, "error_kind", res.ErrorKind, "failed_step", res.FailedStep)
	}
	log.Info(msg, attrs...)
}

// discover finds the official site: search, blacklist filter, HIGH-priority
// LLM decision with one retry on a backup provider, then a liveness probe of
// the chosen URL.
func (o *Orchestrator) discover(ctx context.Context, log *slog.Logger, job Job) (string, *stepError) {
	queries := search.BuildQueries(job.TradeName, job.LegalName, job.City)
	if len(queries) == 0 {
		return "", failStep(KindNoSearchResults, "job carries no company name to search for")
	}

	var raw []search.Result
	for _, q := range queries {
		results, err := o.deps.Searcher.Search(ctx, q, searchResultsPerQuery)
		if err != nil {
			log.Warn("Search query failed", "query", q, "error", err)
			continue
		}
		raw = append(raw, results...)
	}

	candidates := search.FilterResults(raw)
	if len(candidates) == 0 {
		return "", failStep(KindNoSearchResults, "no usable search results after filtering")
	}
	log.Info("Discovery candidates", "queries", len(queries), "candidates", len(candidates))

	content, err := o.discoveryDecision(ctx, log, job, candidates)
	if err != nil {
		return "", failStep(KindDiscoveryLLMFailed, err.Error())
	}

	url, found, err := profile.ParseDiscovery(content)
	if err != nil {
		return "", failStep(KindDiscoveryLLMFailed, err.Error())
	}
	if !found {
		return "", failStep(KindNoSearchResults, "no official site among the search results")
	}

	probed, err := o.deps.Prober.Probe(ctx, url)
	if err != nil {
		// Let the scrape step surface the failure against the raw URL.
		log.Warn("URL probe found no live variation", "url", url, "error", err)
		return url, nil
	}
	return probed, nil
}

// discoveryDecision asks a HIGH-tier provider to pick the official site,
// retrying once on a backup provider.
func (o *Orchestrator) discoveryDecision(ctx context.Context, log *slog.Logger, job Job, candidates []search.Result) (string, error) {
	prompt := fmt.Sprintf(profile.DiscoveryPrompt,
		job.LegalName, job.TradeName, job.City, formatCandidates(candidates))
	msgs := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	estimated := o.deps.Accountant.CountMessages(llm.Contents(msgs))

	primary, err := o.deps.Dispatcher.BestProvider(llm.PriorityHigh, estimated)
	if err != nil {
		return "", err
	}

	content, callErr := o.highCall(ctx, primary, msgs)
	if callErr == nil {
		return content, nil
	}
	log.Warn("Discovery call failed on primary provider",
		"provider", primary, "error", callErr)

	backup := ""
	for _, name := range o.deps.Dispatcher.ProvidersFor(llm.PriorityHigh) {
		if name != primary {
			backup = name
			break
		}
	}
	if backup == "" {
		return "", callErr
	}

	content, callErr = o.highCall(ctx, backup, msgs)
	if callErr != nil {
		return "", fmt.Errorf("backup provider %s: %w", backup, callErr)
	}
	return content, nil
}

func (o *Orchestrator) highCall(ctx context.Context, provider string, msgs []llm.Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.DiscoveryLLMTimeout)
	defer cancel()
	content, _, err := o.deps.Dispatcher.Call(callCtx, provider, msgs, llm.CallOptions{
		Temperature: reduceTemperature,
		JSONFormat:  true,
		Priority:    llm.PriorityHigh,
	})
	return content, err
}

func formatCandidates(results []search.Result) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.Link, r.Snippet)
	}
	return b.String()
}

// reduce runs the per-chunk extraction calls with bounded parallelism. Chunk
// order is preserved: parts[i] is chunk i's partial profile or nil.
func (o *Orchestrator) reduce(ctx context.Context, log *slog.Logger, chunks []chunk.Chunk) ([]*profile.Profile, int, *stepError) {
	system := profile.SystemPromptSingle
	if len(chunks) > 1 {
		system = profile.SystemPromptMulti
	}

	concurrency := o.cfg.ReduceConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	parts := make([]*profile.Profile, len(chunks))
	var wg sync.WaitGroup

	for i, c := range chunks {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(idx int, c chunk.Chunk) {
			defer wg.Done()
			defer sem.Release(1)

			part, err := o.reduceChunk(ctx, system, c)
			if err != nil {
				log.Warn("Chunk reduction failed", "chunk", idx, "error", err)
				return
			}
			parts[idx] = part
		}(i, c)
	}
	wg.Wait()

	reduced := 0
	for _, p := range parts {
		if p != nil {
			reduced++
		}
	}
	ratio := float64(reduced) / float64(len(chunks))
	if ratio < o.cfg.MinChunkSuccessRatio {
		return nil, reduced, failStep(KindReduceInsufficient,
			fmt.Sprintf("only %d of %d chunks reduced successfully", reduced, len(chunks)))
	}
	log.Info("Chunks reduced", "total", len(chunks), "succeeded", reduced)
	return parts, reduced, nil
}

func (o *Orchestrator) reduceChunk(ctx context.Context, system string, c chunk.Chunk) (*profile.Profile, error) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: c.Content},
	}
	estimated := o.deps.Accountant.CountMessages(llm.Contents(msgs))

	provider, err := o.deps.Dispatcher.BestProvider(llm.PriorityNormal, estimated)
	if err != nil {
		return nil, err
	}

	content, _, err := o.deps.Dispatcher.CallWithRetry(ctx, provider, msgs, llm.CallOptions{
		Temperature: reduceTemperature,
		JSONFormat:  true,
		Priority:    llm.PriorityNormal,
	})
	if err != nil {
		return nil, err
	}
	return profile.Parse(content)
}

// appendMissing unions add into base, case-insensitively, preserving order.
func appendMissing(base, add []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, b := range base {
		seen[strings.ToLower(b)] = struct{}{}
	}
	for _, a := range add {
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		base = append(base, a)
	}
	return base
}

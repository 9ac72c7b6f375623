// Package scrape fetches company sites with a strategy cascade (headless
// render, impersonated TLS, curl), scores and fetches relevant subpages, and
// aggregates everything into sentinel-wrapped text for the chunker. Failing
// domains are cut off by a per-domain circuit breaker.
package scrape

import (
	"context"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/sync/semaphore"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/observe"
)

// Result is one completed site scrape. A terminal failure is the zero value:
// empty text and no visited URLs.
type Result struct {
	AggregatedText string
	PDFLinks       []string
	VisitedURLs    []string

	// PageLatencies maps each visited URL to its fetch duration.
	PageLatencies map[string]time.Duration
}

// Scraper runs whole-site scrapes. One instance is shared process-wide: the
// site semaphore, breaker registry, and proxy ring are global state.
type Scraper struct {
	cfg      *config.ScraperConfig
	fetcher  Fetcher
	breakers *BreakerRegistry
	proxies  *ProxyRing
	siteSem  *semaphore.Weighted
	metrics  *observe.Metrics
}

// New builds a Scraper. fetcher nil selects the production HTTP fetcher;
// metrics may be nil.
func New(cfg *config.ScraperConfig, fetcher Fetcher, metrics *observe.Metrics) *Scraper {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(cfg)
	}
	return &Scraper{
		cfg:      cfg,
		fetcher:  fetcher,
		breakers: NewBreakerRegistry(cfg.BreakerThreshold, cfg.BreakerCooldown),
		proxies:  NewProxyRing(cfg.Proxies),
		siteSem:  semaphore.NewWeighted(int64(cfg.SiteConcurrency)),
		metrics:  metrics,
	}
}

// Breakers exposes the breaker registry (admin API and tests).
func (s *Scraper) Breakers() *BreakerRegistry {
	return s.breakers
}

// Scrape fetches pageURL and its highest-scoring subpages. All main-page
// strategies failing yields an empty Result, never an error: the orchestrator
// turns that into its scrape_empty outcome. Subpage failures are swallowed
// into counters.
func (s *Scraper) Scrape(ctx context.Context, pageURL string) *Result {
	start := time.Now()
	defer func() {
		s.metrics.RecordScrape(ctx, time.Since(start))
	}()

	if !s.siteSem.TryAcquire(1) {
		slog.Warn("Site semaphore full, waiting", "url", pageURL)
		s.metrics.RecordSiteWait(ctx)
		if err := s.siteSem.Acquire(ctx, 1); err != nil {
			return &Result{}
		}
	}
	defer s.siteSem.Release(1)

	res := &Result{PageLatencies: make(map[string]time.Duration)}

	mainStart := time.Now()
	page, finalURL, ok := s.fetchMain(ctx, pageURL)
	if !ok {
		return &Result{}
	}
	res.PageLatencies[finalURL] = time.Since(mainStart)
	res.VisitedURLs = append(res.VisitedURLs, finalURL)

	aggregated := []string{WrapPage(finalURL, page.Text)}
	pdfs := newStringSet(page.DocumentLinks)

	targets := ScoreLinks(page.InternalLinks, finalURL, s.cfg.ScoreFloor)
	if len(targets) > s.cfg.MaxSubpages {
		targets = targets[:s.cfg.MaxSubpages]
	}
	slog.Info("Main page scraped",
		"url", finalURL,
		"links_found", len(page.InternalLinks),
		"subpages_selected", len(targets))

	// Fresh proxy for the whole subpage batch; bounded parallelism separate
	// from the site-level semaphore.
	type subResult struct {
		page    Page
		latency time.Duration
		ok      bool
	}
	results := make([]subResult, len(targets))
	batchProxy := s.proxies.Next()
	sem := semaphore.NewWeighted(int64(s.cfg.SubpageConcurrency))
	var wg sync.WaitGroup
	for i, sub := range targets {
		wg.Add(1)
		go func(i int, sub string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			subStart := time.Now()
			p, ok := s.fetchSubpage(ctx, sub, batchProxy)
			results[i] = subResult{page: p, latency: time.Since(subStart), ok: ok}
		}(i, sub)
	}
	wg.Wait()

	failed := 0
	for i, r := range results {
		if !r.ok {
			failed++
			continue
		}
		aggregated = append(aggregated, WrapPage(targets[i], r.page.Text))
		res.VisitedURLs = append(res.VisitedURLs, targets[i])
		res.PageLatencies[targets[i]] = r.latency
		pdfs.add(r.page.DocumentLinks)
	}
	if failed > 0 {
		slog.Debug("Subpage fetch failures swallowed",
			"url", finalURL, "failed", failed, "attempted", len(targets))
	}

	res.AggregatedText = strings.Join(aggregated, "\n")
	res.PDFLinks = pdfs.sorted()
	return res
}

// fetchMain runs the full cascade on the main page: render, impersonate,
// curl, then the www variation on whatever strategy order remains. Returns
// the extracted page, the URL that actually answered, and success.
func (s *Scraper) fetchMain(ctx context.Context, pageURL string) (Page, string, bool) {
	host := hostOf(pageURL)
	if !s.breakers.Allow(host) {
		slog.Warn("Skipping scrape, circuit open", "host", host)
		s.metrics.RecordBreakerSkip(ctx, host)
		return Page{}, "", false
	}

	if page, ok := s.cascade(ctx, pageURL, true); ok {
		s.breakers.RecordSuccess(host)
		return page, pageURL, true
	}

	// www <-> non-www variation as the last resort, curl only.
	if variant := wwwVariant(pageURL); variant != "" {
		slog.Warn("Main page failed, trying host variation",
			"url", pageURL, "variant", variant)
		if page, ok := s.tryStrategy(ctx, "curl", variant, s.proxies.Next()); ok {
			s.breakers.RecordSuccess(hostOf(variant))
			return page, variant, true
		}
	}

	s.breakers.RecordFailure(host)
	return Page{}, "", false
}

// cascade tries the strategies in order. Rendering applies to main pages
// only; subpages go straight to the cheaper strategies.
func (s *Scraper) cascade(ctx context.Context, pageURL string, render bool) (Page, bool) {
	if render {
		if page, ok := s.tryStrategy(ctx, "render", pageURL, s.proxies.Next()); ok {
			return page, true
		}
	}
	if page, ok := s.tryStrategy(ctx, "impersonate", pageURL, s.proxies.Next()); ok {
		return page, true
	}
	return s.tryStrategy(ctx, "curl", pageURL, s.proxies.Next())
}

func (s *Scraper) fetchSubpage(ctx context.Context, pageURL, proxy string) (Page, bool) {
	host := hostOf(pageURL)
	if !s.breakers.Allow(host) {
		s.metrics.RecordBreakerSkip(ctx, host)
		return Page{}, false
	}

	if page, ok := s.tryStrategy(ctx, "impersonate", pageURL, proxy); ok {
		s.breakers.RecordSuccess(host)
		return page, true
	}
	if page, ok := s.tryStrategy(ctx, "curl", pageURL, proxy); ok {
		s.breakers.RecordSuccess(host)
		return page, true
	}
	s.breakers.RecordFailure(host)
	return Page{}, false
}

// tryStrategy runs one fetch strategy and extracts the page. Success means
// real content: extraction produced text above the soft-404 threshold.
func (s *Scraper) tryStrategy(ctx context.Context, strategy, pageURL, proxy string) (Page, bool) {
	var html string
	var err error
	switch strategy {
	case "render":
		html, err = s.fetcher.Render(ctx, pageURL, proxy)
	case "impersonate":
		html, err = s.fetcher.Impersonate(ctx, pageURL, proxy)
	default:
		html, err = s.fetcher.Curl(ctx, pageURL, proxy)
	}
	if err != nil {
		slog.Debug("Fetch strategy failed",
			"strategy", strategy, "url", pageURL, "error", err)
		s.metrics.RecordPageFetch(ctx, strategy, "error")
		return Page{}, false
	}

	page := ExtractPage(html, pageURL)
	if strategy == "render" {
		// Rendered pages go through markdown conversion, which preserves
		// structure (headings, lists) that plain text extraction flattens.
		if md, mdErr := htmltomarkdown.ConvertString(html); mdErr == nil && strings.TrimSpace(md) != "" {
			page.Text = md
		}
	}

	if IsSoft404(page.Text, s.cfg.MinContentChars) {
		s.metrics.RecordPageFetch(ctx, strategy, "soft404")
		return Page{}, false
	}

	s.metrics.RecordPageFetch(ctx, strategy, "ok")
	return page, true
}

func hostOf(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return u.Host
}

// wwwVariant flips the www prefix of the URL's host, returning "" when the
// URL cannot be parsed.
func wwwVariant(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if strings.HasPrefix(u.Host, "www.") {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	} else {
		u.Host = "www." + u.Host
	}
	return u.String()
}

type stringSet map[string]struct{}

func newStringSet(items []string) stringSet {
	s := make(stringSet)
	s.add(items)
	return s
}

func (s stringSet) add(items []string) {
	for _, i := range items {
		s[i] = struct{}{}
	}
}

func (s stringSet) sorted() []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

package scrape

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// fakeFetcher serves canned HTML per strategy and records every call.
type fakeFetcher struct {
	mu          sync.Mutex
	render      map[string]string
	impersonate map[string]string
	curl        map[string]string
	calls       []string
}

func (f *fakeFetcher) serve(table map[string]string, strategy, pageURL string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, strategy+" "+pageURL)
	f.mu.Unlock()
	if html, ok := table[pageURL]; ok {
		return html, nil
	}
	return "", fmt.Errorf("%s: no route for %s", strategy, pageURL)
}

func (f *fakeFetcher) Render(_ context.Context, pageURL, _ string) (string, error) {
	return f.serve(f.render, "render", pageURL)
}

func (f *fakeFetcher) Impersonate(_ context.Context, pageURL, _ string) (string, error) {
	return f.serve(f.impersonate, "impersonate", pageURL)
}

func (f *fakeFetcher) Curl(_ context.Context, pageURL, _ string) (string, error) {
	return f.serve(f.curl, "curl", pageURL)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func scraperConfig() *config.ScraperConfig {
	cfg := config.DefaultScraperConfig()
	cfg.MinContentChars = 50
	cfg.MaxSubpages = 2
	return cfg
}

// sitePage builds HTML with enough body text to clear the soft-404 check.
func sitePage(title string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body><h1>" + title + "</h1>")
	b.WriteString("<p>" + strings.Repeat("conteudo institucional da empresa ", 5) + "</p>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href=%q>%s</a>`, l, l)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func TestScrapeMainAndSubpages(t *testing.T) {
	main := "https://acme.example"
	fetcher := &fakeFetcher{
		render: map[string]string{
			main: sitePage("ACME", "/sobre", "/produtos", "/login", "/catalogo.pdf"),
		},
		impersonate: map[string]string{
			"https://acme.example/sobre":    sitePage("Sobre"),
			"https://acme.example/produtos": sitePage("Produtos"),
		},
	}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), main)
	require.NotEmpty(t, res.AggregatedText)
	assert.Equal(t, []string{
		main,
		"https://acme.example/produtos",
		"https://acme.example/sobre",
	}, res.VisitedURLs)
	assert.Equal(t, []string{"https://acme.example/catalogo.pdf"}, res.PDFLinks)

	assert.Equal(t, 3, strings.Count(res.AggregatedText, "--- PAGE START: "))
	assert.Contains(t, res.AggregatedText, "--- PAGE START: https://acme.example ---")
	assert.Contains(t, res.AggregatedText, "--- PAGE END ---")
	assert.Len(t, res.PageLatencies, 3)
}

func TestScrapeCascadeFallsBack(t *testing.T) {
	main := "https://acme.example"
	fetcher := &fakeFetcher{
		// Render has no route; impersonation answers.
		impersonate: map[string]string{main: sitePage("ACME")},
	}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), main)
	assert.Equal(t, []string{main}, res.VisitedURLs)
	assert.Contains(t, fetcher.calls, "render "+main)
	assert.Contains(t, fetcher.calls, "impersonate "+main)
}

func TestScrapeSoft404TriggersNextStrategy(t *testing.T) {
	main := "https://acme.example"
	fetcher := &fakeFetcher{
		render:      map[string]string{main: "<html><body>erro 404</body></html>"},
		impersonate: map[string]string{main: sitePage("ACME")},
	}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), main)
	assert.Equal(t, []string{main}, res.VisitedURLs)
}

func TestScrapeWWWVariant(t *testing.T) {
	fetcher := &fakeFetcher{
		curl: map[string]string{"https://www.acme.example": sitePage("ACME")},
	}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), "https://acme.example")
	assert.Equal(t, []string{"https://www.acme.example"}, res.VisitedURLs)
}

func TestScrapeTotalFailureIsEmpty(t *testing.T) {
	fetcher := &fakeFetcher{}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), "https://down.example")
	assert.Empty(t, res.AggregatedText)
	assert.Empty(t, res.VisitedURLs)
	assert.Empty(t, res.PDFLinks)
}

func TestScrapeBreakerTripsAfterRepeatedFailures(t *testing.T) {
	cfg := scraperConfig()
	cfg.BreakerThreshold = 3
	fetcher := &fakeFetcher{}
	s := New(cfg, fetcher, nil)

	for i := 0; i < 3; i++ {
		s.Scrape(context.Background(), "https://down.example")
	}
	before := fetcher.callCount()
	require.Greater(t, before, 0)

	res := s.Scrape(context.Background(), "https://down.example")
	assert.Empty(t, res.VisitedURLs)
	assert.Equal(t, before, fetcher.callCount(), "open circuit skips all fetch strategies")
}

func TestScrapeSubpageFailuresSwallowed(t *testing.T) {
	main := "https://acme.example"
	fetcher := &fakeFetcher{
		render: map[string]string{
			main: sitePage("ACME", "/sobre", "/produtos"),
		},
		impersonate: map[string]string{
			"https://acme.example/sobre": sitePage("Sobre"),
			// /produtos has no route and fails on both strategies.
		},
	}
	s := New(scraperConfig(), fetcher, nil)

	res := s.Scrape(context.Background(), main)
	assert.Equal(t, []string{main, "https://acme.example/sobre"}, res.VisitedURLs)
	assert.NotEmpty(t, res.AggregatedText)
}

func TestProberPicksFastestHealthyVariation(t *testing.T) {
	probe := func(_ context.Context, pageURL string) (int, time.Duration, error) {
		switch {
		case strings.HasPrefix(pageURL, "https://www."):
			return 200, 30 * time.Millisecond, nil
		case strings.HasPrefix(pageURL, "https://"):
			return 301, 5 * time.Millisecond, nil
		default:
			return 0, 0, fmt.Errorf("refused")
		}
	}
	p := NewProber(time.Second, probe)

	best, err := p.Probe(context.Background(), "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "https://www.acme.example", best,
		"2xx beats a faster redirect")
}

func TestProberAllDeadIsError(t *testing.T) {
	probe := func(_ context.Context, _ string) (int, time.Duration, error) {
		return 0, 0, fmt.Errorf("refused")
	}
	p := NewProber(time.Second, probe)

	_, err := p.Probe(context.Background(), "https://down.example")
	assert.Error(t, err)
}

func TestProberCachesResults(t *testing.T) {
	var calls int
	var mu sync.Mutex
	probe := func(_ context.Context, _ string) (int, time.Duration, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return 200, time.Millisecond, nil
	}
	p := NewProber(time.Second, probe)

	first, err := p.Probe(context.Background(), "https://acme.example")
	require.NoError(t, err)
	mu.Lock()
	after := calls
	mu.Unlock()

	second, err := p.Probe(context.Background(), "https://acme.example")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	mu.Lock()
	assert.Equal(t, after, calls, "second probe served from cache")
	mu.Unlock()
}

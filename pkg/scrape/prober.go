package scrape

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// ProbeFunc tests one URL and reports its HTTP status and latency.
type ProbeFunc func(ctx context.Context, pageURL string) (status int, latency time.Duration, err error)

// Prober finds the best reachable variation of a URL: http/https crossed
// with www/non-www, tested in parallel, best by (status < 300, latency).
// Results are cached for the process lifetime.
type Prober struct {
	timeout time.Duration
	probe   ProbeFunc

	mu    sync.Mutex
	cache map[string]string
}

// NewProber builds a Prober with the given per-request timeout. probe nil
// selects the impersonated HEAD-then-GET probe.
func NewProber(timeout time.Duration, probe ProbeFunc) *Prober {
	p := &Prober{timeout: timeout, probe: probe, cache: make(map[string]string)}
	if p.probe == nil {
		p.probe = p.impersonatedProbe
	}
	return p
}

// Probe tests the URL's scheme and www variations concurrently and returns
// the best one. Error when no variation answers below 400.
func (p *Prober) Probe(ctx context.Context, raw string) (string, error) {
	p.mu.Lock()
	if hit, ok := p.cache[raw]; ok {
		p.mu.Unlock()
		return hit, nil
	}
	p.mu.Unlock()

	variations := urlVariations(raw)

	type outcome struct {
		url     string
		status  int
		latency time.Duration
	}
	results := make([]outcome, len(variations))
	var wg sync.WaitGroup
	for i, v := range variations {
		wg.Add(1)
		go func(i int, v string) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			status, latency, err := p.probe(probeCtx, v)
			if err != nil {
				status = 0
			}
			results[i] = outcome{url: v, status: status, latency: latency}
		}(i, v)
	}
	wg.Wait()

	var live []outcome
	for _, r := range results {
		if r.status > 0 && r.status < 400 {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return "", fmt.Errorf("no variation of %s answered", raw)
	}

	sort.Slice(live, func(i, j int) bool {
		iRedir, jRedir := live[i].status >= 300, live[j].status >= 300
		if iRedir != jRedir {
			return !iRedir
		}
		return live[i].latency < live[j].latency
	})

	best := live[0].url
	p.mu.Lock()
	p.cache[raw] = best
	p.mu.Unlock()
	return best, nil
}

// urlVariations generates the scheme and www combinations for a URL, the
// original first, then https before http and www before bare.
func urlVariations(raw string) []string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return []string{raw}
	}
	path := u.Path

	bareHost := strings.TrimPrefix(u.Host, "www.")
	seen := map[string]struct{}{}
	var out []string
	appendUnique := func(v string) {
		v = strings.TrimRight(v, "/")
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}

	appendUnique(raw)
	for _, scheme := range []string{"https", "http"} {
		for _, prefix := range []string{"www.", ""} {
			appendUnique(fmt.Sprintf("%s://%s%s%s", scheme, prefix, bareHost, path))
		}
	}
	return out
}

// impersonatedProbe issues a HEAD with the Chrome TLS fingerprint and falls
// back to GET for servers that reject HEAD.
func (p *Prober) impersonatedProbe(ctx context.Context, pageURL string) (int, time.Duration, error) {
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(int(p.timeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithInsecureSkipVerify(),
	)
	if err != nil {
		return 0, 0, err
	}

	for _, method := range []string{fhttp.MethodHead, fhttp.MethodGet} {
		req, err := fhttp.NewRequestWithContext(ctx, method, pageURL, nil)
		if err != nil {
			return 0, 0, err
		}
		req.Header.Set("User-Agent", chromeUserAgent)

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if method == fhttp.MethodHead && resp.StatusCode >= 400 {
			// Some servers 405 on HEAD; let GET decide.
			continue
		}
		return resp.StatusCode, time.Since(start), nil
	}
	return 0, 0, fmt.Errorf("probe %s: no response", pageURL)
}

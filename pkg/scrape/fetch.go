package scrape

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/chromedp/chromedp"

	"github.com/buscafornecedor/profiler/pkg/config"
)

// chromeUserAgent matches the TLS fingerprint profile used by the
// impersonated client, so both strategies present the same browser.
const chromeUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// browserHeaders imitate a real navigation request. WAFs key on their
// presence and ordering.
var browserHeaders = map[string]string{
	"User-Agent":                chromeUserAgent,
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
	"Accept-Language":           "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Accept-Encoding":           "gzip, deflate, br",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-User":            "?1",
	"Cache-Control":             "max-age=0",
}

// Fetcher is the raw page retrieval seam: one method per cascade strategy.
// All three return the raw HTML body.
type Fetcher interface {
	Render(ctx context.Context, pageURL, proxy string) (string, error)
	Impersonate(ctx context.Context, pageURL, proxy string) (string, error)
	Curl(ctx context.Context, pageURL, proxy string) (string, error)
}

// httpFetcher is the production Fetcher: a headless Chrome render, a
// Chrome-fingerprinted TLS client, and a curl subprocess as the strategy of
// last resort.
type httpFetcher struct {
	cfg *config.ScraperConfig
}

// NewHTTPFetcher builds the production fetcher.
func NewHTTPFetcher(cfg *config.ScraperConfig) Fetcher {
	return &httpFetcher{cfg: cfg}
}

// Render loads the page in headless Chrome and returns the post-JavaScript
// DOM, which is what SPA sites need.
func (f *httpFetcher) Render(ctx context.Context, pageURL, proxy string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.RenderTimeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(chromeUserAgent),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return html, nil
}

// Impersonate fetches the page with a Chrome TLS fingerprint, which clears
// most WAF and anti-bot filters that reject Go's native TLS stack.
func (f *httpFetcher) Impersonate(ctx context.Context, pageURL, proxy string) (string, error) {
	opts := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(int(f.cfg.RequestTimeout.Seconds())),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithInsecureSkipVerify(),
	}
	if proxy != "" {
		opts = append(opts, tls_client.WithProxyUrl(proxy))
	}

	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), opts...)
	if err != nil {
		return "", fmt.Errorf("impersonated client: %w", err)
	}

	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("impersonated fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("impersonated fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Curl shells out to the system curl binary, first with the full browser
// identity, then once more with a bare Mozilla/5.0 user agent. Some servers
// that fingerprint every HTTP library still answer plain curl.
func (f *httpFetcher) Curl(ctx context.Context, pageURL, proxy string) (string, error) {
	maxTime := strconv.Itoa(int(f.cfg.RequestTimeout.Seconds()))

	base := []string{"-L", "-k", "-s", "--compressed", "--max-time", maxTime}
	if proxy != "" {
		base = append(base, "-x", proxy)
	}

	full := append(append([]string{}, base...), "-A", chromeUserAgent, pageURL)
	out, err := exec.CommandContext(ctx, "curl", full...).Output()
	if err == nil && len(strings.TrimSpace(string(out))) > 0 {
		return string(out), nil
	}

	simple := append(append([]string{}, base...), "-A", "Mozilla/5.0", pageURL)
	out, err = exec.CommandContext(ctx, "curl", simple...).Output()
	if err != nil {
		return "", fmt.Errorf("curl fetch %s: %w", pageURL, err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return "", fmt.Errorf("curl fetch %s: empty body", pageURL)
	}
	return string(out), nil
}

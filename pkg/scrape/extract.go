package scrape

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Sentinels wrapping each page in the aggregated output. The chunker splits
// on the start sentinel.
const (
	pageStartFormat = "--- PAGE START: %s ---\n%s\n--- PAGE END ---"
)

// documentExtensions are downloadable documents worth reporting separately.
var documentExtensions = []string{".pdf", ".doc", ".docx", ".ppt", ".pptx"}

// excludedExtensions are assets and media that are never HTML pages.
var excludedExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".bmp", ".tiff",
	".zip", ".rar", ".tar", ".gz", ".xls", ".xlsx", ".csv", ".txt", ".xml",
	".json", ".js", ".css",
	".mp4", ".mp3", ".avi", ".mov", ".wmv", ".flv", ".webm",
	".woff", ".woff2", ".ttf", ".eot", ".otf",
}

// error404Keywords mark soft-404 pages that answer 200 with an error body.
var error404Keywords = []string{
	"404 not found", "page not found", "página não encontrada",
	"erro 404", "não encontramos a página", "página inexistente",
	"error 404", "file not found",
}

// Page is the extraction result for one fetched HTML document.
type Page struct {
	Text          string
	DocumentLinks []string
	InternalLinks []string
}

// ExtractPage parses HTML, strips non-content elements, and returns the
// visible text plus same-domain links and document links resolved against
// pageURL. A broken document yields an empty Page, never an error: extraction
// failures are treated like empty pages by the cascade.
func ExtractPage(html, pageURL string) Page {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Page{}
	}

	doc.Find("script, style, noscript, iframe, svg, nav, footer").Remove()

	var lines []string
	for _, raw := range strings.Split(doc.Text(), "\n") {
		if l := strings.TrimSpace(raw); l != "" {
			lines = append(lines, l)
		}
	}

	docLinks, internal := extractLinks(doc, pageURL)
	return Page{
		Text:          strings.Join(lines, "\n"),
		DocumentLinks: docLinks,
		InternalLinks: internal,
	}
}

func extractLinks(doc *goquery.Document, pageURL string) (documents, internal []string) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, nil
	}

	seenDoc := make(map[string]struct{})
	seenInt := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		// Trailing commas show up in hand-written href attributes and break
		// resolution downstream.
		href = strings.TrimRight(strings.TrimSpace(href), ",")
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		full := base.ResolveReference(ref)
		full.Fragment = ""
		link := strings.TrimRight(full.String(), ",")
		if link == "" || link == pageURL {
			return
		}

		pathLower := strings.ToLower(full.Path)
		switch {
		case hasAnySuffix(pathLower, documentExtensions):
			if _, ok := seenDoc[link]; !ok {
				seenDoc[link] = struct{}{}
				documents = append(documents, link)
			}
		case hasAnySuffix(pathLower, excludedExtensions):
		case full.Host == base.Host:
			if mediaInQuery(full.RawQuery) {
				return
			}
			if _, ok := seenInt[link]; !ok {
				seenInt[link] = struct{}{}
				internal = append(internal, link)
			}
		}
	})
	return documents, internal
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func mediaInQuery(query string) bool {
	q := strings.ToLower(query)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".svg"} {
		if strings.Contains(q, ext) {
			return true
		}
	}
	return false
}

// IsSoft404 reports whether text looks like an error page served with a
// success status: either too short to be real content or carrying a known
// 404 phrase in a short body.
func IsSoft404(text string, minContentChars int) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < minContentChars {
		return true
	}
	if len(trimmed) > 1000 {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, k := range error404Keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// WrapPage frames extracted text with the page sentinels consumed by the
// chunker.
func WrapPage(pageURL, text string) string {
	return fmt.Sprintf(pageStartFormat, pageURL, text)
}

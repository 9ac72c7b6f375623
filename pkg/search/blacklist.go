package search

import (
	"net/url"
	"strings"
)

// blacklistDomains are domains that can never be a company's own site:
// business data aggregators, social networks, marketplaces, and caches.
var blacklistDomains = map[string]struct{}{
	// Business data aggregators
	"econodata.com.br": {}, "cnpj.biz": {}, "cnpja.com": {}, "cnpj.info": {},
	"cnpjs.rocks": {}, "casadosdados.com.br": {}, "empresascnpj.com": {},
	"consultacnpj.com": {}, "informecadastral.com.br": {},
	"cadastroempresa.com.br": {}, "transparencia.cc": {},
	"listamais.com.br": {}, "solutudo.com.br": {}, "telelistas.net": {},
	"apontador.com.br": {}, "guiamais.com.br": {}, "construtora.net.br": {},
	"b2bleads.com.br": {}, "empresas.serasaexperian.com.br": {},
	"jusbrasil.com.br": {}, "jusdados.com": {},
	// Social networks
	"facebook.com": {}, "instagram.com": {}, "linkedin.com": {},
	"youtube.com": {}, "twitter.com": {}, "x.com": {}, "tiktok.com": {},
	"pinterest.com": {}, "threads.net": {},
	// Marketplaces
	"mercadolivre.com.br": {}, "shopee.com.br": {}, "olx.com.br": {},
	"amazon.com.br": {}, "magazineluiza.com.br": {}, "americanas.com.br": {},
	// Caches and translators
	"translate.google.com": {}, "webcache.googleusercontent.com": {},
}

// IsBlacklisted reports whether link points at a domain that cannot be a
// company site. Mobile and www prefixes are normalized away; subdomains of a
// blacklisted domain are blacklisted too.
func IsBlacklisted(link string) bool {
	if link == "" {
		return false
	}
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Hostname())
	for _, prefix := range []string{"www.", "m.", "mobile."} {
		host = strings.TrimPrefix(host, prefix)
	}

	if _, ok := blacklistDomains[host]; ok {
		return true
	}
	for d := range blacklistDomains {
		if strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// FilterResults removes duplicate links and blacklisted domains, preserving
// order.
func FilterResults(results []Result) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Link == "" {
			continue
		}
		if _, dup := seen[r.Link]; dup {
			continue
		}
		seen[r.Link] = struct{}{}
		if IsBlacklisted(r.Link) {
			continue
		}
		out = append(out, r)
	}
	return out
}

package scrape

import (
	"net/url"
	"sort"
	"strings"
)

// highPriorityKeywords mark URLs likely to carry company identity, offerings,
// or trust content on Brazilian B2B sites.
var highPriorityKeywords = []string{
	"quem-somos", "sobre", "institucional",
	"portfolio", "produto", "servico", "solucoes", "atuacao", "tecnologia",
	"catalogo", "catalogo-digital", "catalogo-online", "produtos", "servicos",
	"clientes", "cases", "projetos", "obras", "certificacoes", "premios", "parceiros",
	"equipe", "time", "lideranca", "contato", "fale-conosco", "unidades",
}

// lowPriorityKeywords mark navigational junk with no profile signal.
var lowPriorityKeywords = []string{
	"login", "signin", "cart", "policy", "blog", "news", "politica-privacidade", "termos",
}

// paginationHints give catalog pagination links a boost, unless the link
// already scored as junk.
var paginationHints = []string{"page", "p=", "pagina", "nav"}

// ScoreLinks ranks candidate subpage links by relevance: +50 for an identity
// or offerings keyword, -100 for navigational junk, +30 for pagination, minus
// the path depth. Links at or below floor are dropped, the rest come back
// best-first. Ties break lexicographically so selection is deterministic.
func ScoreLinks(links []string, baseURL string, floor int) []string {
	type scored struct {
		link  string
		score int
	}

	base := strings.TrimRight(baseURL, "/")
	var out []scored
	for _, l := range links {
		l = strings.TrimRight(strings.TrimSpace(l), ",")
		if l == "" || strings.TrimRight(l, "/") == base {
			continue
		}

		s := 0
		lower := strings.ToLower(l)
		junk := containsAny(lower, lowPriorityKeywords)
		if junk {
			s -= 100
		}
		if containsAny(lower, highPriorityKeywords) {
			s += 50
		}
		if u, err := url.Parse(l); err == nil {
			s -= len(strings.Split(u.Path, "/"))
		}
		if !junk && containsAny(lower, paginationHints) {
			s += 30
		}

		if s > floor {
			out = append(out, scored{link: l, score: s})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].link < out[j].link
	})

	ranked := make([]string, len(out))
	for i, s := range out {
		ranked[i] = s.link
	}
	return ranked
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<html>
<head><title>ACME</title><style>body{color:red}</style></head>
<body>
<nav><a href="/menu">Menu</a>Navegacao do site</nav>
<script>console.log("tracking")</script>
<h1>ACME Plasticos Industriais</h1>
<p>Fabricante de embalagens plasticas para o setor alimenticio.</p>
<a href="/sobre">Sobre</a>
<a href="/produtos">Produtos</a>
<a href="/catalogo.pdf">Catalogo</a>
<a href="/logo.png">Logo</a>
<a href="https://outra-empresa.example/parceria">Parceiro</a>
<a href="#topo">Topo</a>
<a href="javascript:void(0)">Abrir</a>
<footer>Copyright ACME</footer>
</body>
</html>`

func TestExtractPage(t *testing.T) {
	page := ExtractPage(sampleHTML, "https://acme.example")

	assert.Contains(t, page.Text, "ACME Plasticos Industriais")
	assert.Contains(t, page.Text, "embalagens plasticas")
	assert.NotContains(t, page.Text, "tracking", "script content removed")
	assert.NotContains(t, page.Text, "color:red", "style content removed")
	assert.NotContains(t, page.Text, "Navegacao do site", "nav removed")
	assert.NotContains(t, page.Text, "Copyright", "footer removed")

	assert.Equal(t, []string{"https://acme.example/catalogo.pdf"}, page.DocumentLinks)
	assert.ElementsMatch(t, []string{
		"https://acme.example/sobre",
		"https://acme.example/produtos",
	}, page.InternalLinks)
}

func TestExtractPageResolvesRelativeLinks(t *testing.T) {
	html := `<a href="contato,">Contato</a>`
	page := ExtractPage(html, "https://acme.example/institucional/")
	require.Len(t, page.InternalLinks, 1)
	assert.Equal(t, "https://acme.example/institucional/contato", page.InternalLinks[0],
		"trailing comma stripped and path resolved")
}

func TestExtractPageInvalidHTML(t *testing.T) {
	page := ExtractPage("<<<>>>", "https://acme.example")
	assert.Empty(t, page.InternalLinks)
}

func TestIsSoft404(t *testing.T) {
	assert.True(t, IsSoft404("curto", 200), "below minimum content length")
	assert.True(t, IsSoft404(strings.Repeat("x ", 150)+"erro 404", 200))
	assert.False(t, IsSoft404(strings.Repeat("conteudo real ", 30), 200))
	// Long pages that merely mention an error phrase are real content.
	assert.False(t, IsSoft404(strings.Repeat("conteudo real ", 100)+"erro 404", 200))
}

func TestWrapPage(t *testing.T) {
	wrapped := WrapPage("https://acme.example", "corpo")
	assert.Equal(t, "--- PAGE START: https://acme.example ---\ncorpo\n--- PAGE END ---", wrapped)
}

func TestScoreLinksOrderingAndFloor(t *testing.T) {
	links := []string{
		"https://acme.example/blog/post-muito-longo/sobre-nada/2024/01",
		"https://acme.example/sobre",
		"https://acme.example/produtos",
		"https://acme.example/login",
		"https://acme.example/",
	}

	ranked := ScoreLinks(links, "https://acme.example", -80)

	assert.NotContains(t, ranked, "https://acme.example/login", "junk below floor dropped")
	assert.NotContains(t, ranked, "https://acme.example/", "base URL excluded")
	require.GreaterOrEqual(t, len(ranked), 2)
	assert.ElementsMatch(t, []string{
		"https://acme.example/sobre",
		"https://acme.example/produtos",
	}, ranked[:2], "keyword pages rank first")
}

func TestScoreLinksDeterministicTieBreak(t *testing.T) {
	links := []string{
		"https://acme.example/produtos",
		"https://acme.example/clientes",
	}
	first := ScoreLinks(links, "https://acme.example", -80)
	reversed := ScoreLinks([]string{links[1], links[0]}, "https://acme.example", -80)
	assert.Equal(t, first, reversed)
}

func TestURLVariations(t *testing.T) {
	vars := urlVariations("acme.example")
	assert.Contains(t, vars, "https://acme.example")
	assert.Contains(t, vars, "https://www.acme.example")
	assert.Contains(t, vars, "http://acme.example")
	assert.Contains(t, vars, "http://www.acme.example")
	assert.Equal(t, "https://acme.example", vars[0], "original first")
}

func TestURLVariationsStripsWWW(t *testing.T) {
	vars := urlVariations("https://www.acme.example/contato")
	for _, v := range vars {
		assert.NotContains(t, v, "www.www.")
	}
	assert.Contains(t, vars, "https://acme.example/contato")
}

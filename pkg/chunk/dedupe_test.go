package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/buscafornecedor/profiler/pkg/config"
)

func docDedupe() config.DedupeConfig {
	return config.DedupeConfig{
		Enabled:                 true,
		Scope:                   config.DedupeScopeDocument,
		MinLineLength:           15,
		PreserveFirstOccurrence: true,
	}
}

func TestDedupeDocumentScope(t *testing.T) {
	in := strings.Join([]string{
		"Menu Principal de Navegacao",
		"Sobre a empresa e sua historia",
		"Menu Principal de Navegacao",
		"Produtos e servicos oferecidos",
		"Menu Principal de Navegacao",
	}, "\n")

	out := Dedupe(in, docDedupe())
	assert.Equal(t, strings.Join([]string{
		"Menu Principal de Navegacao",
		"Sobre a empresa e sua historia",
		"Produtos e servicos oferecidos",
	}, "\n"), out)
}

func TestDedupeShortLinesAlwaysPass(t *testing.T) {
	in := "---\ntexto\n---\ntexto\n---"
	out := Dedupe(in, docDedupe())
	assert.Equal(t, in, out, "lines under min_line_length are never removed")
}

func TestDedupeConsecutiveScope(t *testing.T) {
	cfg := docDedupe()
	cfg.Scope = config.DedupeScopeConsecutive

	in := strings.Join([]string{
		"Linha repetida imediatamente aqui",
		"Linha repetida imediatamente aqui",
		"Outra linha qualquer do texto",
		"Linha repetida imediatamente aqui",
	}, "\n")

	out := Dedupe(in, cfg)
	assert.Equal(t, strings.Join([]string{
		"Linha repetida imediatamente aqui",
		"Outra linha qualquer do texto",
		"Linha repetida imediatamente aqui",
	}, "\n"), out)
}

func TestDedupeDropAllOccurrences(t *testing.T) {
	cfg := docDedupe()
	cfg.PreserveFirstOccurrence = false

	in := strings.Join([]string{
		"Rodape copyright da empresa",
		"Conteudo unico desta pagina",
		"Rodape copyright da empresa",
	}, "\n")

	out := Dedupe(in, cfg)
	assert.Equal(t, "Conteudo unico desta pagina", out)
}

func TestDedupeDisabledPassthrough(t *testing.T) {
	cfg := docDedupe()
	cfg.Enabled = false
	in := "mesma linha longa repetida aqui\nmesma linha longa repetida aqui"
	assert.Equal(t, in, Dedupe(in, cfg))
}

func TestDedupeIdempotent(t *testing.T) {
	in := strings.Join([]string{
		"Navegacao superior do site",
		"Conteudo util da pagina inicial",
		"Navegacao superior do site",
		"ok",
		"ok",
	}, "\n")

	once := Dedupe(in, docDedupe())
	twice := Dedupe(once, docDedupe())
	assert.Equal(t, once, twice)
}

func TestNormalize(t *testing.T) {
	in := "titulo   \n\n\n\n\ncorpo\t\nfim"
	assert.Equal(t, "titulo\n\n\ncorpo\nfim", Normalize(in))
}

func TestNormalizeIdempotent(t *testing.T) {
	in := "a  \n\n\n\nb"
	once := Normalize(in)
	assert.Equal(t, once, Normalize(once))
}

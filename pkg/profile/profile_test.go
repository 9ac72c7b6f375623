package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validProfileJSON = `{
	"identidade": {"nome_empresa": "ACME Plásticos", "cnpj": "12.345.678/0001-90", "descricao": "Fabricante de embalagens", "ano_fundacao": 1995, "faixa_funcionarios": "51-200"},
	"classificacao": {"industria": "Plásticos", "modelo_negocio": "B2B", "publico_alvo": "Indústria alimentícia", "cobertura_geografica": "Sul do Brasil"},
	"ofertas": {
		"produtos": [{"categoria": "Embalagens", "produtos": ["Pote 500ml", "Tampa flip-top"]}],
		"servicos": [{"nome": "Desenvolvimento de moldes", "descricao": "Projeto sob medida"}]
	},
	"reputacao": {"certificacoes": ["ISO 9001"], "premios": [], "parcerias": [], "lista_clientes": ["Empório Sul"], "estudos_caso": []},
	"contato": {"emails": ["contato@acme.example"], "telefones": ["+55 47 3333-0000"], "url_linkedin": "", "url_site": "https://acme.example", "endereco_matriz": "Joinville, SC", "localizacoes": []},
	"fontes": ["https://acme.example"]
}`

func TestParseDirect(t *testing.T) {
	p, err := Parse(validProfileJSON)
	require.NoError(t, err)
	assert.Equal(t, "ACME Plásticos", p.Identidade.NomeEmpresa)
	assert.Equal(t, FlexString("1995"), p.Identidade.AnoFundacao,
		"numeric ano_fundacao accepted")
	assert.Equal(t, []string{"Pote 500ml", "Tampa flip-top"}, p.Ofertas.Produtos[0].Produtos)
}

func TestParseMarkdownFenced(t *testing.T) {
	p, err := Parse("```json\n" + validProfileJSON + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "ACME Plásticos", p.Identidade.NomeEmpresa)
}

func TestParseWithSurroundingProse(t *testing.T) {
	raw := "Aqui está o perfil extraído:\n" + validProfileJSON + "\nEspero ter ajudado!"
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ACME Plásticos", p.Identidade.NomeEmpresa)
}

func TestParseRepairsDamagedJSON(t *testing.T) {
	// Trailing comma and single quotes: jsonrepair territory.
	raw := `{'identidade': {'nome_empresa': 'ACME',}, 'fontes': ['https://acme.example'],}`
	p, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "ACME", p.Identidade.NomeEmpresa)
}

func TestParseGarbageFails(t *testing.T) {
	_, err := Parse("nenhum json aqui")
	assert.Error(t, err)

	_, err = Parse("")
	assert.Error(t, err)
}

func TestParseDiscovery(t *testing.T) {
	url, ok, err := ParseDiscovery(`{"site": "https://acme.example"}`)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://acme.example", url)
}

func TestParseDiscoveryNotFound(t *testing.T) {
	_, ok, err := ParseDiscovery(`{"site": "nao_encontrado"}`)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseDiscoveryFenced(t *testing.T) {
	url, ok, err := ParseDiscovery("```json\n{\"site\": \"https://acme.example\"}\n```")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://acme.example", url)
}

func TestMergeScalarEarliestWins(t *testing.T) {
	first := &Profile{Identidade: Identidade{NomeEmpresa: "ACME", Descricao: ""}}
	second := &Profile{Identidade: Identidade{NomeEmpresa: "ACME Plásticos Ltda", Descricao: "Fabricante"}}

	merged := Merge([]*Profile{first, second})
	assert.Equal(t, "ACME", merged.Identidade.NomeEmpresa,
		"earliest non-empty scalar wins")
	assert.Equal(t, "Fabricante", merged.Identidade.Descricao,
		"empty scalar filled by a later chunk")
}

func TestMergeListsUnionDeduped(t *testing.T) {
	first := &Profile{Reputacao: Reputacao{ListaClientes: []string{"Empório Sul", "Mercado Norte"}}}
	second := &Profile{Reputacao: Reputacao{ListaClientes: []string{"empório sul", "Padaria Leste"}}}

	merged := Merge([]*Profile{first, second})
	assert.Equal(t, []string{"Empório Sul", "Mercado Norte", "Padaria Leste"},
		merged.Reputacao.ListaClientes, "case-insensitive union preserving order")
}

func TestMergeProductCategories(t *testing.T) {
	first := &Profile{Ofertas: Ofertas{Produtos: []ProductCategory{
		{Categoria: "Cabos", Produtos: []string{"Cabo 1KV"}},
	}}}
	second := &Profile{Ofertas: Ofertas{Produtos: []ProductCategory{
		{Categoria: "cabos", Produtos: []string{"Cabo 1KV", "Cabo Flex 750V"}},
		{Categoria: "Conectores", Produtos: []string{"RCA"}},
	}}}

	merged := Merge([]*Profile{first, second})
	require.Len(t, merged.Ofertas.Produtos, 2)
	assert.Equal(t, []string{"Cabo 1KV", "Cabo Flex 750V"}, merged.Ofertas.Produtos[0].Produtos)
	assert.Equal(t, "Conectores", merged.Ofertas.Produtos[1].Categoria)
}

func TestMergeServicesByName(t *testing.T) {
	first := &Profile{Ofertas: Ofertas{Servicos: []Service{{Nome: "Manutenção", Descricao: ""}}}}
	second := &Profile{Ofertas: Ofertas{Servicos: []Service{
		{Nome: "manutenção", Descricao: "Preventiva e corretiva"},
		{Nome: "Instalação", Descricao: "Em campo"},
	}}}

	merged := Merge([]*Profile{first, second})
	require.Len(t, merged.Ofertas.Servicos, 2)
	assert.Equal(t, "Preventiva e corretiva", merged.Ofertas.Servicos[0].Descricao)
}

func TestMergeSkipsNilParts(t *testing.T) {
	merged := Merge([]*Profile{nil, {Identidade: Identidade{NomeEmpresa: "ACME"}}, nil})
	assert.Equal(t, "ACME", merged.Identidade.NomeEmpresa)
}

func TestMergeEmptyInput(t *testing.T) {
	merged := Merge(nil)
	require.NotNil(t, merged)
	assert.True(t, merged.IsEmpty())
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, (&Profile{}).IsEmpty())
	assert.False(t, (&Profile{Fontes: []string{"https://acme.example"}}).IsEmpty())
	var p *Profile
	assert.True(t, p.IsEmpty())
}

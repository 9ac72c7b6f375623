// Package profile defines the company profile schema produced by the LLM
// reduction step, the tolerant JSON extraction that parses model output, and
// the merge of partial per-chunk profiles into one.
package profile

import (
	"bytes"
	"encoding/json"
	"strings"
)

// FlexString unmarshals from either a JSON string or a number. Models answer
// fields like ano_fundacao inconsistently in both forms.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Profile is the six-root-key company profile. Empty strings and nil slices
// mean "not found"; the extractor is instructed never to invent data.
type Profile struct {
	Identidade    Identidade    `json:"identidade"`
	Classificacao Classificacao `json:"classificacao"`
	Ofertas       Ofertas       `json:"ofertas"`
	Reputacao     Reputacao     `json:"reputacao"`
	Contato       Contato       `json:"contato"`
	Fontes        []string      `json:"fontes"`
}

type Identidade struct {
	NomeEmpresa       string     `json:"nome_empresa"`
	CNPJ              string     `json:"cnpj"`
	Descricao         string     `json:"descricao"`
	AnoFundacao       FlexString `json:"ano_fundacao"`
	FaixaFuncionarios string     `json:"faixa_funcionarios"`
}

type Classificacao struct {
	Industria           string `json:"industria"`
	ModeloNegocio       string `json:"modelo_negocio"`
	PublicoAlvo         string `json:"publico_alvo"`
	CoberturaGeografica string `json:"cobertura_geografica"`
}

type Ofertas struct {
	Produtos []ProductCategory `json:"produtos"`
	Servicos []Service         `json:"servicos"`
}

type ProductCategory struct {
	Categoria string   `json:"categoria"`
	Produtos  []string `json:"produtos"`
}

type Service struct {
	Nome      string `json:"nome"`
	Descricao string `json:"descricao"`
}

type Reputacao struct {
	Certificacoes []string    `json:"certificacoes"`
	Premios       []string    `json:"premios"`
	Parcerias     []string    `json:"parcerias"`
	ListaClientes []string    `json:"lista_clientes"`
	EstudosCaso   []CaseStudy `json:"estudos_caso"`
}

type CaseStudy struct {
	Titulo      string `json:"titulo"`
	NomeCliente string `json:"nome_cliente"`
	Industria   string `json:"industria"`
	Desafio     string `json:"desafio"`
	Solucao     string `json:"solucao"`
	Resultado   string `json:"resultado"`
}

type Contato struct {
	Emails         []string `json:"emails"`
	Telefones      []string `json:"telefones"`
	URLLinkedIn    string   `json:"url_linkedin"`
	URLSite        string   `json:"url_site"`
	EnderecoMatriz string   `json:"endereco_matriz"`
	Localizacoes   []string `json:"localizacoes"`
}

// IsEmpty reports whether the profile carries no extracted data at all.
func (p *Profile) IsEmpty() bool {
	if p == nil {
		return true
	}
	return p.Identidade == Identidade{} &&
		p.Classificacao == Classificacao{} &&
		len(p.Ofertas.Produtos) == 0 && len(p.Ofertas.Servicos) == 0 &&
		len(p.Reputacao.Certificacoes) == 0 && len(p.Reputacao.Premios) == 0 &&
		len(p.Reputacao.Parcerias) == 0 && len(p.Reputacao.ListaClientes) == 0 &&
		len(p.Reputacao.EstudosCaso) == 0 &&
		p.Contato.URLLinkedIn == "" && p.Contato.URLSite == "" &&
		p.Contato.EnderecoMatriz == "" &&
		len(p.Contato.Emails) == 0 && len(p.Contato.Telefones) == 0 &&
		len(p.Contato.Localizacoes) == 0 &&
		len(p.Fontes) == 0
}

// CompanyName returns the best display name available.
func (p *Profile) CompanyName() string {
	return strings.TrimSpace(p.Identidade.NomeEmpresa)
}

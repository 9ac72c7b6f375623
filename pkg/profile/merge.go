package profile

import "strings"

// Merge consolidates partial per-chunk profiles, in chunk order, into one.
// Scalar fields take the first non-empty value; list fields are the union of
// all parts with duplicates removed, order of first appearance preserved.
func Merge(parts []*Profile) *Profile {
	merged := &Profile{}
	for _, p := range parts {
		if p == nil {
			continue
		}
		mergeIdentidade(&merged.Identidade, &p.Identidade)
		mergeClassificacao(&merged.Classificacao, &p.Classificacao)
		mergeOfertas(&merged.Ofertas, &p.Ofertas)
		mergeReputacao(&merged.Reputacao, &p.Reputacao)
		mergeContato(&merged.Contato, &p.Contato)
		merged.Fontes = unionStrings(merged.Fontes, p.Fontes)
	}
	return merged
}

func mergeIdentidade(dst, src *Identidade) {
	takeString(&dst.NomeEmpresa, src.NomeEmpresa)
	takeString(&dst.CNPJ, src.CNPJ)
	takeString(&dst.Descricao, src.Descricao)
	if dst.AnoFundacao == "" {
		dst.AnoFundacao = src.AnoFundacao
	}
	takeString(&dst.FaixaFuncionarios, src.FaixaFuncionarios)
}

func mergeClassificacao(dst, src *Classificacao) {
	takeString(&dst.Industria, src.Industria)
	takeString(&dst.ModeloNegocio, src.ModeloNegocio)
	takeString(&dst.PublicoAlvo, src.PublicoAlvo)
	takeString(&dst.CoberturaGeografica, src.CoberturaGeografica)
}

func mergeOfertas(dst, src *Ofertas) {
	for _, cat := range src.Produtos {
		if strings.TrimSpace(cat.Categoria) == "" && len(cat.Produtos) == 0 {
			continue
		}
		if existing := findCategory(dst.Produtos, cat.Categoria); existing != nil {
			existing.Produtos = unionStrings(existing.Produtos, cat.Produtos)
		} else {
			dst.Produtos = append(dst.Produtos, ProductCategory{
				Categoria: cat.Categoria,
				Produtos:  unionStrings(nil, cat.Produtos),
			})
		}
	}

	for _, svc := range src.Servicos {
		if strings.TrimSpace(svc.Nome) == "" {
			continue
		}
		if existing := findService(dst.Servicos, svc.Nome); existing != nil {
			takeString(&existing.Descricao, svc.Descricao)
		} else {
			dst.Servicos = append(dst.Servicos, svc)
		}
	}
}

func mergeReputacao(dst, src *Reputacao) {
	dst.Certificacoes = unionStrings(dst.Certificacoes, src.Certificacoes)
	dst.Premios = unionStrings(dst.Premios, src.Premios)
	dst.Parcerias = unionStrings(dst.Parcerias, src.Parcerias)
	dst.ListaClientes = unionStrings(dst.ListaClientes, src.ListaClientes)

	for _, cs := range src.EstudosCaso {
		if !hasCaseStudy(dst.EstudosCaso, cs) {
			dst.EstudosCaso = append(dst.EstudosCaso, cs)
		}
	}
}

func mergeContato(dst, src *Contato) {
	dst.Emails = unionStrings(dst.Emails, src.Emails)
	dst.Telefones = unionStrings(dst.Telefones, src.Telefones)
	takeString(&dst.URLLinkedIn, src.URLLinkedIn)
	takeString(&dst.URLSite, src.URLSite)
	takeString(&dst.EnderecoMatriz, src.EnderecoMatriz)
	dst.Localizacoes = unionStrings(dst.Localizacoes, src.Localizacoes)
}

// takeString fills dst only when it is still empty: the earliest chunk wins.
func takeString(dst *string, src string) {
	if strings.TrimSpace(*dst) == "" && strings.TrimSpace(src) != "" {
		*dst = src
	}
}

// unionStrings appends the items of add not yet present in base,
// case-insensitively, preserving first-appearance order.
func unionStrings(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := base
	for _, b := range base {
		seen[strings.ToLower(strings.TrimSpace(b))] = struct{}{}
	}
	for _, a := range add {
		key := strings.ToLower(strings.TrimSpace(a))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

func findCategory(cats []ProductCategory, name string) *ProductCategory {
	for i := range cats {
		if strings.EqualFold(strings.TrimSpace(cats[i].Categoria), strings.TrimSpace(name)) {
			return &cats[i]
		}
	}
	return nil
}

func findService(svcs []Service, name string) *Service {
	for i := range svcs {
		if strings.EqualFold(strings.TrimSpace(svcs[i].Nome), strings.TrimSpace(name)) {
			return &svcs[i]
		}
	}
	return nil
}

func hasCaseStudy(studies []CaseStudy, cs CaseStudy) bool {
	for _, s := range studies {
		if strings.EqualFold(s.Titulo, cs.Titulo) &&
			strings.EqualFold(s.NomeCliente, cs.NomeCliente) {
			return true
		}
	}
	return false
}

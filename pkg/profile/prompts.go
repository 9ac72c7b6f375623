package profile

// systemPromptBase is the B2B extraction prompt shared by the single-chunk
// and multi-chunk variants. Portuguese on purpose: the corpus is Brazilian
// company sites and the output schema uses Portuguese keys.
const systemPromptBase = `Você é um extrator de dados B2B. Extraia do texto fornecido e retorne UM ÚNICO objeto JSON válido.

OBRIGATÓRIO: O JSON deve conter SEMPRE estas 6 chaves raiz (use null ou [] quando não houver dados):

- identidade: { nome_empresa, cnpj, descricao, ano_fundacao, faixa_funcionarios }
- classificacao: { industria, modelo_negocio, publico_alvo, cobertura_geografica }
- ofertas: { produtos: [ { categoria, produtos: [] } ], servicos: [ { nome, descricao } ] }
- reputacao: { certificacoes: [], premios: [], parcerias: [], lista_clientes: [], estudos_caso: [ { titulo, nome_cliente, industria, desafio, solucao, resultado } ] }
- contato: { emails: [], telefones: [], url_linkedin, url_site, endereco_matriz, localizacoes: [] }
- fontes: [ URLs das páginas analisadas ]

PRODUTOS vs SERVIÇOS:

- PRODUTO = item tangível, que pode ter catálogo, modelo, SKU. Vai em ofertas.produtos, agrupado por categoria.
  NUNCA crie uma categoria chamada "Serviços" dentro de ofertas.produtos.
- SERVIÇO = atividade intangível que a empresa realiza (consultoria, manutenção, instalação, suporte, treinamento). Vai em ofertas.servicos como { nome, descricao }.

CLIENTES E PROVA SOCIAL — reputacao.lista_clientes:
Se existir trecho com "CLIENTES", "Nossos clientes", "Quem confia", "Projetos realizados", "Cases" ou similar, extraia TODOS os nomes listados.

ESTUDOS DE CASO — reputacao.estudos_caso:
Preencha SOMENTE quando o mesmo case tiver cliente identificado, solução descrita e resultado descrito. Caso contrário use [].

REGRAS:
1. IDIOMA: Português (Brasil). Termos técnicos globais podem ficar em inglês.
2. DEDUPLICAÇÃO: cada produto ou serviço aparece NO MÁXIMO UMA VEZ em todo o JSON.
3. Limites: máx. 60 produtos por categoria, 40 categorias, 50 serviços, 80 clientes, 50 parcerias, 50 certificações, 30 estudos de caso.
4. Não invente dados. Use null ou [] quando não encontrar.

Saída: APENAS o objeto JSON, sem markdown (sem ` + "```json" + `), sem texto antes ou depois.`

// SystemPromptSingle is used when the whole site fits in one chunk.
const SystemPromptSingle = systemPromptBase

// SystemPromptMulti is used when the site was split: the model extracts what
// this fragment contains and the merge step consolidates the parts.
const SystemPromptMulti = systemPromptBase + `

ATENÇÃO: O texto fornecido é UM FRAGMENTO de um site maior. Extraia apenas as informações presentes NESTE fragmento; os demais fragmentos serão processados separadamente e consolidados depois. Não indique ausência de dados que possam estar em outros fragmentos, apenas use null ou [].`

// DiscoveryPrompt asks the model to pick the official site from search
// results. The answer is constrained to a URL or the literal nao_encontrado.
const DiscoveryPrompt = `Você é um analista que identifica o site oficial de empresas brasileiras.

Dados da empresa:
- Razão social: %s
- Nome fantasia: %s
- Cidade: %s

Resultados de busca:
%s

TAREFA: Identifique qual resultado é o SITE OFICIAL da empresa. Desconsidere diretórios de empresas, redes sociais, marketplaces e agregadores de dados.

Responda APENAS com um objeto JSON no formato {"site": "<url>"} quando encontrar o site oficial, ou {"site": "nao_encontrado"} quando nenhum resultado for o site oficial.`

package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tier declares which priority classes a provider may serve. Discovery and
// link selection run as HIGH traffic; profile building runs as NORMAL.
type Tier string

const (
	// TierHigh restricts a provider to HIGH priority calls.
	TierHigh Tier = "high"

	// TierNormal restricts a provider to NORMAL priority calls.
	TierNormal Tier = "normal"

	// TierBoth admits a provider to both queues. Reserved for the primary
	// self-hosted backend.
	TierBoth Tier = "both"
)

// IsValid checks if the tier is a known value
func (t Tier) IsValid() bool {
	return t == TierHigh || t == TierNormal || t == TierBoth
}

// ServesHigh reports whether a provider of this tier accepts HIGH calls.
func (t Tier) ServesHigh() bool {
	return t == TierHigh || t == TierBoth
}

// ServesNormal reports whether a provider of this tier accepts NORMAL calls.
func (t Tier) ServesNormal() bool {
	return t == TierNormal || t == TierBoth
}

// DefaultProviderTimeout bounds a single completion request when the YAML
// does not override it.
const DefaultProviderTimeout = 90 * time.Second

// DefaultConcurrencyHardCap bounds per-provider in-flight requests. RPM-derived
// concurrency on fast backends reaches the hundreds, which only oversubscribes
// the queue and degrades tail latency.
const DefaultConcurrencyHardCap = 32

// ProviderSpec is the runtime descriptor for one OpenAI-compatible backend.
// Built once at startup from configuration and environment; immutable for
// the lifetime of the worker.
type ProviderSpec struct {
	// Name is the stable identifier ("sglang", "google", "openrouter2", ...).
	Name string

	// DisplayName is the human-facing label used in logs.
	DisplayName string

	APIKey  string
	BaseURL string
	Model   string

	// MaxConcurrent sizes the provider's in-flight semaphore.
	MaxConcurrent int

	// PriorityScore orders fallback: higher scores are tried first.
	PriorityScore int

	// Weight drives proportional selection across NORMAL-eligible providers.
	Weight int

	// Timeout bounds a single completion request.
	Timeout time.Duration

	Tier    Tier
	Enabled bool

	// Limits are the resolved rate limits for this provider's model.
	Limits ModelLimits
}

// SafeInputTokens returns the pre-flight prompt budget: the configured value
// when declared, otherwise 80% of the context window. Zero disables the check.
func (p *ProviderSpec) SafeInputTokens() int {
	if p.Limits.SafeInputTokens > 0 {
		return p.Limits.SafeInputTokens
	}
	if p.Limits.ContextWindow > 0 {
		return int(0.8 * float64(p.Limits.ContextWindow))
	}
	return 0
}

// builtinProvider is one row of the built-in provider table: env variable
// names, defaults, and the concurrency shape of each known backend.
type builtinProvider struct {
	name        string
	displayName string

	apiKeyEnv  string
	baseURLEnv string
	modelEnv   string

	defaultAPIKey  string
	defaultBaseURL string
	defaultModel   string

	priorityScore int
	defaultWeight int
	defaultRPM    int
	defaultTPM    int

	// concurrencyFloor and baselineLatency feed the semaphore sizing
	// formula min(hard_cap, max(floor, rpm × margin / baseline)).
	concurrencyFloor int
	baselineLatency  float64 // seconds per request under load

	tier           Tier
	defaultEnabled bool
}

// builtinProviders returns the known backend table. SGLang is the primary
// self-hosted backend and the only one enabled out of the box; the external
// providers are opt-in fallbacks toggled via llm_providers.json.
func builtinProviders() []builtinProvider {
	return []builtinProvider{
		{
			name:             "sglang",
			displayName:      "SGLang",
			apiKeyEnv:        "SGLANG_API_KEY",
			baseURLEnv:       "SGLANG_BASE_URL",
			modelEnv:         "SGLANG_MODEL",
			defaultAPIKey:    "buscafornecedor",
			defaultModel:     "Qwen/Qwen2.5-3B-Instruct",
			priorityScore:    90,
			defaultWeight:    50,
			defaultRPM:       30000,
			defaultTPM:       5000000,
			concurrencyFloor: 800,
			baselineLatency:  15,
			tier:             TierBoth,
			defaultEnabled:   true,
		},
		{
			name:             "google",
			displayName:      "Google Gemini",
			apiKeyEnv:        "GOOGLE_API_KEY",
			baseURLEnv:       "GOOGLE_BASE_URL",
			modelEnv:         "GOOGLE_MODEL",
			defaultBaseURL:   "https://generativelanguage.googleapis.com/v1beta/openai/",
			defaultModel:     "gemini-2.0-flash",
			priorityScore:    70,
			defaultWeight:    29,
			defaultRPM:       10000,
			defaultTPM:       10000000,
			concurrencyFloor: 600,
			baselineLatency:  15,
			tier:             TierHigh,
			defaultEnabled:   false,
		},
		{
			name:             "openai",
			displayName:      "OpenAI",
			apiKeyEnv:        "OPENAI_API_KEY",
			baseURLEnv:       "OPENAI_BASE_URL",
			modelEnv:         "OPENAI_MODEL",
			defaultBaseURL:   "https://api.openai.com/v1",
			defaultModel:     "gpt-4.1-nano",
			priorityScore:    60,
			defaultWeight:    14,
			defaultRPM:       5000,
			defaultTPM:       4000000,
			concurrencyFloor: 150,
			baselineLatency:  30,
			tier:             TierNormal,
			defaultEnabled:   false,
		},
		{
			name:             "openrouter",
			displayName:      "OpenRouter",
			apiKeyEnv:        "OPENROUTER_API_KEY",
			baseURLEnv:       "OPENROUTER_BASE_URL",
			modelEnv:         "OPENROUTER_MODEL",
			defaultBaseURL:   "https://openrouter.ai/api/v1",
			defaultModel:     "google/gemini-2.0-flash-lite-001",
			priorityScore:    80,
			defaultWeight:    30,
			defaultRPM:       20000,
			defaultTPM:       10000000,
			concurrencyFloor: 300,
			baselineLatency:  30,
			tier:             TierNormal,
			defaultEnabled:   false,
		},
		{
			name:             "openrouter2",
			displayName:      "OpenRouter2",
			apiKeyEnv:        "OPENROUTER_API_KEY",
			baseURLEnv:       "OPENROUTER_BASE_URL",
			modelEnv:         "OPENROUTER_MODEL_2",
			defaultBaseURL:   "https://openrouter.ai/api/v1",
			defaultModel:     "google/gemini-2.5-flash-lite",
			priorityScore:    75,
			defaultWeight:    25,
			defaultRPM:       15000,
			defaultTPM:       8000000,
			concurrencyFloor: 250,
			baselineLatency:  30,
			tier:             TierNormal,
			defaultEnabled:   false,
		},
		{
			name:             "openrouter3",
			displayName:      "OpenRouter3",
			apiKeyEnv:        "OPENROUTER_API_KEY",
			baseURLEnv:       "OPENROUTER_BASE_URL",
			modelEnv:         "OPENROUTER_MODEL_3",
			defaultBaseURL:   "https://openrouter.ai/api/v1",
			defaultModel:     "openai/gpt-4.1-nano",
			priorityScore:    72,
			defaultWeight:    20,
			defaultRPM:       10000,
			defaultTPM:       5000000,
			concurrencyFloor: 200,
			baselineLatency:  30,
			tier:             TierNormal,
			defaultEnabled:   false,
		},
	}
}

// EnsureV1Suffix guarantees an OpenAI-compatible base URL ends with /v1.
// A URL already carrying the suffix is returned unchanged.
func EnsureV1Suffix(url string) string {
	if url == "" {
		return url
	}
	trimmed := strings.TrimRight(url, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return url
	}
	return trimmed + "/v1"
}

// concurrencyLimit sizes a provider semaphore from its RPM quota:
// min(hard_cap, max(floor, rpm × margin / baseline_latency_s)).
func concurrencyLimit(hardCap, floor, rpm int, margin, baselineLatency float64) int {
	c := int(float64(rpm) * margin / baselineLatency)
	if c < floor {
		c = floor
	}
	if c > hardCap {
		c = hardCap
	}
	return c
}

// hardCapFromEnv reads LLM_CONCURRENCY_HARD_CAP, falling back to the default
// on absence or garbage.
func hardCapFromEnv() int {
	raw := strings.TrimSpace(os.Getenv("LLM_CONCURRENCY_HARD_CAP"))
	if raw == "" {
		return DefaultConcurrencyHardCap
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		slog.Warn("Invalid LLM_CONCURRENCY_HARD_CAP, using default",
			"value", raw,
			"default", DefaultConcurrencyHardCap)
		return DefaultConcurrencyHardCap
	}
	return n
}

// buildProviderSpecs assembles the provider descriptors for this process.
//
// When SGLANG_BASE_URL is set the process is pinned to one self-hosted
// instance: only that provider is registered and there is no fallback.
// Otherwise the built-in table is walked, gated by the enabled map from
// llm_providers.json, with credentials and overrides taken from the
// environment. Providers without credentials are skipped with a warning.
func buildProviderSpecs(enabled map[string]bool, limits *LimitsRegistry, timeout time.Duration) []*ProviderSpec {
	hardCap := hardCapFromEnv()

	if pin := strings.TrimSpace(os.Getenv("SGLANG_BASE_URL")); pin != "" {
		spec := pinnedSGLangSpec(pin, limits, hardCap, timeout)
		slog.Info("Pinned to single self-hosted instance, no fallback providers",
			"instance", envOr("SGLANG_INSTANCE_NAME", "default"),
			"base_url", spec.BaseURL,
			"model", spec.Model)
		return []*ProviderSpec{spec}
	}

	var specs []*ProviderSpec
	for _, b := range builtinProviders() {
		on, declared := enabled[b.name]
		if !declared {
			on = b.defaultEnabled
		}
		if !on {
			continue
		}

		spec, err := b.spec(limits, hardCap, timeout)
		if err != nil {
			slog.Warn("Skipping provider", "provider", b.name, "reason", err)
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}

// spec materializes one built-in table row into a descriptor, or reports why
// it cannot be registered.
func (b builtinProvider) spec(limits *LimitsRegistry, hardCap int, timeout time.Duration) (*ProviderSpec, error) {
	apiKey := envOr(b.apiKeyEnv, b.defaultAPIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%s not set", b.apiKeyEnv)
	}
	baseURL := envOr(b.baseURLEnv, b.defaultBaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s not set", b.baseURLEnv)
	}
	model := envOr(b.modelEnv, b.defaultModel)
	if model == "" {
		return nil, fmt.Errorf("%s not set", b.modelEnv)
	}

	ml := b.resolveLimits(limits, model)
	margin := limits.SafetyMargin(b.name, model)

	return &ProviderSpec{
		Name:          b.name,
		DisplayName:   b.displayName,
		APIKey:        apiKey,
		BaseURL:       baseURL,
		Model:         model,
		MaxConcurrent: concurrencyLimit(hardCap, b.concurrencyFloor, ml.RPM, margin, b.baselineLatency),
		PriorityScore: b.priorityScore,
		Weight:        ml.Weight,
		Timeout:       timeout,
		Tier:          b.tier,
		Enabled:       true,
		Limits:        ml,
	}, nil
}

// resolveLimits merges the registry entry for this provider's model over the
// built-in defaults.
func (b builtinProvider) resolveLimits(limits *LimitsRegistry, model string) ModelLimits {
	ml, ok := limits.Resolve(b.name, model)
	if !ok {
		ml = ModelLimits{}
	}
	if ml.RPM <= 0 {
		ml.RPM = b.defaultRPM
	}
	if ml.TPM <= 0 {
		ml.TPM = b.defaultTPM
	}
	if ml.Weight <= 0 {
		ml.Weight = b.defaultWeight
	}
	return ml
}

// pinnedSGLangSpec builds the single descriptor used when the process is
// pinned to one self-hosted instance. The base URL is normalized to end with
// /v1 regardless of how the launcher wrote it.
func pinnedSGLangSpec(rawBaseURL string, limits *LimitsRegistry, hardCap int, timeout time.Duration) *ProviderSpec {
	var b builtinProvider
	for _, row := range builtinProviders() {
		if row.name == "sglang" {
			b = row
			break
		}
	}

	model := envOr(b.modelEnv, b.defaultModel)
	ml := b.resolveLimits(limits, model)
	margin := limits.SafetyMargin(b.name, model)

	return &ProviderSpec{
		Name:          b.name,
		DisplayName:   b.displayName,
		APIKey:        envOr(b.apiKeyEnv, b.defaultAPIKey),
		BaseURL:       EnsureV1Suffix(rawBaseURL),
		Model:         model,
		MaxConcurrent: concurrencyLimit(hardCap, b.concurrencyFloor, ml.RPM, margin, b.baselineLatency),
		PriorityScore: b.priorityScore,
		Weight:        ml.Weight,
		Timeout:       timeout,
		Tier:          b.tier,
		Enabled:       true,
		Limits:        ml,
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// ProviderRegistry stores provider descriptors in memory with thread-safe
// access, ordered by priority score (highest first).
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[string]*ProviderSpec
	order     []string
}

// NewProviderRegistry creates a provider registry from built descriptors.
func NewProviderRegistry(specs []*ProviderSpec) *ProviderRegistry {
	providers := make(map[string]*ProviderSpec, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		providers[spec.Name] = spec
		order = append(order, spec.Name)
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := providers[order[i]], providers[order[j]]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		return a.Name < b.Name
	})
	return &ProviderRegistry{
		providers: providers,
		order:     order,
	}
}

// Get retrieves a provider descriptor by name (thread-safe)
func (r *ProviderRegistry) Get(name string) (*ProviderSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return spec, nil
}

// Has checks if a provider exists in the registry (thread-safe)
func (r *ProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.providers[name]
	return exists
}

// All returns every registered descriptor ordered by priority score,
// highest first (thread-safe, returns copy).
func (r *ProviderRegistry) All() []*ProviderSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*ProviderSpec, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.providers[name])
	}
	return result
}

// Names returns registered provider names ordered by priority score.
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of providers in the registry (thread-safe)
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// DefaultSafetyMargin is applied to rate and concurrency math when neither a
// model entry nor the file-wide config section declares one.
const DefaultSafetyMargin = 0.8

// ModelLimits describes the published limits of one (provider, model) pair.
// Loaded from llm_limits.json at startup.
type ModelLimits struct {
	// RPM is the requests-per-minute quota. Zero means unlimited.
	RPM int `json:"rpm"`

	// TPM is the tokens-per-minute quota. Zero means unlimited.
	TPM int `json:"tpm"`

	// ContextWindow is the model's total context size in tokens.
	ContextWindow int `json:"context_window"`

	// SafeInputTokens caps the estimated prompt before any network call.
	// Zero lets the dispatcher derive it from ContextWindow.
	SafeInputTokens int `json:"safe_input_tokens"`

	// MaxOutputTokens is requested as the completion budget.
	MaxOutputTokens int `json:"max_output_tokens"`

	// Weight drives proportional selection across NORMAL-eligible providers.
	Weight int `json:"weight"`

	// SafetyMargin overrides the file-wide margin for this model when > 0.
	SafetyMargin float64 `json:"safety_margin"`
}

// GlobalLimits carries file-wide tuning from the "config" section of
// llm_limits.json.
type GlobalLimits struct {
	SafetyMargin float64 `json:"safety_margin"`
}

// LimitsRegistry stores per-model limits in memory with thread-safe access.
type LimitsRegistry struct {
	mu     sync.RWMutex
	global GlobalLimits
	limits map[string]map[string]ModelLimits // provider → model → limits
}

// NewLimitsRegistry creates a limits registry from parsed file content.
func NewLimitsRegistry(global GlobalLimits, limits map[string]map[string]ModelLimits) *LimitsRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]map[string]ModelLimits, len(limits))
	for provider, models := range limits {
		inner := make(map[string]ModelLimits, len(models))
		for model, ml := range models {
			inner[model] = ml
		}
		copied[provider] = inner
	}
	return &LimitsRegistry{
		global: global,
		limits: copied,
	}
}

// Get retrieves the exact limits entry for a provider/model pair.
func (r *LimitsRegistry) Get(provider, model string) (ModelLimits, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models, ok := r.limits[provider]
	if !ok {
		return ModelLimits{}, fmt.Errorf("%w: provider %s", ErrModelLimitsNotFound, provider)
	}
	ml, ok := models[model]
	if !ok {
		return ModelLimits{}, fmt.Errorf("%w: %s/%s", ErrModelLimitsNotFound, provider, model)
	}
	return ml, nil
}

// Resolve retrieves limits for a provider/model pair, falling back to the
// provider's first entry (sorted by model name) when the exact model is not
// listed. Self-hosted deployments swap models without editing the limits
// file, so a provider-level fallback keeps them running.
func (r *LimitsRegistry) Resolve(provider, model string) (ModelLimits, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models, ok := r.limits[provider]
	if !ok || len(models) == 0 {
		return ModelLimits{}, false
	}
	if ml, ok := models[model]; ok {
		return ml, true
	}

	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return models[names[0]], true
}

// SafetyMargin returns the margin for a provider/model pair: the model entry
// when it declares one, the file-wide config section otherwise, and the
// built-in default when neither does.
func (r *LimitsRegistry) SafetyMargin(provider, model string) float64 {
	if ml, ok := r.Resolve(provider, model); ok && ml.SafetyMargin > 0 {
		return ml.SafetyMargin
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.global.SafetyMargin > 0 {
		return r.global.SafetyMargin
	}
	return DefaultSafetyMargin
}

// Providers returns the number of provider sections in the registry.
func (r *LimitsRegistry) Providers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limits)
}

// Models returns the total number of model entries across all providers.
func (r *LimitsRegistry) Models() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, models := range r.limits {
		total += len(models)
	}
	return total
}

// parseLimitsFile parses llm_limits.json. The top-level object maps provider
// names to {model: limits} objects, except for the reserved "config" key
// which holds file-wide tuning.
func parseLimitsFile(data []byte) (GlobalLimits, map[string]map[string]ModelLimits, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return GlobalLimits{}, nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	var global GlobalLimits
	limits := make(map[string]map[string]ModelLimits, len(raw))

	for key, section := range raw {
		if key == "config" {
			if err := json.Unmarshal(section, &global); err != nil {
				return GlobalLimits{}, nil, fmt.Errorf("%w: config section: %v", ErrInvalidJSON, err)
			}
			continue
		}

		var models map[string]ModelLimits
		if err := json.Unmarshal(section, &models); err != nil {
			return GlobalLimits{}, nil, fmt.Errorf("%w: provider %s: %v", ErrInvalidJSON, key, err)
		}
		limits[key] = models
	}

	return global, limits, nil
}

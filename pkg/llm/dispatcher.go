// Package llm dispatches chat completion calls across heterogeneous
// OpenAI-compatible backends, enforcing priority gating (HIGH discovery
// traffic preempts NORMAL profile traffic), per-provider rate limits and
// concurrency caps, pre-flight context-window checks, and a typed error
// taxonomy.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/buscafornecedor/profiler/pkg/config"
	"github.com/buscafornecedor/profiler/pkg/observe"
	"github.com/buscafornecedor/profiler/pkg/ratelimit"
	"github.com/buscafornecedor/profiler/pkg/token"
)

// jsonReinforcement is appended to the last user message when a backend
// rejects the structured-output format and the call is retried without it.
const jsonReinforcement = "\n\nIMPORTANTE: Retorne APENAS um objeto JSON válido. Sem markdown, sem texto adicional."

// usageDivergenceWarn is the relative estimation error above which a warning
// is logged comparing real prompt tokens to the accountant's estimate.
const usageDivergenceWarn = 0.10

// CallOptions tunes one dispatcher call.
type CallOptions struct {
	Temperature float64

	// MaxTokens caps the completion; zero uses the provider's configured
	// max_output_tokens.
	MaxTokens int

	// JSONFormat requests a JSON response format, with automatic fallback
	// when the backend advertises but rejects it.
	JSONFormat bool

	Priority Priority
}

// providerState bundles everything needed to call one backend.
type providerState struct {
	spec   *config.ProviderSpec
	client CompletionClient
	sem    *semaphore.Weighted
}

// Dispatcher fans completion calls across the registered providers. One
// instance is shared process-wide.
type Dispatcher struct {
	registry   *config.ProviderRegistry
	limiter    *ratelimit.Limiter
	accountant *token.Accountant
	cfg        *config.LLMConfig
	gate       *priorityGate
	health     *HealthMonitor
	metrics    *observe.Metrics
	providers  map[string]*providerState
}

// NewDispatcher builds the dispatcher, registering each provider's rate
// limit buckets and concurrency semaphore. factory may be nil, selecting the
// production OpenAI-compatible client; metrics may be nil.
func NewDispatcher(registry *config.ProviderRegistry, limiter *ratelimit.Limiter, acct *token.Accountant, cfg *config.LLMConfig, factory ClientFactory, metrics *observe.Metrics) *Dispatcher {
	if factory == nil {
		factory = NewOpenAIClient
	}

	providers := make(map[string]*providerState)
	for _, spec := range registry.All() {
		limiter.Register(spec.Name, ratelimit.Limits{RPM: spec.Limits.RPM, TPM: spec.Limits.TPM})
		providers[spec.Name] = &providerState{
			spec:   spec,
			client: factory(spec),
			sem:    semaphore.NewWeighted(int64(spec.MaxConcurrent)),
		}
		slog.Info("Dispatcher registered provider",
			"provider", spec.Name,
			"model", spec.Model,
			"tier", spec.Tier,
			"max_concurrent", spec.MaxConcurrent,
			"rpm", spec.Limits.RPM,
			"tpm", spec.Limits.TPM)
	}

	return &Dispatcher{
		registry:   registry,
		limiter:    limiter,
		accountant: acct,
		cfg:        cfg,
		gate:       newPriorityGate(),
		health:     NewHealthMonitor(),
		metrics:    metrics,
		providers:  providers,
	}
}

// Health exposes the per-provider health monitor.
func (d *Dispatcher) Health() *HealthMonitor {
	return d.health
}

// HighInFlight reports the current count of in-flight HIGH calls.
func (d *Dispatcher) HighInFlight() int {
	return d.gate.highInFlight()
}

// ProvidersFor returns the names of providers eligible for the priority,
// ordered by priority score.
func (d *Dispatcher) ProvidersFor(p Priority) []string {
	var names []string
	for _, spec := range d.registry.All() {
		if eligible(spec.Tier, p) {
			names = append(names, spec.Name)
		}
	}
	return names
}

func eligible(tier config.Tier, p Priority) bool {
	if p == PriorityHigh {
		return tier.ServesHigh()
	}
	return tier.ServesNormal()
}

// Call sends messages to one provider, returning the response content and
// round-trip latency. It blocks, in order, on the HIGH-drained gate (NORMAL
// only), the rate limiter, and the provider semaphore; every wait honors the
// context deadline.
func (d *Dispatcher) Call(ctx context.Context, provider string, msgs []Message, opts CallOptions) (string, time.Duration, error) {
	state, ok := d.providers[provider]
	if !ok {
		return "", 0, &ProviderError{Provider: provider, Kind: KindNotConfigured,
			Err: fmt.Errorf("provider not registered")}
	}
	if !eligible(state.spec.Tier, opts.Priority) {
		return "", 0, &ProviderError{Provider: provider, Kind: KindNotConfigured,
			Err: fmt.Errorf("tier %s does not serve %s calls", state.spec.Tier, opts.Priority)}
	}

	// Priority gating: HIGH registers before any waiting so NORMAL callers
	// observe it immediately; NORMAL waits for the HIGH queue to drain
	// before touching limiter or network.
	if opts.Priority == PriorityHigh {
		d.gate.enterHigh()
		d.metrics.HighEntered(ctx)
		defer func() {
			d.gate.exitHigh()
			d.metrics.HighExited(ctx)
		}()
	} else {
		if err := d.gate.waitDrained(ctx); err != nil {
			return "", 0, &ProviderError{Provider: provider, Kind: KindTimeout,
				Err: fmt.Errorf("waiting for high-priority drain: %w", err)}
		}
	}

	estimated := d.accountant.CountMessages(Contents(msgs))

	// Pre-flight context-window check: never burn a rate-limit slot on a
	// request the backend is guaranteed to reject.
	if safe := state.spec.SafeInputTokens(); safe > 0 && estimated > safe {
		err := &ProviderError{Provider: provider, Kind: KindBadRequest,
			Err: fmt.Errorf("estimated prompt %d tokens exceeds safe input %d", estimated, safe)}
		d.recordFailure(ctx, state, opts.Priority, 0, err)
		return "", 0, err
	}

	if !d.limiter.Acquire(ctx, provider, estimated) {
		err := &ProviderError{Provider: provider, Kind: KindTimeout,
			Err: fmt.Errorf("rate limiter deadline exceeded")}
		d.recordFailure(ctx, state, opts.Priority, 0, err)
		return "", 0, err
	}

	if err := state.sem.Acquire(ctx, 1); err != nil {
		perr := &ProviderError{Provider: provider, Kind: KindTimeout,
			Err: fmt.Errorf("concurrency slot: %w", err)}
		d.recordFailure(ctx, state, opts.Priority, 0, perr)
		return "", 0, perr
	}
	defer state.sem.Release(1)

	content, latency, err := d.roundTrip(ctx, state, msgs, opts, estimated)
	if err != nil {
		d.recordFailure(ctx, state, opts.Priority, latency, err)
		return "", latency, err
	}

	d.health.RecordSuccess(provider, latency)
	d.metrics.RecordProviderRequest(ctx, provider, opts.Priority.String(), "ok", latency)
	return content, latency, nil
}

// roundTrip performs the network attempt, including the structured-output
// fallback: a BadRequest while requesting a JSON response format is retried
// once without the format and with a reinforcement instruction, which
// accommodates endpoints that advertise but do not implement it.
func (d *Dispatcher) roundTrip(ctx context.Context, state *providerState, msgs []Message, opts CallOptions, estimated int) (string, time.Duration, error) {
	req := CompletionRequest{
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		JSONFormat:  opts.JSONFormat,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = state.spec.Limits.MaxOutputTokens
	}

	callCtx := ctx
	if state.spec.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, state.spec.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := state.client.Complete(callCtx, req)
	latency := time.Since(start)

	if err != nil {
		perr := classifyError(state.spec.Name, err)
		if perr.Kind == KindBadRequest && req.JSONFormat {
			slog.Warn("Structured output rejected, retrying without response format",
				"provider", state.spec.Name, "error", err)
			req.JSONFormat = false
			req.Messages = appendToLastUser(msgs, jsonReinforcement)

			result, err = state.client.Complete(callCtx, req)
			latency = time.Since(start)
			if err != nil {
				return "", latency, classifyError(state.spec.Name, err)
			}
		} else {
			return "", latency, perr
		}
	}

	d.logUsage(state.spec.Name, estimated, result, latency)
	return result.Content, latency, nil
}

// logUsage compares the backend's reported prompt tokens against our
// estimate. Divergence beyond the threshold means the accountant is drifting
// and chunk budgets are at risk.
func (d *Dispatcher) logUsage(provider string, estimated int, result *CompletionResult, latency time.Duration) {
	if result.PromptTokens <= 0 {
		slog.Debug("LLM call complete", "provider", provider, "latency_ms", latency.Milliseconds())
		return
	}
	divergence := math.Abs(float64(result.PromptTokens-estimated)) / float64(result.PromptTokens)
	if divergence > usageDivergenceWarn {
		slog.Warn("Token estimate diverges from reported usage",
			"provider", provider,
			"estimated", estimated,
			"reported", result.PromptTokens,
			"divergence", fmt.Sprintf("%.1f%%", divergence*100))
	}
	slog.Debug("LLM call complete",
		"provider", provider,
		"latency_ms", latency.Milliseconds(),
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens)
}

func (d *Dispatcher) recordFailure(ctx context.Context, state *providerState, p Priority, latency time.Duration, err error) {
	kind := KindOf(err)
	d.health.RecordFailure(state.spec.Name, kind)
	d.metrics.RecordProviderRequest(ctx, state.spec.Name, p.String(), "error", latency)
	d.metrics.RecordProviderError(ctx, state.spec.Name, string(kind))
}

// appendToLastUser returns a copy of msgs with text appended to the content
// of the last user message (or to the last message when none is user-role).
func appendToLastUser(msgs []Message, text string) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == RoleUser {
			out[i].Content += text
			return out
		}
	}
	if len(out) > 0 {
		out[len(out)-1].Content += text
	}
	return out
}

// CallWithRetry wraps Call with exponential backoff on retryable error kinds
// only; BadRequest and Empty propagate immediately. The backoff for attempt
// n is base × 2^n.
func (d *Dispatcher) CallWithRetry(ctx context.Context, provider string, msgs []Message, opts CallOptions) (string, time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := d.cfg.BaseBackoff * time.Duration(1<<(attempt-1))
			slog.Debug("Retrying LLM call",
				"provider", provider, "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", 0, &ProviderError{Provider: provider, Kind: KindTimeout, Err: ctx.Err()}
			case <-time.After(backoff):
			}
		}

		content, latency, err := d.Call(ctx, provider, msgs, opts)
		if err == nil {
			return content, latency, nil
		}
		if !IsRetryable(err) {
			return "", latency, err
		}
		lastErr = err
	}
	return "", 0, lastErr
}

// WeightedSelection returns k provider names for NORMAL traffic sampled in
// proportion to their configured weights: each provider contributes
// max(1, k×weight/total) slots, the list is padded with the heaviest
// provider, shuffled, and truncated to k.
func (d *Dispatcher) WeightedSelection(k int) []string {
	type entry struct {
		name   string
		weight int
	}
	var entries []entry
	total := 0
	for _, spec := range d.registry.All() {
		if !spec.Tier.ServesNormal() {
			continue
		}
		w := spec.Weight
		if w < 1 {
			w = 1
		}
		entries = append(entries, entry{spec.Name, w})
		total += w
	}
	if len(entries) == 0 || k <= 0 {
		return nil
	}

	out := make([]string, 0, k)
	heaviest := entries[0]
	for _, e := range entries {
		if e.weight > heaviest.weight {
			heaviest = e
		}
		count := k * e.weight / total
		if count < 1 {
			count = 1
		}
		for i := 0; i < count && len(out) < k; i++ {
			out = append(out, e.name)
		}
	}
	for len(out) < k {
		out = append(out, heaviest.name)
	}

	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:k]
}

// BestProvider picks the eligible provider with the shortest rate-limiter
// wait for a prompt of estimatedTokens, breaking ties by priority score.
func (d *Dispatcher) BestProvider(p Priority, estimatedTokens int) (string, error) {
	candidates := d.ProvidersFor(p)
	if len(candidates) == 0 {
		return "", &ProviderError{Kind: KindNotConfigured,
			Err: fmt.Errorf("no provider serves %s calls", p)}
	}
	best := d.limiter.BestProvider(candidates, estimatedTokens)
	if best == "" {
		best = candidates[0]
	}
	return best, nil
}

// DescribeProviders summarizes the registered providers for startup logs.
func (d *Dispatcher) DescribeProviders() string {
	var parts []string
	for _, spec := range d.registry.All() {
		parts = append(parts, fmt.Sprintf("%s(%s/%s)", spec.Name, spec.Tier, spec.Model))
	}
	return strings.Join(parts, ", ")
}

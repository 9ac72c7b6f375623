package llm

import (
	"sync"
	"time"
)

// latencyWindow is how many recent call latencies are kept per provider.
const latencyWindow = 50

// healthGoodLatency is the latency at or below which a provider scores full
// marks on the latency component.
const healthGoodLatency = 5 * time.Second

// ProviderHealth is a point-in-time snapshot of one provider's recent
// behavior.
type ProviderHealth struct {
	Provider       string           `json:"provider"`
	Score          float64          `json:"score"`
	Successes      int64            `json:"successes"`
	Failures       int64            `json:"failures"`
	FailuresByKind map[string]int64 `json:"failures_by_kind"`
	AvgLatencyMS   int64            `json:"avg_latency_ms"`
	LastSuccess    time.Time        `json:"last_success,omitempty"`
	LastFailure    time.Time        `json:"last_failure,omitempty"`
}

// providerStats is the mutable per-provider record.
type providerStats struct {
	successes      int64
	failures       int64
	failuresByKind map[ErrorKind]int64
	latencies      []time.Duration // ring, newest at tail
	lastSuccess    time.Time
	lastFailure    time.Time
}

// HealthMonitor aggregates success/failure history per provider and derives
// a 0–100 health score. The score is advisory: it feeds logs and the admin
// API, never routing decisions.
type HealthMonitor struct {
	mu    sync.Mutex
	stats map[string]*providerStats
}

// NewHealthMonitor returns an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{stats: make(map[string]*providerStats)}
}

func (h *HealthMonitor) get(provider string) *providerStats {
	s, ok := h.stats[provider]
	if !ok {
		s = &providerStats{failuresByKind: make(map[ErrorKind]int64)}
		h.stats[provider] = s
	}
	return s
}

// RecordSuccess registers one successful call and its latency.
func (h *HealthMonitor) RecordSuccess(provider string, latency time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(provider)
	s.successes++
	s.lastSuccess = time.Now()
	s.latencies = append(s.latencies, latency)
	if len(s.latencies) > latencyWindow {
		s.latencies = s.latencies[len(s.latencies)-latencyWindow:]
	}
}

// RecordFailure registers one failed call by error kind.
func (h *HealthMonitor) RecordFailure(provider string, kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.get(provider)
	s.failures++
	s.failuresByKind[kind]++
	s.lastFailure = time.Now()
}

// Score computes the 0–100 health score for one provider. Weights: success
// rate 40%, latency 30%, rate-limit pressure 20%, recency 10%. An unknown
// provider scores 100 (no evidence of trouble).
func (h *HealthMonitor) Score(provider string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.stats[provider]
	if !ok {
		return 100
	}
	return scoreOf(s)
}

func scoreOf(s *providerStats) float64 {
	total := s.successes + s.failures
	if total == 0 {
		return 100
	}

	successRate := float64(s.successes) / float64(total)

	latencyScore := 1.0
	if avg := avgLatency(s.latencies); avg > healthGoodLatency {
		latencyScore = float64(healthGoodLatency) / float64(avg)
	}

	rateLimitScore := 1.0
	if rl := s.failuresByKind[KindRateLimit]; rl > 0 {
		rateLimitScore = 1 - float64(rl)/float64(total)
		if rateLimitScore < 0 {
			rateLimitScore = 0
		}
	}

	recencyScore := 1.0
	if s.lastFailure.After(s.lastSuccess) {
		recencyScore = 0
	}

	score := 100 * (0.4*successRate + 0.3*latencyScore + 0.2*rateLimitScore + 0.1*recencyScore)
	return score
}

func avgLatency(window []time.Duration) time.Duration {
	if len(window) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range window {
		sum += l
	}
	return sum / time.Duration(len(window))
}

// Snapshot returns the health of every tracked provider.
func (h *HealthMonitor) Snapshot() []ProviderHealth {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]ProviderHealth, 0, len(h.stats))
	for name, s := range h.stats {
		byKind := make(map[string]int64, len(s.failuresByKind))
		for k, v := range s.failuresByKind {
			byKind[string(k)] = v
		}
		out = append(out, ProviderHealth{
			Provider:       name,
			Score:          scoreOf(s),
			Successes:      s.successes,
			Failures:       s.failures,
			FailuresByKind: byKind,
			AvgLatencyMS:   avgLatency(s.latencies).Milliseconds(),
			LastSuccess:    s.lastSuccess,
			LastFailure:    s.lastFailure,
		})
	}
	return out
}

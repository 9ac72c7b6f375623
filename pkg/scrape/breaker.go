package scrape

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerRegistry tracks per-domain consecutive fetch failures and opens a
// circuit after threshold of them, rejecting fetches for that domain until
// the cooldown expires. A half-open probe state is deliberately absent: the
// circuit closes only when the cooldown has elapsed, never because of a
// success recorded elsewhere.
type BreakerRegistry struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	domains   map[string]*domainCircuit
}

type domainCircuit struct {
	failures int
	open     bool
	openedAt time.Time
	skipped  int
}

// NewBreakerRegistry builds a registry with the given trip threshold and
// open-state cooldown.
func NewBreakerRegistry(threshold int, cooldown time.Duration) *BreakerRegistry {
	return &BreakerRegistry{
		threshold: threshold,
		cooldown:  cooldown,
		domains:   make(map[string]*domainCircuit),
	}
}

// Allow reports whether a fetch against host may proceed. An open circuit
// whose cooldown has expired closes here, with its failure count reset.
func (b *BreakerRegistry) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.domains[host]
	if !ok {
		return true
	}
	if !c.open {
		return true
	}
	if time.Since(c.openedAt) >= b.cooldown {
		slog.Info("Circuit closed after cooldown",
			"host", host,
			"skipped_while_open", c.skipped)
		c.open = false
		c.failures = 0
		c.skipped = 0
		return true
	}
	c.skipped++
	return false
}

// RecordFailure counts one failed fetch against host and opens the circuit
// at the threshold.
func (b *BreakerRegistry) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.domains[host]
	if !ok {
		c = &domainCircuit{}
		b.domains[host] = c
	}
	if c.open {
		return
	}
	c.failures++
	if c.failures >= b.threshold {
		c.open = true
		c.openedAt = time.Now()
		slog.Warn("Circuit opened",
			"host", host,
			"consecutive_failures", c.failures,
			"cooldown", b.cooldown)
	}
}

// RecordSuccess resets the consecutive failure count while the circuit is
// closed. A success has no effect on an open circuit.
func (b *BreakerRegistry) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.domains[host]; ok && !c.open {
		c.failures = 0
	}
}

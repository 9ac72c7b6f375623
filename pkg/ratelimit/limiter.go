// Package ratelimit enforces per-provider request-per-minute and
// token-per-minute budgets with paired token buckets.
//
// Both buckets must grant before a call may proceed; the decrement is
// immediate and no reservation is held across the wait. Waiters sleep in
// bounded slices so cancellation is never delayed by more than one refill
// granularity.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// refillGranularity bounds a single cooperative sleep while waiting for
// bucket capacity.
const refillGranularity = 100 * time.Millisecond

// Limits declares a provider's per-minute budgets. Non-positive values mean
// unlimited.
type Limits struct {
	RPM int
	TPM int
}

// Limiter holds one bucket pair per provider. Acquisitions on different
// providers proceed in parallel; within a provider they are serialized.
type Limiter struct {
	mu        sync.RWMutex
	providers map[string]*bucketPair
}

type bucketPair struct {
	mu  sync.Mutex
	rpm *rate.Limiter
	tpm *rate.Limiter
}

// New returns an empty Limiter. Providers are added with Register.
func New() *Limiter {
	return &Limiter{providers: make(map[string]*bucketPair)}
}

// Register installs the bucket pair for a provider. Both buckets start full
// (capacity = per-minute budget, refill = budget/60 per second). Registering
// an existing provider resets its buckets.
func (l *Limiter) Register(provider string, limits Limits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.providers[provider] = &bucketPair{
		rpm: newBucket(limits.RPM),
		tpm: newBucket(limits.TPM),
	}
	slog.Debug("Rate limiter registered provider",
		"provider", provider,
		"rpm", limits.RPM,
		"tpm", limits.TPM)
}

func newBucket(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}

func (l *Limiter) pair(provider string) *bucketPair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.providers[provider]
}

// Acquire blocks until both buckets can supply one request slot and
// estimatedTokens tokens, or the context is done. Returns true on success
// (capacity already deducted) and false on deadline; it never reports which
// bucket was the constraint. Unregistered providers are unlimited.
func (l *Limiter) Acquire(ctx context.Context, provider string, estimatedTokens int) bool {
	p := l.pair(provider)
	if p == nil {
		return true
	}

	for {
		wait, ok := p.take(estimatedTokens)
		if ok {
			return true
		}
		if wait > refillGranularity {
			wait = refillGranularity
		}
		if wait <= 0 {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

// take attempts an immediate joint deduction. On insufficient capacity it
// restores any partial reservation and reports how long the tighter bucket
// needs.
func (p *bucketPair) take(estimatedTokens int) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	rres := p.rpm.ReserveN(now, 1)
	tres := p.tpm.ReserveN(now, clampTokens(estimatedTokens))

	if !rres.OK() || !tres.OK() {
		// The request can never fit (tokens above bucket capacity). Report an
		// unbounded wait; the caller's deadline terminates the loop.
		if rres.OK() {
			rres.CancelAt(now)
		}
		if tres.OK() {
			tres.CancelAt(now)
		}
		return rate.InfDuration, false
	}

	rd := rres.DelayFrom(now)
	td := tres.DelayFrom(now)
	if rd == 0 && td == 0 {
		return 0, true
	}

	rres.CancelAt(now)
	tres.CancelAt(now)
	if td > rd {
		rd = td
	}
	return rd, false
}

// WaitEstimate reports how long an acquisition of estimatedTokens would wait
// right now, without consuming capacity. Zero means it would proceed
// immediately; rate.InfDuration means it can never fit.
func (l *Limiter) WaitEstimate(provider string, estimatedTokens int) time.Duration {
	p := l.pair(provider)
	if p == nil {
		return 0
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	rres := p.rpm.ReserveN(now, 1)
	tres := p.tpm.ReserveN(now, clampTokens(estimatedTokens))
	defer func() {
		if rres.OK() {
			rres.CancelAt(now)
		}
		if tres.OK() {
			tres.CancelAt(now)
		}
	}()

	if !rres.OK() || !tres.OK() {
		return rate.InfDuration
	}
	rd := rres.DelayFrom(now)
	if td := tres.DelayFrom(now); td > rd {
		rd = td
	}
	return rd
}

// BestProvider returns the candidate with the smallest wait estimate for
// estimatedTokens, preferring earlier candidates on ties. Empty candidates
// return "".
func (l *Limiter) BestProvider(candidates []string, estimatedTokens int) string {
	best := ""
	bestWait := rate.InfDuration
	for _, c := range candidates {
		if w := l.WaitEstimate(c, estimatedTokens); w < bestWait {
			best = c
			bestWait = w
		}
	}
	if best == "" && len(candidates) > 0 {
		return candidates[0]
	}
	return best
}

func clampTokens(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

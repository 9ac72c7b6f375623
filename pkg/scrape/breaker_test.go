package scrape

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreakerRegistry(3, time.Minute)

	b.RecordFailure("example.com")
	b.RecordFailure("example.com")
	assert.True(t, b.Allow("example.com"), "stays closed below threshold")

	b.RecordFailure("example.com")
	assert.False(t, b.Allow("example.com"), "opens at threshold")
}

func TestBreakerSuccessResetsWhileClosed(t *testing.T) {
	b := NewBreakerRegistry(3, time.Minute)

	b.RecordFailure("example.com")
	b.RecordFailure("example.com")
	b.RecordSuccess("example.com")
	b.RecordFailure("example.com")
	b.RecordFailure("example.com")
	assert.True(t, b.Allow("example.com"), "success reset the consecutive count")
}

func TestBreakerClosesOnlyByCooldownExpiry(t *testing.T) {
	b := NewBreakerRegistry(1, 30*time.Millisecond)

	b.RecordFailure("example.com")
	assert.False(t, b.Allow("example.com"))

	// A success while open must not close the circuit.
	b.RecordSuccess("example.com")
	assert.False(t, b.Allow("example.com"))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, b.Allow("example.com"), "cooldown expiry closes the circuit")

	// Closed again with a clean slate.
	assert.True(t, b.Allow("example.com"))
}

func TestBreakerIsolatesDomains(t *testing.T) {
	b := NewBreakerRegistry(1, time.Minute)
	b.RecordFailure("down.example.com")
	assert.False(t, b.Allow("down.example.com"))
	assert.True(t, b.Allow("up.example.com"))
}

func TestProxyRingRoundRobin(t *testing.T) {
	r := NewProxyRing([]string{"http://p1:8080", "http://p2:8080"})
	assert.Equal(t, "http://p1:8080", r.Next())
	assert.Equal(t, "http://p2:8080", r.Next())
	assert.Equal(t, "http://p1:8080", r.Next())
}

func TestProxyRingEmptyMeansDirect(t *testing.T) {
	r := NewProxyRing(nil)
	assert.Equal(t, "", r.Next())
	assert.Equal(t, 0, r.Size())
}

package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountFallbackRatio(t *testing.T) {
	a := NewAccountant("", 3)

	assert.Equal(t, 2, a.Count("abcdef"), "6 chars / 3 per token")
	assert.Equal(t, 33, a.Count(strings.Repeat("x", 100)))
}

func TestCountMinimumIsOne(t *testing.T) {
	a := NewAccountant("", 3)

	assert.Equal(t, 1, a.Count(""))
	assert.Equal(t, 1, a.Count("ab"))
}

func TestCountCustomRatio(t *testing.T) {
	a := NewAccountant("", 4)
	assert.Equal(t, 25, a.Count(strings.Repeat("x", 100)))

	// Non-positive ratio falls back to the default.
	a = NewAccountant("", 0)
	assert.Equal(t, 33, a.Count(strings.Repeat("x", 100)))
}

func TestCountMessagesAddsPerMessageOverhead(t *testing.T) {
	a := NewAccountant("", 3)

	// 300 chars -> 100 tokens, plus 100 overhead per message.
	contents := []string{strings.Repeat("a", 150), strings.Repeat("b", 150)}
	assert.Equal(t, 100+2*MessageOverhead, a.CountMessages(contents))
}

func TestCountMessagesMinimumIsOneHundred(t *testing.T) {
	a := NewAccountant("", 3)

	assert.Equal(t, 100, a.CountMessages(nil))
	assert.Equal(t, 100, a.CountMessages([]string{""}))
}

func TestUnknownTokenizerModelFallsBack(t *testing.T) {
	a := NewAccountant("definitely-not-a-model", 3)
	assert.Equal(t, 2, a.Count("abcdef"))
}

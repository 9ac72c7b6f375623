// Package token estimates token counts for LLM requests and computes the
// dynamic safety margins used by the chunker and the dispatcher pre-flight
// checks.
package token

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultCharsPerToken is the fallback character-to-token ratio used when no
// tokenizer is configured. Scraped Portuguese web text averages ~3 chars per
// token on the models we target.
const DefaultCharsPerToken = 3

// MessageOverhead approximates the chat-framing cost (role, separators) that
// providers add per message.
const MessageOverhead = 100

// Accountant counts tokens for strings and chat message lists. When built
// with a known model it uses the model's tokenizer; otherwise it falls back
// to a character-ratio estimate.
type Accountant struct {
	encoding      *tiktoken.Tiktoken
	charsPerToken int
}

// NewAccountant builds an Accountant for the given tokenizer model. An empty
// model, or one tiktoken does not know, selects the character-ratio fallback.
// charsPerToken <= 0 selects DefaultCharsPerToken.
func NewAccountant(model string, charsPerToken int) *Accountant {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	a := &Accountant{charsPerToken: charsPerToken}
	if model == "" {
		return a
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Model name may itself be an encoding name (e.g. "cl100k_base").
		enc, err = tiktoken.GetEncoding(model)
	}
	if err != nil {
		slog.Warn("Tokenizer unavailable, using character-ratio estimate",
			"model", model,
			"chars_per_token", charsPerToken,
			"error", err)
		return a
	}
	a.encoding = enc
	return a
}

// Count returns the token count of text. Minimum return value is 1 so that
// downstream budget math never divides by zero.
func (a *Accountant) Count(text string) int {
	if a.encoding != nil {
		if n := len(a.encoding.Encode(text, nil, nil)); n > 0 {
			return n
		}
		return 1
	}
	n := len(text) / a.charsPerToken
	if n < 1 {
		return 1
	}
	return n
}

// CountMessages estimates the token count of a chat message list from the
// message contents plus a fixed per-message framing overhead. Minimum return
// value is 100.
func (a *Accountant) CountMessages(contents []string) int {
	totalChars := 0
	for _, c := range contents {
		totalChars += len(c)
	}

	var base int
	if a.encoding != nil {
		for _, c := range contents {
			base += len(a.encoding.Encode(c, nil, nil))
		}
	} else {
		base = totalChars / a.charsPerToken
	}

	estimated := base + len(contents)*MessageOverhead
	if estimated < 100 {
		return 100
	}
	return estimated
}

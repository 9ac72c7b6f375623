package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
)

// ErrorKind classifies a failed provider call. Retryability is a property of
// the kind, not of the individual error.
type ErrorKind string

const (
	// KindRateLimit is a remote 429: the server told us to back off.
	KindRateLimit ErrorKind = "rate_limit"

	// KindTimeout is unbounded latency, local or remote.
	KindTimeout ErrorKind = "timeout"

	// KindTransport covers connection failures and 5xx responses.
	KindTransport ErrorKind = "transport"

	// KindBadRequest is a non-429 4xx: prompt, schema, or auth fatal to
	// this attempt.
	KindBadRequest ErrorKind = "bad_request"

	// KindEmpty means the response carried no choices or empty content;
	// treated as a provider malfunction on this call.
	KindEmpty ErrorKind = "empty"

	// KindNotConfigured means no provider could serve the call at all.
	KindNotConfigured ErrorKind = "not_configured"
)

// Retryable reports whether another attempt against the same provider can
// reasonably succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindTransport:
		return true
	}
	return false
}

// ProviderError is the typed failure returned by the dispatcher.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

// Error returns the formatted error message.
func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from err, or KindTransport when err is not
// a ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransport
}

// IsRetryable reports whether err classifies as a retryable provider error.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// classifyError maps transport-layer and SDK errors into the taxonomy.
func classifyError(provider string, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &ProviderError{Provider: provider, Kind: KindTimeout, Err: err}
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			return &ProviderError{Provider: provider, Kind: KindRateLimit, Err: err}
		case apierr.StatusCode >= 500:
			return &ProviderError{Provider: provider, Kind: KindTransport, Err: err}
		case apierr.StatusCode >= 400:
			return &ProviderError{Provider: provider, Kind: KindBadRequest, Err: err}
		}
	}

	return &ProviderError{Provider: provider, Kind: KindTransport, Err: err}
}

package config

import "time"

// LLMConfig tunes the dispatcher's retry policy and per-request timeout.
type LLMConfig struct {
	// ProviderTimeout bounds one completion request end to end.
	ProviderTimeout time.Duration `yaml:"provider_timeout"`

	// MaxRetries is the number of additional attempts after the first
	// failed call to the same provider.
	MaxRetries int `yaml:"max_retries"`

	// BaseBackoff is the first retry delay; subsequent retries double it.
	BaseBackoff time.Duration `yaml:"base_backoff"`
}

// DefaultLLMConfig returns the built-in dispatcher defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		ProviderTimeout: DefaultProviderTimeout,
		MaxRetries:      2,
		BaseBackoff:     1 * time.Second,
	}
}

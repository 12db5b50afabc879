package config

import (
	"fmt"
	"time"
)

// Provider identities used as rate-limit keys. Caps are process-wide and
// shared across all tenants.
const (
	ProviderBatchTranscription     = "batch-transcription"
	ProviderStreamingTranscription = "streaming-transcription"
	ProviderSynthesis              = "synthesis"
	ProviderLLM                    = "llm"
	ProviderSearch                 = "search"
)

// RateLimitConfig caps concurrent in-flight calls per external provider.
type RateLimitConfig struct {
	// Caps maps provider identity to max concurrent in-flight calls.
	Caps map[string]int `yaml:"caps"`

	// AcquireTimeout is how long an acquire may wait for a slot before the
	// caller observes capacity exhaustion.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// DefaultRateLimitConfig returns caps aligned with current provider
// agreements.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Caps: map[string]int{
			ProviderBatchTranscription:     5,
			ProviderStreamingTranscription: 10,
			ProviderSynthesis:              26,
			ProviderLLM:                    10,
			ProviderSearch:                 3,
		},
		AcquireTimeout: 5 * time.Second,
	}
}

// Validate checks cap sanity.
func (c *RateLimitConfig) Validate() error {
	for name, cap := range c.Caps {
		if cap < 1 {
			return fmt.Errorf("rate_limits.caps[%s] must be at least 1, got %d", name, cap)
		}
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("rate_limits.acquire_timeout must be positive")
	}
	return nil
}

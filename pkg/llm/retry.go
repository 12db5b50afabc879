package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/parleyhq/parley/pkg/observe"
	"github.com/parleyhq/parley/pkg/ratelimit"
)

// Retrying wraps a Client with the process-wide llm concurrency cap and
// exponential backoff with jitter on transient failures. Non-transient
// errors short-circuit; exhaustion surfaces as ErrAgentUnavailable.
type Retrying struct {
	inner      Client
	fabric     *ratelimit.Fabric
	provider   string
	maxRetries int
	metrics    *observe.Metrics

	// initialInterval is overridable by tests to keep retries fast.
	initialInterval time.Duration
}

// NewRetrying wraps inner. metrics may be nil.
func NewRetrying(inner Client, fabric *ratelimit.Fabric, provider string, maxRetries int, metrics *observe.Metrics) *Retrying {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Retrying{
		inner:           inner,
		fabric:          fabric,
		provider:        provider,
		maxRetries:      maxRetries,
		metrics:         metrics,
		initialInterval: 500 * time.Millisecond,
	}
}

// Generate implements Client.
func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	if r.fabric != nil {
		waitStart := time.Now()
		if err := r.fabric.Acquire(ctx, r.provider); err != nil {
			return "", err
		}
		defer r.fabric.Release(r.provider)
		if r.metrics != nil {
			r.metrics.RateLimitWait.Record(ctx, time.Since(waitStart).Seconds())
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.initialInterval
	policy.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	var lastErr error
	for attempt := 0; attempt < r.maxRetries; attempt++ {
		text, err := r.inner.Generate(ctx, req)
		if err == nil {
			r.record(ctx, "ok")
			return text, nil
		}
		lastErr = err

		if !errors.Is(err, ErrTransient) {
			r.record(ctx, "error")
			return "", err
		}
		if attempt == r.maxRetries-1 {
			break
		}

		delay := policy.NextBackOff()
		slog.Warn("LLM call failed, retrying",
			"provider", r.provider,
			"attempt", attempt+1,
			"max_attempts", r.maxRetries,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	r.record(ctx, "error")
	slog.Error("LLM call failed after retries",
		"provider", r.provider, "attempts", r.maxRetries, "error", lastErr)
	return "", fmt.Errorf("%w: %v", ErrAgentUnavailable, lastErr)
}

func (r *Retrying) record(ctx context.Context, status string) {
	if r.metrics != nil {
		r.metrics.RecordProviderRequest(ctx, r.provider, "generate", status)
		if status != "ok" {
			r.metrics.RecordProviderError(ctx, r.provider, "generate")
		}
	}
}

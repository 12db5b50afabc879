// Package ratelimit caps concurrent in-flight calls to external providers,
// process-wide. Each provider identity gets a counting semaphore; waiters
// are served in FIFO order.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/parleyhq/parley/pkg/config"
)

// ErrCapacityExhausted is returned when no slot becomes available within the
// acquire timeout. Callers report it as a retry-later condition; it is never
// retried internally.
var ErrCapacityExhausted = errors.New("provider capacity exhausted")

// ErrUnknownProvider is returned for a provider name without a configured cap.
var ErrUnknownProvider = errors.New("unknown provider")

type entry struct {
	sem *semaphore.Weighted
	cap int64

	mu     sync.Mutex
	active int64
}

// Fabric is the process-wide rate-limit fabric. Safe for concurrent use.
type Fabric struct {
	providers map[string]*entry
	timeout   time.Duration
}

// ProviderStats is a point-in-time usage snapshot for one provider.
type ProviderStats struct {
	Active int64 `json:"active"`
	Max    int64 `json:"max"`
}

// New creates a fabric with the configured per-provider caps.
func New(cfg config.RateLimitConfig) *Fabric {
	f := &Fabric{
		providers: make(map[string]*entry, len(cfg.Caps)),
		timeout:   cfg.AcquireTimeout,
	}
	for name, cap := range cfg.Caps {
		f.providers[name] = &entry{
			sem: semaphore.NewWeighted(int64(cap)),
			cap: int64(cap),
		}
	}
	return f
}

// Acquire blocks until a slot for provider is available, the acquire timeout
// elapses, or ctx is cancelled. On timeout it returns ErrCapacityExhausted.
// Every successful Acquire must be paired with exactly one Release.
func (f *Fabric) Acquire(ctx context.Context, provider string) error {
	e, ok := f.providers[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := e.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("Rate limit slot unavailable", "provider", provider, "timeout", f.timeout)
		return fmt.Errorf("%w: %s", ErrCapacityExhausted, provider)
	}

	e.mu.Lock()
	e.active++
	e.mu.Unlock()
	return nil
}

// TryAcquire grabs a slot without waiting. It reports whether a slot was
// obtained.
func (f *Fabric) TryAcquire(provider string) bool {
	e, ok := f.providers[provider]
	if !ok {
		return false
	}
	if !e.sem.TryAcquire(1) {
		return false
	}
	e.mu.Lock()
	e.active++
	e.mu.Unlock()
	return true
}

// Release returns a previously acquired slot. Releasing a provider with no
// outstanding slot indicates a programming error and panics loudly rather
// than silently corrupting the cap.
func (f *Fabric) Release(provider string) {
	e, ok := f.providers[provider]
	if !ok {
		return
	}
	e.mu.Lock()
	if e.active <= 0 {
		e.mu.Unlock()
		panic(fmt.Sprintf("ratelimit: release without acquire for provider %s", provider))
	}
	e.active--
	e.mu.Unlock()
	e.sem.Release(1)
}

// UsageStats returns a snapshot of active vs. max slots per provider.
func (f *Fabric) UsageStats() map[string]ProviderStats {
	stats := make(map[string]ProviderStats, len(f.providers))
	for name, e := range f.providers {
		e.mu.Lock()
		stats[name] = ProviderStats{Active: e.active, Max: e.cap}
		e.mu.Unlock()
	}
	return stats
}

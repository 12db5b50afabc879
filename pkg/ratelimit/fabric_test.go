package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/config"
)

func newTestFabric(caps map[string]int, timeout time.Duration) *Fabric {
	return New(config.RateLimitConfig{Caps: caps, AcquireTimeout: timeout})
}

func TestAcquireRelease(t *testing.T) {
	f := newTestFabric(map[string]int{"llm": 2}, time.Second)
	ctx := context.Background()

	require.NoError(t, f.Acquire(ctx, "llm"))
	require.NoError(t, f.Acquire(ctx, "llm"))

	stats := f.UsageStats()
	assert.Equal(t, int64(2), stats["llm"].Active)
	assert.Equal(t, int64(2), stats["llm"].Max)

	f.Release("llm")
	f.Release("llm")
	assert.Equal(t, int64(0), f.UsageStats()["llm"].Active)
}

func TestAcquireTimesOutWhenFull(t *testing.T) {
	f := newTestFabric(map[string]int{"stream": 1}, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.Acquire(ctx, "stream"))

	start := time.Now()
	err := f.Acquire(ctx, "stream")
	require.ErrorIs(t, err, ErrCapacityExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	f.Release("stream")
	require.NoError(t, f.Acquire(ctx, "stream"))
	f.Release("stream")
}

func TestAcquireUnknownProvider(t *testing.T) {
	f := newTestFabric(map[string]int{"llm": 1}, time.Second)
	err := f.Acquire(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAcquireHonorsCallerCancellation(t *testing.T) {
	f := newTestFabric(map[string]int{"llm": 1}, 5*time.Second)
	require.NoError(t, f.Acquire(context.Background(), "llm"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := f.Acquire(ctx, "llm")
	assert.ErrorIs(t, err, context.Canceled)
	f.Release("llm")
}

func TestConcurrentInFlightNeverExceedsCap(t *testing.T) {
	const cap = 3
	f := newTestFabric(map[string]int{"batch": cap}, 2*time.Second)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.Acquire(context.Background(), "batch"); err != nil {
				return
			}
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			f.Release("batch")
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(cap))
	assert.Equal(t, int64(0), f.UsageStats()["batch"].Active)
}

func TestTryAcquire(t *testing.T) {
	f := newTestFabric(map[string]int{"tts": 1}, time.Second)

	assert.True(t, f.TryAcquire("tts"))
	assert.False(t, f.TryAcquire("tts"))
	f.Release("tts")
	assert.True(t, f.TryAcquire("tts"))
	f.Release("tts")
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	f := newTestFabric(map[string]int{"tts": 1}, time.Second)
	assert.Panics(t, func() { f.Release("tts") })
}

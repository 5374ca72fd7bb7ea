package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agentrelay/agentrelay/pkg/errors"
)

// drain consumes every immediately-available token
func drain(t *testing.T, rl *RateLimiter) {
	t.Helper()
	for rl.Tokens() >= 1 {
		require.NoError(t, rl.Acquire(context.Background()))
	}
}

func TestRateLimiter_TokensNeverExceedCapacity(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 60,
		RefillInterval:    10 * time.Millisecond,
	})
	rl.Start()
	defer rl.Stop()

	// The bucket starts full; refills must not push it past capacity.
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, rl.Tokens(), 60)

	require.NoError(t, rl.Acquire(context.Background()))
	assert.GreaterOrEqual(t, rl.Tokens(), 0)
}

func TestRateLimiter_SixtyFirstRequestQueues(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 60,
		QueueTimeout:      5 * time.Second,
	})
	defer rl.Stop()

	for i := 0; i < 60; i++ {
		require.NoError(t, rl.Acquire(context.Background()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rl.Acquire(ctx)
	}()

	assert.Eventually(t, func() bool {
		return rl.QueueLength() == 1
	}, time.Second, 5*time.Millisecond, "the 61st caller must queue")

	cancel()
	<-done
}

func TestRateLimiter_QueueTimeoutRemovesCaller(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 60,
		QueueTimeout:      100 * time.Millisecond,
	})
	defer rl.Stop()

	drain(t, rl)

	start := time.Now()
	err := rl.Acquire(context.Background())
	waited := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRateLimitTimeout))
	assert.GreaterOrEqual(t, waited, 100*time.Millisecond)
	assert.Equal(t, 0, rl.QueueLength(), "the timed-out caller is removed from the queue")
}

func TestRateLimiter_QueuedCallersReleasedFIFO(t *testing.T) {
	// 6000/minute refills 100 tokens per second, fast enough to release
	// three queued callers quickly.
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 6000,
		QueueTimeout:      5 * time.Second,
		RefillInterval:    10 * time.Millisecond,
	})
	defer rl.Stop()

	drain(t, rl)

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, rl.Acquire(context.Background()))
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)

		// Stagger arrivals so queue order is deterministic.
		assert.Eventually(t, func() bool {
			return rl.QueueLength() == i+1
		}, time.Second, time.Millisecond)
	}

	rl.Start()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order, "queued callers are released in arrival order")
}

func TestRateLimiter_CancelledWaiterLeavesQueue(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 60,
		QueueTimeout:      5 * time.Second,
	})
	defer rl.Stop()

	drain(t, rl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rl.Acquire(ctx)
	}()

	assert.Eventually(t, func() bool {
		return rl.QueueLength() == 1
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRateLimitTimeout))
	assert.Equal(t, 0, rl.QueueLength())
}

func TestRateLimiter_StopFailsQueuedWaiters(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 60,
		QueueTimeout:      5 * time.Second,
	})

	drain(t, rl)

	done := make(chan error, 1)
	go func() {
		done <- rl.Acquire(context.Background())
	}()

	assert.Eventually(t, func() bool {
		return rl.QueueLength() == 1
	}, time.Second, time.Millisecond)

	rl.Stop()
	require.Error(t, <-done)

	// Stop is idempotent, and a stopped limiter rejects new callers.
	rl.Stop()
	require.Error(t, rl.Acquire(context.Background()))
}

func TestRateLimiter_NoDoubleGrant(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Name:              "test",
		CapacityPerMinute: 6000,
		QueueTimeout:      5 * time.Second,
		RefillInterval:    5 * time.Millisecond,
	})
	defer rl.Stop()

	drain(t, rl)
	rl.Start()

	// Many concurrent acquirers against a slow refill: every grant must
	// correspond to exactly one token.
	const callers = 50
	var wg sync.WaitGroup
	granted := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(context.Background()); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, callers, count)
	assert.GreaterOrEqual(t, rl.Tokens(), 0)
	assert.LessOrEqual(t, rl.Tokens(), 6000)
}

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// RateLimiterConfig holds configuration for a token bucket rate limiter
type RateLimiterConfig struct {
	// Name of the endpoint for logging/metrics
	Name string
	// CapacityPerMinute is the bucket capacity in tokens per minute
	CapacityPerMinute int
	// QueueTimeout is how long a queued caller waits before failing
	QueueTimeout time.Duration
	// RefillInterval is the ticker period for refill and queue release.
	// Defaults to one second.
	RefillInterval time.Duration
}

// waiter is a queued Acquire caller. granted is flipped under the limiter
// mutex so a release and a timeout can never both claim the same token.
type waiter struct {
	ready    chan struct{}
	enqueued time.Time
	granted  bool
}

// RateLimiter is a token bucket with a bounded FIFO wait queue. Tokens accrue
// continuously at capacity/60 per second; queued callers are released strictly
// in arrival order as tokens become available.
type RateLimiter struct {
	name         string
	capacity     float64
	queueTimeout time.Duration
	interval     time.Duration

	mutex      sync.Mutex
	tokens     float64
	lastRefill time.Time
	queue      []*waiter

	stopCh  chan struct{}
	stopped bool
	started bool

	logger *logging.Logger
}

// NewRateLimiter creates a new rate limiter. The refill ticker is not running
// until Start is called; Acquire still accrues tokens for synchronous grants.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CapacityPerMinute <= 0 {
		config.CapacityPerMinute = 60
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = 30 * time.Second
	}
	if config.RefillInterval <= 0 {
		config.RefillInterval = time.Second
	}

	return &RateLimiter{
		name:         config.Name,
		capacity:     float64(config.CapacityPerMinute),
		queueTimeout: config.QueueTimeout,
		interval:     config.RefillInterval,
		tokens:       float64(config.CapacityPerMinute),
		lastRefill:   time.Now(),
		stopCh:       make(chan struct{}),
		logger:       logging.GetLogger(),
	}
}

// Start launches the background refill ticker
func (rl *RateLimiter) Start() {
	rl.mutex.Lock()
	if rl.started || rl.stopped {
		rl.mutex.Unlock()
		return
	}
	rl.started = true
	rl.mutex.Unlock()

	go func() {
		ticker := time.NewTicker(rl.interval)
		defer ticker.Stop()

		for {
			select {
			case <-rl.stopCh:
				return
			case <-ticker.C:
				rl.mutex.Lock()
				rl.refillLocked(time.Now())
				rl.releaseLocked()
				rl.mutex.Unlock()
			}
		}
	}()
}

// Stop halts the refill ticker and fails all queued waiters. Idempotent.
func (rl *RateLimiter) Stop() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if rl.stopped {
		return
	}
	rl.stopped = true
	close(rl.stopCh)

	for _, w := range rl.queue {
		if !w.granted {
			close(w.ready)
		}
	}
	rl.queue = nil
}

// Acquire consumes a token, suspending the caller in FIFO order when the
// bucket is empty. A caller not released within the queue timeout fails with
// RATE_LIMIT_TIMEOUT and is removed from the queue.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	rl.mutex.Lock()

	if rl.stopped {
		rl.mutex.Unlock()
		return errors.NewInternalError("rate limiter is stopped").WithDetail("endpoint", rl.name)
	}

	rl.refillLocked(time.Now())

	// Synchronous grant only when nobody is already waiting, so queued
	// callers keep strict arrival order.
	if len(rl.queue) == 0 && rl.tokens >= 1 {
		rl.tokens--
		rl.mutex.Unlock()
		return nil
	}

	w := &waiter{
		ready:    make(chan struct{}, 1),
		enqueued: time.Now(),
	}
	rl.queue = append(rl.queue, w)
	rl.mutex.Unlock()

	timer := time.NewTimer(rl.queueTimeout)
	defer timer.Stop()

	select {
	case _, ok := <-w.ready:
		if !ok {
			return errors.NewInternalError("rate limiter is stopped").WithDetail("endpoint", rl.name)
		}
		return nil
	case <-ctx.Done():
		if rl.withdraw(w) {
			return errors.NewRateLimitTimeoutError(rl.name).WithCause(ctx.Err())
		}
		// Token was granted before the cancellation won the race; keep it.
		return nil
	case <-timer.C:
		if rl.withdraw(w) {
			rl.logger.Warn("Rate limit queue wait timed out",
				"endpoint", rl.name,
				"waited", time.Since(w.enqueued).String(),
			)
			return errors.NewRateLimitTimeoutError(rl.name)
		}
		return nil
	}
}

// Tokens returns the number of currently available whole tokens
func (rl *RateLimiter) Tokens() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	rl.refillLocked(time.Now())
	return int(rl.tokens)
}

// QueueLength returns the number of callers waiting for a token
func (rl *RateLimiter) QueueLength() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	return len(rl.queue)
}

// Name returns the endpoint name of the limiter
func (rl *RateLimiter) Name() string {
	return rl.name
}

// refillLocked accrues tokens for the elapsed time, capped at capacity.
// Callers must hold the mutex.
func (rl *RateLimiter) refillLocked(now time.Time) {
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.lastRefill = now

	rl.tokens += elapsed.Seconds() * rl.capacity / 60.0
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
}

// releaseLocked hands tokens to queued waiters FIFO while tokens remain.
// Callers must hold the mutex.
func (rl *RateLimiter) releaseLocked() {
	for len(rl.queue) > 0 && rl.tokens >= 1 {
		w := rl.queue[0]
		rl.queue = rl.queue[1:]
		rl.tokens--
		w.granted = true
		w.ready <- struct{}{}
	}
}

// withdraw removes a waiter that gave up. Returns false when the waiter was
// already granted a token, in which case the grant stands.
func (rl *RateLimiter) withdraw(w *waiter) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if w.granted {
		return false
	}
	for i, queued := range rl.queue {
		if queued == w {
			rl.queue = append(rl.queue[:i], rl.queue[i+1:]...)
			break
		}
	}
	return true
}

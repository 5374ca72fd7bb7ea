// Package resilience provides the rate limiting, circuit breaking, and retry
// primitives that wrap every outbound call made by an agent.
//
// # Token Bucket Rate Limiter
//
// The rate limiter grants a capped number of tokens per minute, refilled
// continuously, and parks overflow callers in a FIFO queue with a bounded
// wait.
//
//	rl := resilience.NewRateLimiter(resilience.RateLimiterConfig{
//		Name:              "ai-service",
//		CapacityPerMinute: 60,
//		QueueTimeout:      30 * time.Second,
//	})
//	rl.Start()
//	defer rl.Stop()
//
//	if err := rl.Acquire(ctx); err != nil {
//		return err // RATE_LIMIT_TIMEOUT
//	}
//
// # Circuit Breaker
//
// The circuit breaker opens after a configured number of consecutive service
// failures and probes the endpoint with a single call once the cool-down
// elapses.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:         "backend-gateway",
//		Threshold:    5,
//		OpenDuration: 30 * time.Second,
//	})
//
//	generation, err := cb.Allow()
//	if err != nil {
//		return err // CIRCUIT_OPEN
//	}
//	// ... run the call, then:
//	cb.Record(generation, resilience.OutcomeSuccess)
//
// # Retry with Backoff
//
// The retrier reruns failed operations with linear or exponential backoff and
// optional jitter, surfacing the final attempt's error unchanged.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryPolicy())
//	attempts, err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return transport(ctx)
//	})
package resilience

package call

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/metrics"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

// Envelope composes the rate limiter, circuit breaker, and retrier around one
// outbound endpoint and records every outcome. The transport variants (AI,
// RPC, publish) differ only in the operation they hand to Invoke.
//
// Construction is dependency-injected: the envelope receives already-built
// resilience components and never reads configuration itself.
type Envelope struct {
	endpoint string
	limiter  *resilience.RateLimiter
	breaker  *resilience.CircuitBreaker
	retrier  *resilience.Retrier
	recorder *metrics.Recorder
	tracer   trace.Tracer
	logger   *logging.Logger
}

// NewEnvelope creates a call envelope for one endpoint from pre-built
// components. recorder may be nil when no metrics rollup is wanted.
func NewEnvelope(endpoint string, limiter *resilience.RateLimiter, breaker *resilience.CircuitBreaker, retrier *resilience.Retrier, recorder *metrics.Recorder) *Envelope {
	return &Envelope{
		endpoint: endpoint,
		limiter:  limiter,
		breaker:  breaker,
		retrier:  retrier,
		recorder: recorder,
		tracer:   otel.Tracer("agentrelay/call"),
		logger:   logging.GetLogger(),
	}
}

// Endpoint returns the endpoint name this envelope guards
func (e *Envelope) Endpoint() string {
	return e.endpoint
}

// Breaker returns the envelope's circuit breaker
func (e *Envelope) Breaker() *resilience.CircuitBreaker {
	return e.breaker
}

// Limiter returns the envelope's rate limiter
func (e *Envelope) Limiter() *resilience.RateLimiter {
	return e.limiter
}

// Start launches the rate limiter's refill ticker
func (e *Envelope) Start() {
	e.limiter.Start()
}

// Stop halts the rate limiter and fails queued waiters. Idempotent.
func (e *Envelope) Stop() {
	e.limiter.Stop()
}

// Invoke runs one outbound operation through the full pipeline: validation,
// breaker gate, token acquisition, retried transport, outcome recording. It
// returns the number of transport attempts made and a structured error for
// every expected failure category.
//
// A rate limit timeout after the breaker gate releases a half-open probe slot
// without moving the failure counter; only confirmed transport outcomes touch
// breaker state.
func (e *Envelope) Invoke(ctx context.Context, validate func() error, transport func(context.Context) error) (int, error) {
	ctx, span := e.tracer.Start(ctx, "envelope.invoke",
		trace.WithAttributes(attribute.String("endpoint", e.endpoint)),
	)
	defer span.End()

	start := time.Now()

	if validate != nil {
		if err := validate(); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			return 0, e.finish(ctx, start, 0, err)
		}
	}

	generation, err := e.breaker.Allow()
	if err != nil {
		span.SetStatus(codes.Error, "circuit open")
		return 0, e.finish(ctx, start, 0, err)
	}

	if err := e.limiter.Acquire(ctx); err != nil {
		// The call never reached the transport; release a possible probe
		// slot without counting a failure.
		e.breaker.Record(generation, resilience.OutcomeIgnored)
		span.SetStatus(codes.Error, "rate limit timeout")
		return 0, e.finish(ctx, start, 0, err)
	}

	attempts, err := e.retrier.Execute(ctx, transport)
	span.SetAttributes(attribute.Int("attempts", attempts))

	switch {
	case err == nil:
		e.breaker.Record(generation, resilience.OutcomeSuccess)
	case attempts > 0 && errors.CountsTowardBreaker(err):
		e.breaker.Record(generation, resilience.OutcomeFailure)
	default:
		// Zero attempts means the transport was never reached; only
		// confirmed transport failures move the breaker.
		e.breaker.Record(generation, resilience.OutcomeIgnored)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return attempts, e.finish(ctx, start, attempts, err)
}

// finish records the call outcome and stamps the correlation id onto
// structured errors before they cross the envelope boundary.
func (e *Envelope) finish(ctx context.Context, start time.Time, attempts int, err error) error {
	elapsed := time.Since(start)

	result := metrics.CallResult{
		Success:  err == nil,
		Attempts: attempts,
		Elapsed:  elapsed,
	}
	if err != nil {
		result.ErrorKind = errors.GetType(err)
	}
	if e.recorder != nil {
		e.recorder.Record(e.endpoint, result)
	}

	e.logger.LogCallEvent(ctx, e.endpoint, err == nil, attempts, elapsed, nil)

	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.CorrelationID == "" {
			if correlationID := logging.GetCorrelationID(ctx); correlationID != "" {
				return appErr.WithCorrelationID(correlationID)
			}
		}
	}
	return err
}

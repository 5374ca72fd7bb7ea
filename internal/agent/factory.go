package agent

import (
	"fmt"

	"github.com/agentrelay/agentrelay/internal/broker"
	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/config"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/metrics"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

// Factory assembles agents from configuration. It is the only place
// configuration-driven construction happens; managers themselves always
// receive finished clients.
type Factory struct {
	cfg        *config.Config
	recorder   *metrics.Recorder
	metrics    *metrics.Metrics
	hub        *broker.Hub
	registry   *broker.Registry
	generation call.GenerationTransport
	gateway    call.GatewayTransport
}

// NewFactory creates an agent factory over shared infrastructure
func NewFactory(cfg *config.Config, recorder *metrics.Recorder, m *metrics.Metrics, hub *broker.Hub, registry *broker.Registry, generation call.GenerationTransport, gateway call.GatewayTransport) *Factory {
	return &Factory{
		cfg:        cfg,
		recorder:   recorder,
		metrics:    m,
		hub:        hub,
		registry:   registry,
		generation: generation,
		gateway:    gateway,
	}
}

// BuildAgent constructs a fully-wired lifecycle manager for one agent type
func (f *Factory) BuildAgent(agentType string) (*Manager, error) {
	// Breakers are built before the manager exists; the closure resolves
	// the manager at event time.
	var mgr *Manager
	onStateChange := func(name string, from, to resilience.CircuitState) {
		if mgr != nil {
			mgr.OnBreakerStateChange(name, from, to)
		}
	}

	newAI := func() *call.AIClient {
		return call.NewAIClient(f.buildEnvelope(agentType+".ai", onStateChange), f.generation)
	}
	newRPC := func() *call.RPCClient {
		return call.NewRPCClient(f.buildEnvelope(agentType+".gateway", onStateChange), f.gateway, agentType)
	}

	publisher := call.NewPublisher(
		f.buildEnvelope(agentType+".broker", onStateChange),
		f.hub,
		agentType,
	)

	var handler Handler
	clients := Clients{Publisher: publisher}

	switch agentType {
	case "chat":
		clients.AI = newAI()
		handler = NewChatHandler(clients.AI, publisher)
	case "risk":
		clients.RPC = newRPC()
		handler = NewRiskHandler(clients.RPC, publisher)
	case "recommendation":
		clients.AI = newAI()
		clients.RPC = newRPC()
		handler = NewRecommendationHandler(clients.RPC, clients.AI)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown agent type: %s", agentType))
	}

	mgr = NewManager(agentType, handler, clients, f.hub, f.registry, f.metrics, ManagerConfig{
		HeartbeatInterval: f.cfg.Agents.HeartbeatInterval,
		MetricsInterval:   f.cfg.Agents.MetricsInterval,
		RecentErrorsLimit: f.cfg.Agents.RecentErrorsLimit,
	})
	return mgr, nil
}

// buildEnvelope assembles one endpoint's resilience stack from configuration
func (f *Factory) buildEnvelope(endpoint string, onStateChange func(string, resilience.CircuitState, resilience.CircuitState)) *call.Envelope {
	res := f.cfg.Resilience

	limiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:              endpoint,
		CapacityPerMinute: res.RateLimitPerMinute,
		QueueTimeout:      res.RateLimitQueueTimeout,
	})

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:          endpoint,
		Threshold:     res.CircuitBreakerThreshold,
		OpenDuration:  res.CircuitOpenDuration,
		OnStateChange: onStateChange,
	})

	retrier := resilience.NewRetrier(resilience.RetryPolicy{
		MaxAttempts:  res.RetryMaxAttempts,
		Strategy:     resilience.BackoffStrategy(res.RetryBackoffStrategy),
		InitialDelay: res.RetryInitialDelay,
		MaxDelay:     res.RetryMaxDelay,
		Jitter:       res.RetryJitter,
	})

	return call.NewEnvelope(endpoint, limiter, breaker, retrier, f.recorder)
}

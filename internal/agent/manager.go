package agent

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/broker"
	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/metrics"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

// ManagerConfig tunes one agent lifecycle manager
type ManagerConfig struct {
	AgentID           string
	HeartbeatInterval time.Duration
	MetricsInterval   time.Duration
	RecentErrorsLimit int
}

// Manager drives one agent through its lifecycle: initializing, running,
// error, stopped. It owns the agent's envelopes, scheduler, and state; the
// domain handler only sees validated requests.
//
// All resilience state lives for the process lifetime; agent state is
// created by Initialize and torn down by Shutdown.
type Manager struct {
	agentID   string
	agentType string
	handler   Handler
	clients   Clients
	hub       *broker.Hub
	registry  *broker.Registry
	bus       *Bus
	scheduler *Scheduler
	metrics   *metrics.Metrics
	logger    *logging.Logger

	recentErrorsLimit int

	mutex             sync.RWMutex
	status            Status
	subscriptions     []*broker.Subscription
	startedAt         time.Time
	requestsProcessed int64
	requestFailures   int64
	avgResponseTime   time.Duration
	lastHeartbeat     time.Time
	recentErrors      []RecordedError

	cpu cpuTracker
}

// NewManager creates a lifecycle manager from already-constructed
// collaborators. Configuration-driven assembly lives in the factory, not
// here.
func NewManager(agentType string, handler Handler, clients Clients, hub *broker.Hub, registry *broker.Registry, m *metrics.Metrics, config ManagerConfig) *Manager {
	agentID := config.AgentID
	if agentID == "" {
		agentID = agentType + "-" + logging.NewCorrelationID()[:8]
	}
	if config.RecentErrorsLimit <= 0 {
		config.RecentErrorsLimit = 10
	}

	mgr := &Manager{
		agentID:           agentID,
		agentType:         agentType,
		handler:           handler,
		clients:           clients,
		hub:               hub,
		registry:          registry,
		bus:               NewBus(),
		metrics:           m,
		logger:            logging.GetLogger(),
		recentErrorsLimit: config.RecentErrorsLimit,
		status:            StatusInitializing,
	}
	mgr.scheduler = NewScheduler(
		config.HeartbeatInterval,
		config.MetricsInterval,
		mgr.heartbeat,
		mgr.refreshGauges,
	)
	return mgr
}

// AgentID returns the unique agent identifier
func (m *Manager) AgentID() string {
	return m.agentID
}

// AgentType returns the agent flavor
func (m *Manager) AgentType() string {
	return m.agentType
}

// Events returns the manager's typed event bus
func (m *Manager) Events() *Bus {
	return m.bus
}

// Initialize starts the agent: envelopes, topic subscriptions, hub
// registration, and the scheduler. A failed dependency leaves the agent in
// the error state with the triggering error recorded and returned.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mutex.Lock()
	if m.status == StatusRunning {
		m.mutex.Unlock()
		return nil
	}
	m.status = StatusInitializing
	m.mutex.Unlock()

	if err := m.startDependencies(ctx); err != nil {
		m.recordError(err)
		m.setStatus(StatusError)
		m.logger.LogAgentEvent(ctx, "initialize_failed", m.agentID, map[string]interface{}{
			"error": err.Error(),
		})
		return err
	}

	m.mutex.Lock()
	m.startedAt = time.Now()
	m.requestsProcessed = 0
	m.requestFailures = 0
	m.avgResponseTime = 0
	m.recentErrors = nil
	m.mutex.Unlock()
	m.cpu.reset()

	m.setStatus(StatusRunning)
	m.scheduler.Start()

	m.logger.LogAgentEvent(ctx, "initialized", m.agentID, nil)
	return nil
}

func (m *Manager) startDependencies(ctx context.Context) error {
	for _, envelope := range m.envelopes() {
		envelope.Start()
	}

	if m.hub != nil && m.handler != nil {
		for _, topic := range m.handler.Subscriptions() {
			sub, err := m.hub.Subscribe(ctx, topic, m.handler.OnMessage)
			if err != nil {
				return err
			}
			m.mutex.Lock()
			m.subscriptions = append(m.subscriptions, sub)
			m.mutex.Unlock()
		}
	}

	if m.registry != nil {
		info := broker.PeerInfo{
			AgentID:   m.agentID,
			AgentType: m.agentType,
			Status:    string(StatusRunning),
		}
		if err := m.registry.Register(ctx, info); err != nil {
			return err
		}
	}

	return nil
}

// ProcessRequest validates and dispatches one inbound request. Only accepted
// while running; every accepted request updates the running-mean response
// time and the error rate, regardless of outcome.
func (m *Manager) ProcessRequest(ctx context.Context, req *Request) (*Response, error) {
	m.mutex.RLock()
	status := m.status
	m.mutex.RUnlock()

	if status != StatusRunning {
		return nil, errors.NewAgentError(m.agentID, "agent is not initialized")
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx = logging.WithCorrelationID(ctx, req.CorrelationID)
	ctx = logging.WithAgentID(ctx, m.agentID)

	start := time.Now()
	data, err := m.handler.Handle(ctx, req)
	elapsed := time.Since(start)

	m.recordRequest(elapsed, err)

	if m.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		m.metrics.RecordAgentRequest(m.agentType, status, elapsed)
	}

	resp := &Response{
		ID:             logging.NewCorrelationID(),
		RequestID:      req.ID,
		Timestamp:      time.Now(),
		Success:        err == nil,
		ProcessingTime: elapsed,
	}
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}
	resp.Data = data
	return resp, nil
}

// Shutdown stops the scheduler, closes the agent's topic subscriptions,
// deregisters from the hub, runs the handler's cleanup, and stops the
// envelopes. Idempotent: shutting down a stopped agent is a no-op.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mutex.Lock()
	if m.status == StatusStopped {
		m.mutex.Unlock()
		return nil
	}
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mutex.Unlock()

	m.scheduler.Stop()

	// No peer message may reach the handler once the agent is stopped.
	for _, sub := range subscriptions {
		if err := sub.Close(); err != nil {
			m.logger.Warn("Failed to close topic subscription", "agent_id", m.agentID, "topic", sub.Topic(), "error", err.Error())
		}
	}

	if m.registry != nil {
		if err := m.registry.Deregister(ctx, m.agentID); err != nil {
			m.logger.Warn("Failed to deregister agent", "agent_id", m.agentID, "error", err.Error())
		}
	}

	if m.handler != nil {
		if err := m.handler.Cleanup(ctx); err != nil {
			m.logger.Warn("Handler cleanup failed", "agent_id", m.agentID, "error", err.Error())
		}
	}

	for _, envelope := range m.envelopes() {
		envelope.Stop()
	}

	m.setStatus(StatusStopped)
	m.bus.Close()

	m.logger.LogAgentEvent(ctx, "shutdown", m.agentID, nil)
	return nil
}

// Status returns the current lifecycle status
func (m *Manager) Status() Status {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.status
}

// State returns a snapshot of the agent's state and metrics
func (m *Manager) State() State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	recent := make([]RecordedError, len(m.recentErrors))
	copy(recent, m.recentErrors)

	return State{
		AgentID:      m.agentID,
		AgentType:    m.agentType,
		Status:       m.status,
		Metrics:      m.metricsSnapshotLocked(),
		RecentErrors: recent,
		StartedAt:    m.startedAt,
	}
}

// OnBreakerStateChange is wired into the envelopes' breakers by the factory
// so state transitions surface as typed events and gauge updates
func (m *Manager) OnBreakerStateChange(endpoint string, from, to resilience.CircuitState) {
	if m.metrics != nil {
		m.metrics.UpdateCircuitState(endpoint, int(to))
	}
	m.bus.Publish(BreakerOpenedEvent{
		AgentID:   m.agentID,
		Timestamp: time.Now(),
		Endpoint:  endpoint,
		From:      from,
		To:        to,
	})
}

func (m *Manager) envelopes() []*call.Envelope {
	var envelopes []*call.Envelope
	if m.clients.AI != nil {
		envelopes = append(envelopes, m.clients.AI.Envelope())
	}
	if m.clients.RPC != nil {
		envelopes = append(envelopes, m.clients.RPC.Envelope())
	}
	if m.clients.Publisher != nil {
		envelopes = append(envelopes, m.clients.Publisher.Envelope())
	}
	return envelopes
}

func (m *Manager) setStatus(status Status) {
	m.mutex.Lock()
	prev := m.status
	m.status = status
	m.mutex.Unlock()

	if prev != status {
		m.bus.Publish(StateChangedEvent{
			AgentID:   m.agentID,
			Timestamp: time.Now(),
			From:      prev,
			To:        status,
		})
	}
}

func (m *Manager) recordRequest(elapsed time.Duration, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.requestsProcessed++
	m.avgResponseTime += (elapsed - m.avgResponseTime) / time.Duration(m.requestsProcessed)

	if err != nil {
		m.requestFailures++
		m.appendErrorLocked(err)
	}
}

func (m *Manager) recordError(err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.appendErrorLocked(err)
}

// appendErrorLocked keeps the recent-errors list bounded, oldest first out
func (m *Manager) appendErrorLocked(err error) {
	entry := RecordedError{
		Timestamp: time.Now(),
		Code:      errors.GetCode(err),
		Message:   err.Error(),
	}

	m.recentErrors = append(m.recentErrors, entry)
	if len(m.recentErrors) > m.recentErrorsLimit {
		m.recentErrors = m.recentErrors[len(m.recentErrors)-m.recentErrorsLimit:]
	}
}

func (m *Manager) metricsSnapshotLocked() Metrics {
	var errorRate float64
	if m.requestsProcessed > 0 {
		errorRate = float64(m.requestFailures) / float64(m.requestsProcessed)
	}

	var uptime time.Duration
	if !m.startedAt.IsZero() && m.status == StatusRunning {
		uptime = time.Since(m.startedAt)
	}

	return Metrics{
		RequestsProcessed:   m.requestsProcessed,
		AverageResponseTime: m.avgResponseTime,
		ErrorRate:           errorRate,
		Uptime:              uptime,
		LastHeartbeat:       m.lastHeartbeat,
	}
}

// heartbeat refreshes the registry entry and emits a heartbeat event
func (m *Manager) heartbeat() {
	now := time.Now()

	m.mutex.Lock()
	m.lastHeartbeat = now
	m.mutex.Unlock()

	if m.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		info := broker.PeerInfo{
			AgentID:   m.agentID,
			AgentType: m.agentType,
			Status:    string(m.Status()),
		}
		if err := m.registry.Heartbeat(ctx, info); err != nil {
			m.logger.Warn("Heartbeat registry refresh failed", "agent_id", m.agentID, "error", err.Error())
		}
		cancel()
	}

	if m.metrics != nil {
		m.metrics.RecordHeartbeat(m.agentType)
	}

	m.bus.Publish(HeartbeatEvent{
		AgentID:   m.agentID,
		Timestamp: now,
	})
}

// refreshGauges updates uptime, memory, and cpu gauges and emits a metrics
// event
func (m *Manager) refreshGauges() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	snapshot := func() Metrics {
		m.mutex.RLock()
		defer m.mutex.RUnlock()
		return m.metricsSnapshotLocked()
	}()

	if m.metrics != nil {
		m.metrics.UpdateResourceUsage(m.agentType, snapshot.Uptime, stats.HeapAlloc, m.cpu.percent())
		for _, envelope := range m.envelopes() {
			m.metrics.UpdateQueueDepth(envelope.Endpoint(), envelope.Limiter().QueueLength())
			m.metrics.UpdateCircuitState(envelope.Endpoint(), int(envelope.Breaker().State()))
		}
	}

	m.bus.Publish(MetricsUpdatedEvent{
		AgentID:   m.agentID,
		Timestamp: time.Now(),
		Snapshot:  snapshot,
	})
}

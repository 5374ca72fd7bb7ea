package agent

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
)

// Status represents the lifecycle state of an agent
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusError        Status = "error"
	StatusStopped      Status = "stopped"
)

// Request is one inbound unit of work for an agent
type Request struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Type          string                 `json:"type,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
}

// Validate rejects malformed requests before any handler logic runs
func (r *Request) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("request is missing an id")
	}
	if r.Timestamp.IsZero() {
		return errors.NewValidationError("request is missing a timestamp")
	}
	if r.CorrelationID == "" {
		return errors.NewValidationError("request is missing a correlation id")
	}
	if len(r.Payload) == 0 {
		return errors.NewValidationError("request is missing a payload")
	}
	return nil
}

// Response is the normalized result of one agent request
type Response struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
	Data           interface{}   `json:"data,omitempty"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Metrics holds the rolled-up counters the manager maintains per agent
type Metrics struct {
	RequestsProcessed   int64         `json:"requests_processed"`
	AverageResponseTime time.Duration `json:"average_response_time"`
	ErrorRate           float64       `json:"error_rate"`
	Uptime              time.Duration `json:"uptime"`
	LastHeartbeat       time.Time     `json:"last_heartbeat"`
}

// RecordedError is one entry in the bounded recent-errors list
type RecordedError struct {
	Timestamp time.Time `json:"timestamp"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
}

// State is a snapshot of an agent's lifecycle state
type State struct {
	AgentID      string          `json:"agent_id"`
	AgentType    string          `json:"agent_type"`
	Status       Status          `json:"status"`
	Metrics      Metrics         `json:"metrics"`
	RecentErrors []RecordedError `json:"recent_errors"`
	StartedAt    time.Time       `json:"started_at"`
}

// Clients bundles the pre-built call envelopes an agent works through. Per
// the constructor contract, the manager never builds these itself.
type Clients struct {
	AI        *call.AIClient
	RPC       *call.RPCClient
	Publisher *call.Publisher
}

// Handler implements one agent's domain behavior. The manager owns
// lifecycle, validation, and metrics; the handler only sees valid requests.
type Handler interface {
	// Type identifies the agent flavor (chat, risk, recommendation)
	Type() string
	// Handle processes one validated request and returns its result data
	Handle(ctx context.Context, req *Request) (interface{}, error)
	// Subscriptions lists the peer topics the handler consumes
	Subscriptions() []string
	// OnMessage consumes one inbound peer message
	OnMessage(ctx context.Context, msg *call.Message)
	// Cleanup releases handler-owned resources during agent shutdown
	Cleanup(ctx context.Context) error
}

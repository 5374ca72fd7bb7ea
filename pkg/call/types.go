package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay/pkg/errors"
)

// newID mints an identifier for responses and correlation
func newID() string {
	return uuid.New().String()
}

// GenerationOptions tunes a single AI generation call
type GenerationOptions struct {
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	TopP           float64           `json:"top_p,omitempty"`
	TopK           int               `json:"top_k,omitempty"`
	StopSequences  []string          `json:"stop_sequences,omitempty"`
	SafetySettings map[string]string `json:"safety_settings,omitempty"`
}

// GenerationRequest is one AI generation call. Envelopes never mutate a
// request after send.
type GenerationRequest struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Prompt            string            `json:"prompt"`
	Options           GenerationOptions `json:"options"`
	SystemInstruction string            `json:"system_instruction,omitempty"`
}

// Validate checks the request shape before any resilience machinery runs
func (r *GenerationRequest) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("generation request is missing an id")
	}
	if r.Timestamp.IsZero() {
		return errors.NewValidationError("generation request is missing a timestamp")
	}
	if r.Prompt == "" {
		return errors.NewValidationError("generation request is missing a prompt")
	}
	return nil
}

// TokenUsage reports token consumption for a generation call
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResponse is the normalized result of an AI generation call
type GenerationResponse struct {
	ID             string        `json:"id"`
	RequestID      string        `json:"request_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
	Content        string        `json:"content,omitempty"`
	Usage          *TokenUsage   `json:"usage,omitempty"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time"`
	FinishReason   string        `json:"finish_reason,omitempty"`
}

// StreamChunkFunc receives incremental text fragments during a streaming
// generation call
type StreamChunkFunc func(fragment string)

// RPCMetadata carries routing context for a gateway call
type RPCMetadata struct {
	CorrelationID string        `json:"correlation_id"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Priority      string        `json:"priority,omitempty"`
	AgentID       string        `json:"agent_id,omitempty"`
}

// RPCParams is the typed parameter payload of a gateway operation. Each
// operation declares its own params struct implementing this interface so
// malformed payloads are caught before the transport runs.
type RPCParams interface {
	Validate() error
}

// RPCRequest is one backend gateway call
type RPCRequest struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Service   string      `json:"service"`
	Operation string      `json:"operation"`
	Params    RPCParams   `json:"params"`
	Metadata  RPCMetadata `json:"metadata"`
}

// Validate checks the request shape, including the operation's own params
func (r *RPCRequest) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("rpc request is missing an id")
	}
	if r.Timestamp.IsZero() {
		return errors.NewValidationError("rpc request is missing a timestamp")
	}
	if r.Service == "" {
		return errors.NewValidationError("rpc request is missing a service")
	}
	if r.Operation == "" {
		return errors.NewValidationError("rpc request is missing an operation")
	}
	if r.Params != nil {
		if err := r.Params.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// RPCResponseMetadata reports transport-side details of a gateway call
type RPCResponseMetadata struct {
	ProcessingTime  time.Duration `json:"processing_time"`
	ServiceEndpoint string        `json:"service_endpoint,omitempty"`
	RetryCount      int           `json:"retry_count"`
	CacheHit        bool          `json:"cache_hit"`
}

// RPCResponse is the normalized result of a gateway call
type RPCResponse struct {
	ID        string              `json:"id"`
	RequestID string              `json:"request_id"`
	Timestamp time.Time           `json:"timestamp"`
	Success   bool                `json:"success"`
	Data      interface{}         `json:"data,omitempty"`
	Error     string              `json:"error,omitempty"`
	Metadata  RPCResponseMetadata `json:"metadata"`
}

// DeliveryMetadata carries delivery bookkeeping for a peer message
type DeliveryMetadata struct {
	CorrelationID    string        `json:"correlation_id"`
	TTL              time.Duration `json:"ttl,omitempty"`
	RetryCount       int           `json:"retry_count"`
	DeliveryAttempts int           `json:"delivery_attempts"`
}

// Message is one peer-to-peer message. Publishers do not await a response.
type Message struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	SourceAgent string           `json:"source_agent"`
	TargetAgent string           `json:"target_agent,omitempty"`
	Topic       string           `json:"topic"`
	MessageType string           `json:"message_type"`
	Priority    string           `json:"priority,omitempty"`
	Payload     interface{}      `json:"payload"`
	Metadata    DeliveryMetadata `json:"metadata"`
}

// Validate checks the message shape before publish
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.NewValidationError("message is missing an id")
	}
	if m.Timestamp.IsZero() {
		return errors.NewValidationError("message is missing a timestamp")
	}
	if m.SourceAgent == "" {
		return errors.NewValidationError("message is missing a source agent")
	}
	if m.Topic == "" {
		return errors.NewValidationError("message is missing a topic")
	}
	if m.Payload == nil {
		return errors.NewValidationError("message is missing a payload")
	}
	return nil
}

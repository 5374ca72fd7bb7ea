package call

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/pkg/logging"
)

// MessageTransport is the raw peer-messaging boundary. Publish is
// fire-and-forget; no response body is awaited.
type MessageTransport interface {
	Publish(ctx context.Context, msg *Message) error
}

// Publisher runs peer message publishes through a call envelope
type Publisher struct {
	envelope  *Envelope
	transport MessageTransport
	agentID   string
}

// NewPublisher creates a publisher from a pre-built envelope and transport
func NewPublisher(envelope *Envelope, transport MessageTransport, agentID string) *Publisher {
	return &Publisher{
		envelope:  envelope,
		transport: transport,
		agentID:   agentID,
	}
}

// Envelope returns the underlying call envelope
func (p *Publisher) Envelope() *Envelope {
	return p.envelope
}

// Publish sends one message to a topic. The message envelope is stamped with
// delivery metadata at the call site and never mutated after send.
func (p *Publisher) Publish(ctx context.Context, topic, messageType string, payload interface{}) error {
	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	msg := &Message{
		ID:          newID(),
		Timestamp:   time.Now(),
		SourceAgent: p.agentID,
		Topic:       topic,
		MessageType: messageType,
		Payload:     payload,
		Metadata: DeliveryMetadata{
			CorrelationID: correlationID,
			TTL:           time.Minute,
		},
	}
	return p.Send(ctx, msg)
}

// Send publishes a fully-formed message through the envelope. The delivery
// attempt count is stamped onto the message before each send, so the wire
// message carries its own attempt number and nothing mutates it afterwards.
func (p *Publisher) Send(ctx context.Context, msg *Message) error {
	_, err := p.envelope.Invoke(ctx,
		msg.Validate,
		func(ctx context.Context) error {
			msg.Metadata.DeliveryAttempts++
			return p.transport.Publish(ctx, msg)
		},
	)
	return err
}

package call

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/pkg/logging"
)

// GatewayResult is what an RPC transport yields for one attempt
type GatewayResult struct {
	Data            interface{}
	ServiceEndpoint string
	CacheHit        bool
}

// GatewayTransport is the raw backend gateway boundary
type GatewayTransport interface {
	Call(ctx context.Context, req *RPCRequest) (*GatewayResult, error)
}

// RPCClient runs backend gateway calls through a call envelope
type RPCClient struct {
	envelope  *Envelope
	transport GatewayTransport
	agentID   string
}

// NewRPCClient creates an RPC client from a pre-built envelope and transport
func NewRPCClient(envelope *Envelope, transport GatewayTransport, agentID string) *RPCClient {
	return &RPCClient{
		envelope:  envelope,
		transport: transport,
		agentID:   agentID,
	}
}

// Envelope returns the underlying call envelope
func (c *RPCClient) Envelope() *Envelope {
	return c.envelope
}

// Call runs one gateway operation. A fresh correlation id is minted when the
// caller did not supply one; the request is not mutated after send.
func (c *RPCClient) Call(ctx context.Context, service, operation string, params RPCParams, timeout time.Duration) (*RPCResponse, error) {
	correlationID := logging.GetCorrelationID(ctx)
	if correlationID == "" {
		correlationID = logging.NewCorrelationID()
		ctx = logging.WithCorrelationID(ctx, correlationID)
	}

	req := &RPCRequest{
		ID:        newID(),
		Timestamp: time.Now(),
		Service:   service,
		Operation: operation,
		Params:    params,
		Metadata: RPCMetadata{
			CorrelationID: correlationID,
			Timeout:       timeout,
			AgentID:       c.agentID,
		},
	}
	return c.Invoke(ctx, req)
}

// Invoke runs a fully-formed gateway request through the envelope
func (c *RPCClient) Invoke(ctx context.Context, req *RPCRequest) (*RPCResponse, error) {
	start := time.Now()

	if req.Metadata.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Metadata.Timeout)
		defer cancel()
	}

	var result *GatewayResult
	attempts, err := c.envelope.Invoke(ctx,
		req.Validate,
		func(ctx context.Context) error {
			var opErr error
			result, opErr = c.transport.Call(ctx, req)
			return opErr
		},
	)

	resp := &RPCResponse{
		ID:        newID(),
		RequestID: req.ID,
		Timestamp: time.Now(),
		Success:   err == nil,
		Metadata: RPCResponseMetadata{
			ProcessingTime: time.Since(start),
			RetryCount:     maxInt(attempts-1, 0),
		},
	}
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}

	resp.Data = result.Data
	resp.Metadata.ServiceEndpoint = result.ServiceEndpoint
	resp.Metadata.CacheHit = result.CacheHit
	return resp, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

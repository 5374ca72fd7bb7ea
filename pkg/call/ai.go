package call

import (
	"context"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
)

// GenerationResult is what a generation transport yields for one attempt
type GenerationResult struct {
	Content      string
	Usage        TokenUsage
	FinishReason string
}

// GenerationTransport is the raw AI service boundary. Implementations
// translate provider errors into the structured error kinds so the envelope
// can classify retryability and breaker impact.
type GenerationTransport interface {
	Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error)
	GenerateStream(ctx context.Context, req *GenerationRequest, onChunk StreamChunkFunc) (*GenerationResult, error)
}

// AIClient runs AI generation calls through a call envelope
type AIClient struct {
	envelope  *Envelope
	transport GenerationTransport
}

// NewAIClient creates an AI client from a pre-built envelope and transport
func NewAIClient(envelope *Envelope, transport GenerationTransport) *AIClient {
	return &AIClient{
		envelope:  envelope,
		transport: transport,
	}
}

// Envelope returns the underlying call envelope
func (c *AIClient) Envelope() *Envelope {
	return c.envelope
}

// Generate runs one generation call. The response is normalized: expected
// failures come back as a response with Success=false alongside the
// structured error.
func (c *AIClient) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResponse, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStream runs one generation call in streaming mode, delivering text
// fragments through onChunk before returning the same final response shape.
func (c *AIClient) GenerateStream(ctx context.Context, req *GenerationRequest, onChunk StreamChunkFunc) (*GenerationResponse, error) {
	if onChunk == nil {
		return nil, errors.NewValidationError("streaming generation requires a chunk callback")
	}
	return c.generate(ctx, req, onChunk)
}

func (c *AIClient) generate(ctx context.Context, req *GenerationRequest, onChunk StreamChunkFunc) (*GenerationResponse, error) {
	start := time.Now()

	var result *GenerationResult
	_, err := c.envelope.Invoke(ctx,
		req.Validate,
		func(ctx context.Context) error {
			var opErr error
			if onChunk != nil {
				result, opErr = c.transport.GenerateStream(ctx, req, onChunk)
			} else {
				result, opErr = c.transport.Generate(ctx, req)
			}
			return opErr
		},
	)

	resp := &GenerationResponse{
		ID:             newID(),
		RequestID:      req.ID,
		Timestamp:      time.Now(),
		Success:        err == nil,
		ProcessingTime: time.Since(start),
	}
	if err != nil {
		resp.Error = err.Error()
		return resp, err
	}

	resp.Content = result.Content
	resp.Usage = &TokenUsage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	}
	resp.FinishReason = result.FinishReason
	return resp, nil
}

package call

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentrelay/agentrelay/pkg/errors"
)

// AnthropicConfig configures the Anthropic generation transport
type AnthropicConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// AnthropicTransport implements GenerationTransport over the Anthropic
// Messages API
type AnthropicTransport struct {
	client      anthropic.Client
	model       anthropic.Model
	maxTokens   int64
	temperature float64
}

// NewAnthropicTransport creates an Anthropic-backed generation transport
func NewAnthropicTransport(config AnthropicConfig) (*AnthropicTransport, error) {
	if config.APIKey == "" {
		return nil, errors.NewValidationError("anthropic api key is required")
	}
	if config.Model == "" {
		config.Model = string(anthropic.ModelClaude3_5SonnetLatest)
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 1024
	}

	return &AnthropicTransport{
		client:      anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		model:       anthropic.Model(config.Model),
		maxTokens:   int64(config.MaxTokens),
		temperature: config.Temperature,
	}, nil
}

// Generate runs one non-streaming generation call
func (t *AnthropicTransport) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	resp, err := t.client.Messages.New(ctx, t.buildParams(req))
	if err != nil {
		return nil, classifyAnthropicError(err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.AsText().Text)
		}
	}

	return &GenerationResult{
		Content: content.String(),
		Usage: TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		FinishReason: string(resp.StopReason),
	}, nil
}

// GenerateStream runs one streaming generation call, delivering text deltas
// through onChunk as they arrive
func (t *AnthropicTransport) GenerateStream(ctx context.Context, req *GenerationRequest, onChunk StreamChunkFunc) (*GenerationResult, error) {
	stream := t.client.Messages.NewStreaming(ctx, t.buildParams(req))

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return nil, errors.NewParseError("failed to accumulate streaming event").WithCause(err)
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				onChunk(delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyAnthropicError(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			content.WriteString(block.AsText().Text)
		}
	}

	return &GenerationResult{
		Content: content.String(),
		Usage: TokenUsage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		FinishReason: string(message.StopReason),
	}, nil
}

func (t *AnthropicTransport) buildParams(req *GenerationRequest) anthropic.MessageNewParams {
	maxTokens := t.maxTokens
	if req.Options.MaxTokens > 0 {
		maxTokens = int64(req.Options.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     t.model,
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	temperature := t.temperature
	if req.Options.Temperature > 0 {
		temperature = req.Options.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if req.Options.TopP > 0 {
		params.TopP = anthropic.Float(req.Options.TopP)
	}
	if req.Options.TopK > 0 {
		params.TopK = anthropic.Int(int64(req.Options.TopK))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemInstruction},
		}
	}

	return params
}

// classifyAnthropicError maps provider errors into the structured error kinds
// so the envelope can decide retryability and breaker impact
func classifyAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if stderrors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400:
			return errors.NewValidationError("ai service rejected the request").WithCause(err)
		case 401:
			return errors.NewAuthenticationError("ai service authentication failed").WithCause(err)
		case 403:
			return errors.NewPermissionError("ai service denied access").WithCause(err)
		case 404:
			return errors.NewNotFoundError("ai model").WithCause(err)
		case 429:
			return errors.NewUpstreamError("ai", "ai service is rate limiting requests").WithCause(err)
		default:
			return errors.NewUpstreamError("ai", "ai service request failed").WithCause(err)
		}
	}

	msg := err.Error()
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return errors.NewTimeoutError("ai generation").WithCause(err)
	case strings.Contains(msg, "connection"):
		return errors.NewUpstreamError("ai", "ai service is unreachable").WithCause(err)
	default:
		return errors.NewUpstreamError("ai", "ai service request failed").WithCause(err)
	}
}

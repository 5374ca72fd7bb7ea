package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentrelay/agentrelay/pkg/call"
	apperrors "github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/resilience"
)

func newHandlerEnvelope(t *testing.T, endpoint string) *call.Envelope {
	t.Helper()

	env := call.NewEnvelope(endpoint,
		resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Name:              endpoint,
			CapacityPerMinute: 6000,
			QueueTimeout:      time.Second,
		}),
		resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         endpoint,
			Threshold:    5,
			OpenDuration: time.Second,
		}),
		resilience.NewRetrier(resilience.RetryPolicy{
			MaxAttempts:  1,
			Strategy:     resilience.BackoffExponential,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
		}),
		nil,
	)
	t.Cleanup(env.Stop)
	return env
}

type scriptedGeneration struct {
	content string
	err     error
	lastReq *call.GenerationRequest
}

func (s *scriptedGeneration) Generate(ctx context.Context, req *call.GenerationRequest) (*call.GenerationResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &call.GenerationResult{
		Content:      s.content,
		Usage:        call.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		FinishReason: "end_turn",
	}, nil
}

func (s *scriptedGeneration) GenerateStream(ctx context.Context, req *call.GenerationRequest, onChunk call.StreamChunkFunc) (*call.GenerationResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	onChunk(s.content)
	return &call.GenerationResult{Content: s.content, FinishReason: "end_turn"}, nil
}

type scriptedGateway struct {
	data interface{}
	err  error
}

func (s *scriptedGateway) Call(ctx context.Context, req *call.RPCRequest) (*call.GatewayResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &call.GatewayResult{Data: s.data}, nil
}

type capturingTransport struct {
	messages []*call.Message
}

func (c *capturingTransport) Publish(ctx context.Context, msg *call.Message) error {
	c.messages = append(c.messages, msg)
	return nil
}

func newCapturingPublisher(t *testing.T) (*call.Publisher, *capturingTransport) {
	t.Helper()
	transport := &capturingTransport{}
	return call.NewPublisher(newHandlerEnvelope(t, "test.broker"), transport, "agent-test"), transport
}

func TestClassifyIntent(t *testing.T) {
	assert.Equal(t, IntentGreeting, classifyIntent("Hello there"))
	assert.Equal(t, IntentHelp, classifyIntent("How do I reset my router?"))
	assert.Equal(t, IntentComplaint, classifyIntent("I want a refund, this is terrible"))
	assert.Equal(t, IntentAccount, classifyIntent("I forgot my password"))
	assert.Equal(t, IntentGeneral, classifyIntent("What is the weather like?"))
}

func TestChatHandler_GeneratesReplyWithIntent(t *testing.T) {
	gen := &scriptedGeneration{content: "Happy to help!"}
	ai := call.NewAIClient(newHandlerEnvelope(t, "chat.ai"), gen)
	h := NewChatHandler(ai, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{"message": "hello, can you help me?"}

	data, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	result, ok := data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Happy to help!", result["reply"])
	assert.Equal(t, IntentGreeting, result["intent"])
	assert.Equal(t, 15, result["tokens_used"])

	require.NotNil(t, gen.lastReq)
	assert.NotEmpty(t, gen.lastReq.SystemInstruction)
	assert.Contains(t, gen.lastReq.Prompt, "hello, can you help me?")
}

func TestChatHandler_RequiresMessage(t *testing.T) {
	ai := call.NewAIClient(newHandlerEnvelope(t, "chat.ai"), &scriptedGeneration{})
	h := NewChatHandler(ai, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{"not_a_message": 1}

	_, err := h.Handle(context.Background(), req)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestChatHandler_ComplaintEscalatesToPeers(t *testing.T) {
	ai := call.NewAIClient(newHandlerEnvelope(t, "chat.ai"), &scriptedGeneration{content: "Sorry to hear that."})
	publisher, transport := newCapturingPublisher(t)
	h := NewChatHandler(ai, publisher)

	req := validRequest()
	req.Payload = map[string]interface{}{"message": "this product is broken and I want a refund"}

	_, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, transport.messages, 1)
	assert.Equal(t, "chat.escalations", transport.messages[0].Topic)
	assert.Equal(t, "complaint_received", transport.messages[0].MessageType)
}

func TestChatHandler_StreamForwardsChunks(t *testing.T) {
	ai := call.NewAIClient(newHandlerEnvelope(t, "chat.ai"), &scriptedGeneration{content: "streamed reply"})
	h := NewChatHandler(ai, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{"message": "hi"}

	var chunks []string
	data, err := h.HandleStream(context.Background(), req, func(fragment string) {
		chunks = append(chunks, fragment)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"streamed reply"}, chunks)
	result := data.(map[string]interface{})
	assert.Equal(t, "streamed reply", result["reply"])
}

func TestBaseRiskScore(t *testing.T) {
	assert.Equal(t, 0.0, baseRiskScore(50, "US"))
	assert.Equal(t, 10.0, baseRiskScore(100, "US"))
	assert.Equal(t, 30.0, baseRiskScore(1500, ""))
	assert.Equal(t, 60.0, baseRiskScore(10000, "GB"))
	assert.Equal(t, 85.0, baseRiskScore(25000, "XX"))
}

func TestRiskLevel(t *testing.T) {
	assert.Equal(t, RiskLow, riskLevel(10))
	assert.Equal(t, RiskMedium, riskLevel(30))
	assert.Equal(t, RiskHigh, riskLevel(60))
	assert.Equal(t, RiskCritical, riskLevel(80))
}

func TestRiskHandler_BlendsHistoryIntoScore(t *testing.T) {
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "risk.gateway"), &scriptedGateway{
		data: map[string]interface{}{
			"flagged_transactions": 4.0,
			"transactions_today":   12.0,
		},
	}, "agent-test")
	h := NewRiskHandler(rpc, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{
		"account_id": "a-1",
		"amount":     1500.0,
		"country":    "US",
	}

	data, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	result := data.(map[string]interface{})
	assert.True(t, result["history_used"].(bool))
	// Local 30 averaged with history 70 (30 + 4*5 + 20).
	assert.InDelta(t, 50.0, result["score"].(float64), 0.001)
	assert.Equal(t, RiskMedium, result["level"])
}

func TestRiskHandler_DegradesWhenGatewayFails(t *testing.T) {
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "risk.gateway"), &scriptedGateway{
		err: apperrors.NewUpstreamError("gateway", "down"),
	}, "agent-test")
	h := NewRiskHandler(rpc, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{
		"account_id": "a-1",
		"amount":     1500.0,
		"country":    "US",
	}

	data, err := h.Handle(context.Background(), req)

	require.NoError(t, err, "a degraded gateway still yields a local-only score")
	result := data.(map[string]interface{})
	assert.False(t, result["history_used"].(bool))
	assert.InDelta(t, 30.0, result["score"].(float64), 0.001)
}

func TestRiskHandler_HighRiskPublishesAlert(t *testing.T) {
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "risk.gateway"), &scriptedGateway{
		err: apperrors.NewUpstreamError("gateway", "down"),
	}, "agent-test")
	publisher, transport := newCapturingPublisher(t)
	h := NewRiskHandler(rpc, publisher)

	req := validRequest()
	req.Payload = map[string]interface{}{
		"account_id": "a-1",
		"amount":     25000.0,
		"country":    "XX",
	}

	data, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	result := data.(map[string]interface{})
	assert.Equal(t, RiskCritical, result["level"])

	require.Len(t, transport.messages, 1)
	assert.Equal(t, "risk.alerts", transport.messages[0].Topic)
	assert.Equal(t, "high_risk_transaction", transport.messages[0].MessageType)
}

func TestRiskHandler_ValidatesPayload(t *testing.T) {
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "risk.gateway"), &scriptedGateway{}, "agent-test")
	h := NewRiskHandler(rpc, nil)

	req := validRequest()
	req.Payload = map[string]interface{}{"account_id": "a-1", "amount": -5.0}

	_, err := h.Handle(context.Background(), req)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestRecommendationHandler_CombinesHistoryAndGeneration(t *testing.T) {
	gen := &scriptedGeneration{content: "- running shoes\n- socks"}
	ai := call.NewAIClient(newHandlerEnvelope(t, "recommendation.ai"), gen)
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "recommendation.gateway"), &scriptedGateway{
		data: []interface{}{"trail shoes", "water bottle"},
	}, "agent-test")
	h := NewRecommendationHandler(rpc, ai)

	req := validRequest()
	req.Payload = map[string]interface{}{"customer_id": "c-1", "limit": 3.0}

	data, err := h.Handle(context.Background(), req)

	require.NoError(t, err)
	result := data.(map[string]interface{})
	assert.Equal(t, "c-1", result["customer_id"])
	assert.Equal(t, "- running shoes\n- socks", result["recommendations"])

	require.NotNil(t, gen.lastReq)
	assert.Contains(t, gen.lastReq.Prompt, "c-1")
	assert.Contains(t, gen.lastReq.Prompt, "trail shoes")
	assert.Contains(t, gen.lastReq.Prompt, "up to 3 products")
}

func TestRecommendationHandler_GatewayFailureAbortsRequest(t *testing.T) {
	ai := call.NewAIClient(newHandlerEnvelope(t, "recommendation.ai"), &scriptedGeneration{})
	rpc := call.NewRPCClient(newHandlerEnvelope(t, "recommendation.gateway"), &scriptedGateway{
		err: apperrors.NewUpstreamError("gateway", "down"),
	}, "agent-test")
	h := NewRecommendationHandler(rpc, ai)

	req := validRequest()
	req.Payload = map[string]interface{}{"customer_id": "c-1"}

	_, err := h.Handle(context.Background(), req)

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUpstream))
}

func TestAccountHistoryParams_Validate(t *testing.T) {
	assert.Error(t, AccountHistoryParams{}.Validate())
	assert.Error(t, AccountHistoryParams{AccountID: "a-1"}.Validate())
	assert.NoError(t, AccountHistoryParams{AccountID: "a-1", Days: 30}.Validate())
}

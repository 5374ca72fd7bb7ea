package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// PurchaseHistoryParams is the typed parameter payload for the gateway's
// purchase history lookup
type PurchaseHistoryParams struct {
	CustomerID string `json:"customer_id"`
	Limit      int    `json:"limit"`
}

// Validate implements call.RPCParams
func (p PurchaseHistoryParams) Validate() error {
	if p.CustomerID == "" {
		return errors.NewValidationError("purchase history lookup requires a customer id")
	}
	if p.Limit <= 0 {
		return errors.NewValidationError("purchase history lookup requires a positive limit")
	}
	return nil
}

// RecommendationHandler combines gateway purchase history with AI generation
// to produce product recommendations
type RecommendationHandler struct {
	rpc    *call.RPCClient
	ai     *call.AIClient
	logger *logging.Logger
}

// NewRecommendationHandler creates a recommendation agent handler
func NewRecommendationHandler(rpc *call.RPCClient, ai *call.AIClient) *RecommendationHandler {
	return &RecommendationHandler{
		rpc:    rpc,
		ai:     ai,
		logger: logging.GetLogger(),
	}
}

// Type identifies the handler
func (h *RecommendationHandler) Type() string {
	return "recommendation"
}

// Subscriptions lists consumed peer topics
func (h *RecommendationHandler) Subscriptions() []string {
	return []string{"recommendation.requests"}
}

// OnMessage consumes peer recommendation requests
func (h *RecommendationHandler) OnMessage(ctx context.Context, msg *call.Message) {
	h.logger.Info("Recommendation agent received peer message",
		"topic", msg.Topic,
		"message_type", msg.MessageType,
		"source", msg.SourceAgent,
	)
}

// Cleanup releases handler resources; the recommendation handler holds none
// beyond its clients, which the manager owns
func (h *RecommendationHandler) Cleanup(ctx context.Context) error {
	return nil
}

// Handle produces recommendations for one customer
func (h *RecommendationHandler) Handle(ctx context.Context, req *Request) (interface{}, error) {
	customerID, ok := req.Payload["customer_id"].(string)
	if !ok || customerID == "" {
		return nil, errors.NewValidationError("recommendation request payload requires a customer_id")
	}

	limit := 5
	if v, ok := req.Payload["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	historyResp, err := h.rpc.Call(ctx, "customers", "purchase_history", PurchaseHistoryParams{
		CustomerID: customerID,
		Limit:      20,
	}, 0)
	if err != nil {
		return nil, err
	}

	genReq := &call.GenerationRequest{
		ID:        req.ID,
		Timestamp: time.Now(),
		Prompt:    buildRecommendationPrompt(customerID, historyResp.Data, limit),
		SystemInstruction: "You are a product recommendation engine. " +
			"Return a short bullet list of product suggestions with one-line reasons.",
		Options: call.GenerationOptions{
			MaxTokens:   768,
			Temperature: 0.5,
		},
	}

	aiResp, err := h.ai.Generate(ctx, genReq)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"customer_id":     customerID,
		"recommendations": aiResp.Content,
		"history_cached":  historyResp.Metadata.CacheHit,
	}, nil
}

func buildRecommendationPrompt(customerID string, history interface{}, limit int) string {
	return fmt.Sprintf(
		"Customer %s has this purchase history:\n%v\n\nSuggest up to %d products they are likely to want next.",
		customerID, history, limit,
	)
}

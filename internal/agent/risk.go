package agent

import (
	"context"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// Risk levels assigned to scored transactions
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// AccountHistoryParams is the typed parameter payload for the gateway's
// account history lookup
type AccountHistoryParams struct {
	AccountID string `json:"account_id"`
	Days      int    `json:"days"`
}

// Validate implements call.RPCParams
func (p AccountHistoryParams) Validate() error {
	if p.AccountID == "" {
		return errors.NewValidationError("account history lookup requires an account id")
	}
	if p.Days <= 0 {
		return errors.NewValidationError("account history lookup requires a positive day window")
	}
	return nil
}

// RiskHandler scores transactions with local heuristics plus the account's
// gateway-held history, alerting peers on high-risk outcomes
type RiskHandler struct {
	rpc       *call.RPCClient
	publisher *call.Publisher
	logger    *logging.Logger
}

// NewRiskHandler creates a risk scoring agent handler
func NewRiskHandler(rpc *call.RPCClient, publisher *call.Publisher) *RiskHandler {
	return &RiskHandler{
		rpc:       rpc,
		publisher: publisher,
		logger:    logging.GetLogger(),
	}
}

// Type identifies the handler
func (h *RiskHandler) Type() string {
	return "risk"
}

// Subscriptions lists consumed peer topics
func (h *RiskHandler) Subscriptions() []string {
	return []string{"risk.requests"}
}

// OnMessage consumes peer scoring requests
func (h *RiskHandler) OnMessage(ctx context.Context, msg *call.Message) {
	h.logger.Info("Risk agent received peer message",
		"topic", msg.Topic,
		"message_type", msg.MessageType,
		"source", msg.SourceAgent,
	)
}

// Cleanup releases handler resources; the risk handler holds none beyond its
// clients, which the manager owns
func (h *RiskHandler) Cleanup(ctx context.Context) error {
	return nil
}

// Handle scores one transaction
func (h *RiskHandler) Handle(ctx context.Context, req *Request) (interface{}, error) {
	accountID, ok := req.Payload["account_id"].(string)
	if !ok || accountID == "" {
		return nil, errors.NewValidationError("risk request payload requires an account_id")
	}
	amount, ok := req.Payload["amount"].(float64)
	if !ok || amount <= 0 {
		return nil, errors.NewValidationError("risk request payload requires a positive amount")
	}
	country, _ := req.Payload["country"].(string)

	score := baseRiskScore(amount, country)

	// The gateway's account history refines the local score; a degraded
	// gateway still yields a usable local-only result.
	historyScore, historyUsed := h.historyScore(ctx, accountID)
	if historyUsed {
		score = (score + historyScore) / 2
	}

	level := riskLevel(score)

	if h.publisher != nil && (level == RiskHigh || level == RiskCritical) {
		if pubErr := h.publisher.Publish(ctx, "risk.alerts", "high_risk_transaction", map[string]interface{}{
			"request_id": req.ID,
			"account_id": accountID,
			"amount":     amount,
			"score":      score,
			"level":      level,
		}); pubErr != nil {
			h.logger.Warn("Failed to publish risk alert", "error", pubErr.Error())
		}
	}

	return map[string]interface{}{
		"account_id":   accountID,
		"score":        score,
		"level":        level,
		"history_used": historyUsed,
	}, nil
}

// historyScore fetches the account's recent history and derives a score
// contribution from it. Returns false when the gateway could not serve.
func (h *RiskHandler) historyScore(ctx context.Context, accountID string) (float64, bool) {
	resp, err := h.rpc.Call(ctx, "accounts", "history", AccountHistoryParams{
		AccountID: accountID,
		Days:      30,
	}, 0)
	if err != nil {
		h.logger.Warn("Account history lookup failed, scoring locally",
			"account_id", accountID,
			"error", err.Error(),
		)
		return 0, false
	}

	history, ok := resp.Data.(map[string]interface{})
	if !ok {
		return 0, false
	}

	score := 0.0
	if flagged, ok := history["flagged_transactions"].(float64); ok && flagged > 0 {
		score += 30 + flagged*5
	}
	if velocity, ok := history["transactions_today"].(float64); ok && velocity > 10 {
		score += 20
	}
	if avgAmount, ok := history["average_amount"].(float64); ok && avgAmount > 0 {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score, true
}

// baseRiskScore applies the local heuristics: amount bands and geography
func baseRiskScore(amount float64, country string) float64 {
	score := 0.0

	switch {
	case amount >= 10000:
		score += 60
	case amount >= 1000:
		score += 30
	case amount >= 100:
		score += 10
	}

	switch country {
	case "", "US", "CA", "GB", "DE", "FR", "AU", "JP":
		// Home-market traffic carries no geography penalty.
	default:
		score += 25
	}

	if score > 100 {
		score = 100
	}
	return score
}

func riskLevel(score float64) string {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

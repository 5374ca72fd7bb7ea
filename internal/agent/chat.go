package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// chat intents matched by keyword before the AI call
const (
	IntentGreeting  = "greeting"
	IntentHelp      = "help"
	IntentComplaint = "complaint"
	IntentAccount   = "account"
	IntentGeneral   = "general"
)

var intentKeywords = map[string][]string{
	IntentGreeting:  {"hello", "hi", "hey", "good morning", "good afternoon"},
	IntentHelp:      {"help", "how do i", "how to", "support"},
	IntentComplaint: {"complaint", "unhappy", "terrible", "refund", "broken"},
	IntentAccount:   {"account", "password", "login", "balance", "profile"},
}

const chatSystemInstruction = "You are a concise, friendly customer support assistant. " +
	"Answer in at most three sentences and never invent account details."

// ChatHandler answers conversational requests with the AI service, tagging
// each message with a keyword-matched intent
type ChatHandler struct {
	ai        *call.AIClient
	publisher *call.Publisher
	logger    *logging.Logger
}

// NewChatHandler creates a chat agent handler
func NewChatHandler(ai *call.AIClient, publisher *call.Publisher) *ChatHandler {
	return &ChatHandler{
		ai:        ai,
		publisher: publisher,
		logger:    logging.GetLogger(),
	}
}

// Type identifies the handler
func (h *ChatHandler) Type() string {
	return "chat"
}

// Subscriptions lists consumed peer topics
func (h *ChatHandler) Subscriptions() []string {
	return []string{"chat.broadcast"}
}

// OnMessage consumes peer broadcasts addressed to chat agents
func (h *ChatHandler) OnMessage(ctx context.Context, msg *call.Message) {
	h.logger.Info("Chat agent received peer message",
		"topic", msg.Topic,
		"message_type", msg.MessageType,
		"source", msg.SourceAgent,
	)
}

// Cleanup releases handler resources; the chat handler holds none beyond its
// clients, which the manager owns
func (h *ChatHandler) Cleanup(ctx context.Context) error {
	return nil
}

// Handle classifies the message intent and generates a reply
func (h *ChatHandler) Handle(ctx context.Context, req *Request) (interface{}, error) {
	message, ok := req.Payload["message"].(string)
	if !ok || message == "" {
		return nil, errors.NewValidationError("chat request payload requires a message")
	}

	intent := classifyIntent(message)

	genReq := &call.GenerationRequest{
		ID:                req.ID,
		Timestamp:         time.Now(),
		Prompt:            buildChatPrompt(intent, message),
		SystemInstruction: chatSystemInstruction,
		Options: call.GenerationOptions{
			MaxTokens:   512,
			Temperature: 0.7,
		},
	}

	resp, err := h.ai.Generate(ctx, genReq)
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{
		"reply":  resp.Content,
		"intent": intent,
	}
	if resp.Usage != nil {
		result["tokens_used"] = resp.Usage.TotalTokens
	}

	if h.publisher != nil && intent == IntentComplaint {
		if pubErr := h.publisher.Publish(ctx, "chat.escalations", "complaint_received", map[string]interface{}{
			"request_id": req.ID,
			"message":    message,
		}); pubErr != nil {
			// Escalation is best effort; the reply already succeeded.
			h.logger.Warn("Failed to publish complaint escalation", "error", pubErr.Error())
		}
	}

	return result, nil
}

// HandleStream generates a reply in streaming mode, forwarding fragments
// through onChunk
func (h *ChatHandler) HandleStream(ctx context.Context, req *Request, onChunk call.StreamChunkFunc) (interface{}, error) {
	message, ok := req.Payload["message"].(string)
	if !ok || message == "" {
		return nil, errors.NewValidationError("chat request payload requires a message")
	}

	intent := classifyIntent(message)

	genReq := &call.GenerationRequest{
		ID:                req.ID,
		Timestamp:         time.Now(),
		Prompt:            buildChatPrompt(intent, message),
		SystemInstruction: chatSystemInstruction,
		Options: call.GenerationOptions{
			MaxTokens:   512,
			Temperature: 0.7,
		},
	}

	resp, err := h.ai.GenerateStream(ctx, genReq, onChunk)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"reply":  resp.Content,
		"intent": intent,
	}, nil
}

// classifyIntent tags a message with the first matching intent
func classifyIntent(message string) string {
	lowered := strings.ToLower(message)

	for _, intent := range []string{IntentGreeting, IntentHelp, IntentComplaint, IntentAccount} {
		for _, keyword := range intentKeywords[intent] {
			if strings.Contains(lowered, keyword) {
				return intent
			}
		}
	}
	return IntentGeneral
}

func buildChatPrompt(intent, message string) string {
	return fmt.Sprintf("Customer intent: %s\nCustomer message: %s\n\nRespond helpfully.", intent, message)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/agentrelay/agentrelay/pkg/call"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/logging"
)

// Config holds backend gateway configuration
type Config struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	APIKey  string        `json:"api_key"`
}

// Client is an HTTP JSON transport for the backend gateway. It implements
// call.GatewayTransport; resilience is layered on top by the call envelope.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a backend gateway client
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.GetLogger(),
	}
}

// SetHTTPClient swaps the underlying HTTP client, e.g. to add tracing
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

// wirePayload is the gateway's request body
type wirePayload struct {
	ID            string      `json:"id"`
	Operation     string      `json:"operation"`
	Params        interface{} `json:"params,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	AgentID       string      `json:"agent_id,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// wireResponse is the gateway's response body
type wireResponse struct {
	Success  bool            `json:"success"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	CacheHit bool            `json:"cache_hit,omitempty"`
}

// Call executes one gateway operation over HTTP
func (c *Client) Call(ctx context.Context, req *call.RPCRequest) (*call.GatewayResult, error) {
	url := fmt.Sprintf("%s/api/v1/%s/%s", c.baseURL, req.Service, req.Operation)

	body, err := json.Marshal(wirePayload{
		ID:            req.ID,
		Operation:     req.Operation,
		Params:        req.Params,
		CorrelationID: req.Metadata.CorrelationID,
		AgentID:       req.Metadata.AgentID,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return nil, errors.NewValidationError("failed to encode gateway request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to build gateway request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Correlation-ID", req.Metadata.CorrelationID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewUpstreamError("gateway", "failed to read gateway response").WithCause(err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var wire wireResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, errors.NewParseError("gateway returned a malformed response body").WithCause(err)
	}
	if !wire.Success {
		return nil, errors.NewUpstreamError("gateway", wire.Error)
	}

	var data interface{}
	if len(wire.Data) > 0 {
		if err := json.Unmarshal(wire.Data, &data); err != nil {
			return nil, errors.NewParseError("gateway returned malformed data").WithCause(err)
		}
	}

	return &call.GatewayResult{
		Data:            data,
		ServiceEndpoint: url,
		CacheHit:        wire.CacheHit,
	}, nil
}

// classifyStatus maps gateway HTTP status codes into structured error kinds
func classifyStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := string(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}

	switch {
	case statusCode == http.StatusBadRequest:
		return errors.NewValidationError("gateway rejected the request").WithDetail("body", msg)
	case statusCode == http.StatusUnauthorized:
		return errors.NewAuthenticationError("gateway authentication failed")
	case statusCode == http.StatusForbidden:
		return errors.NewPermissionError("gateway denied access")
	case statusCode == http.StatusNotFound:
		return errors.NewNotFoundError("gateway operation")
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return errors.NewTimeoutError("gateway call")
	case statusCode >= 500:
		return errors.NewUpstreamError("gateway", fmt.Sprintf("gateway returned status %d", statusCode))
	default:
		return errors.NewUpstreamError("gateway", fmt.Sprintf("gateway returned unexpected status %d", statusCode))
	}
}

// classifyTransportError maps connection-level failures into structured
// error kinds
func classifyTransportError(err error) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTimeoutError("gateway call").WithCause(err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewTimeoutError("gateway call").WithCause(err)
	}
	return errors.NewUpstreamError("gateway", "gateway is unreachable").WithCause(err)
}

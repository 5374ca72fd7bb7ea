package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/pkg/errors"
	"github.com/agentrelay/agentrelay/pkg/health"
	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/metrics"
)

// Server exposes the agents and operational endpoints over HTTP
type Server struct {
	managers map[string]*agent.Manager
	health   *health.Service
	metrics  *metrics.Metrics
	recorder *metrics.Recorder
	logger   *logging.Logger
}

// NewServer creates the API server over running agent managers
func NewServer(managers map[string]*agent.Manager, healthSvc *health.Service, m *metrics.Metrics, recorder *metrics.Recorder, logger *logging.Logger) *Server {
	return &Server{
		managers: managers,
		health:   healthSvc,
		metrics:  m,
		recorder: recorder,
		logger:   logger,
	}
}

// Router builds the gin engine with all routes and middleware
func (s *Server) Router(extraMiddleware ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()

	router.Use(RecoveryMiddleware(s.logger))
	router.Use(CorrelationMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware(s.logger))
	if s.metrics != nil {
		router.Use(s.metrics.PrometheusMiddleware())
	}
	for _, mw := range extraMiddleware {
		router.Use(mw)
	}

	router.GET("/health", s.health.Handler())
	router.GET("/health/live", s.health.LivenessHandler())
	router.GET("/health/ready", s.health.ReadinessHandler())
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/agents", s.listAgents)
		v1.GET("/agents/:type", s.getAgent)
		v1.POST("/agents/:type/requests", s.processRequest)
		v1.GET("/endpoints", s.endpointStats)
	}

	return router
}

// requestBody is the inbound request shape for agent requests
type requestBody struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Type          string                 `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
}

func (s *Server) processRequest(c *gin.Context) {
	agentType := c.Param("type")
	mgr, ok := s.managers[agentType]
	if !ok {
		s.renderError(c, errors.NewNotFoundError("agent"))
		return
	}

	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.renderError(c, errors.NewValidationError("request body is not valid JSON").WithCause(err))
		return
	}

	correlationID := body.CorrelationID
	if correlationID == "" {
		correlationID = logging.GetCorrelationID(c.Request.Context())
	}

	req := &agent.Request{
		ID:            body.ID,
		Timestamp:     body.Timestamp,
		CorrelationID: correlationID,
		Type:          body.Type,
		Payload:       body.Payload,
	}

	resp, err := mgr.ProcessRequest(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) listAgents(c *gin.Context) {
	states := make([]agent.State, 0, len(s.managers))
	for _, mgr := range s.managers {
		states = append(states, mgr.State())
	}
	c.JSON(http.StatusOK, gin.H{"agents": states})
}

func (s *Server) getAgent(c *gin.Context) {
	mgr, ok := s.managers[c.Param("type")]
	if !ok {
		s.renderError(c, errors.NewNotFoundError("agent"))
		return
	}
	c.JSON(http.StatusOK, mgr.State())
}

func (s *Server) endpointStats(c *gin.Context) {
	if s.recorder == nil {
		c.JSON(http.StatusOK, gin.H{"endpoints": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"endpoints": s.recorder.AllStats()})
}

// renderError maps structured errors onto HTTP status codes
func (s *Server) renderError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError

	if appErr, ok := err.(*errors.AppError); ok {
		switch appErr.Type {
		case errors.ErrorTypeValidation:
			statusCode = http.StatusBadRequest
		case errors.ErrorTypeAuthentication:
			statusCode = http.StatusUnauthorized
		case errors.ErrorTypeAuthorization:
			statusCode = http.StatusForbidden
		case errors.ErrorTypeNotFound:
			statusCode = http.StatusNotFound
		case errors.ErrorTypeRateLimitTimeout:
			statusCode = http.StatusTooManyRequests
		case errors.ErrorTypeCircuitOpen, errors.ErrorTypeUpstream:
			statusCode = http.StatusBadGateway
		case errors.ErrorTypeTimeout:
			statusCode = http.StatusGatewayTimeout
		}

		c.JSON(statusCode, gin.H{
			"error": gin.H{
				"code":           appErr.Code,
				"type":           appErr.Type,
				"message":        appErr.Message,
				"correlation_id": appErr.CorrelationID,
				"timestamp":      appErr.Timestamp,
			},
		})
		return
	}

	c.JSON(statusCode, gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	})
}

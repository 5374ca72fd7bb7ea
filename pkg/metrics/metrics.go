package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Outbound call metrics
	CallsTotal   *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec
	CallAttempts *prometheus.HistogramVec

	// Resilience metrics
	RateLimitQueueDepth *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec

	// Agent metrics
	AgentRequestsTotal   *prometheus.CounterVec
	AgentRequestDuration *prometheus.HistogramVec
	AgentHeartbeats      *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Resource metrics
	UptimeSeconds *prometheus.GaugeVec
	MemoryUsage   *prometheus.GaugeVec
	CPUUsage      *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "agentrelay",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "calls_total",
				Help:      "Total number of outbound calls",
			},
			[]string{"endpoint", "status", "error_kind"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "call_duration_seconds",
				Help:      "Outbound call duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		CallAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "call_attempts",
				Help:      "Number of attempts per outbound call",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
			[]string{"endpoint"},
		),
		RateLimitQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "rate_limit_queue_depth",
				Help:      "Number of callers queued for a rate limit token",
			},
			[]string{"endpoint"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
			[]string{"endpoint"},
		),
		AgentRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "agent_requests_total",
				Help:      "Total number of requests processed by agents",
			},
			[]string{"agent", "status"},
		),
		AgentRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Name:      "agent_request_duration_seconds",
				Help:      "Agent request handling duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"agent", "status"},
		),
		AgentHeartbeats: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "agent_heartbeats_total",
				Help:      "Total number of agent heartbeats",
			},
			[]string{"agent"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Name:      "errors_total",
				Help:      "Total number of errors",
			},
			[]string{"component", "error_type"},
		),
		UptimeSeconds: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "uptime_seconds",
				Help:      "Agent uptime in seconds",
			},
			[]string{"agent"},
		),
		MemoryUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "memory_usage_bytes",
				Help:      "Memory usage in bytes",
			},
			[]string{"agent", "type"},
		),
		CPUUsage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Name:      "cpu_usage_percent",
				Help:      "CPU usage percentage",
			},
			[]string{"agent"},
		),
	}

	prometheus.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CallsTotal,
		m.CallDuration,
		m.CallAttempts,
		m.RateLimitQueueDepth,
		m.CircuitBreakerState,
		m.AgentRequestsTotal,
		m.AgentRequestDuration,
		m.AgentHeartbeats,
		m.ErrorsTotal,
		m.UptimeSeconds,
		m.MemoryUsage,
		m.CPUUsage,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordAgentRequest records agent request metrics
func (m *Metrics) RecordAgentRequest(agent, status string, duration time.Duration) {
	if m.AgentRequestsTotal == nil {
		return
	}

	m.AgentRequestsTotal.WithLabelValues(agent, status).Inc()
	m.AgentRequestDuration.WithLabelValues(agent, status).Observe(duration.Seconds())
}

// RecordHeartbeat records an agent heartbeat
func (m *Metrics) RecordHeartbeat(agent string) {
	if m.AgentHeartbeats == nil {
		return
	}

	m.AgentHeartbeats.WithLabelValues(agent).Inc()
}

// RecordError records error metrics
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateQueueDepth updates the rate limit queue depth gauge
func (m *Metrics) UpdateQueueDepth(endpoint string, depth int) {
	if m.RateLimitQueueDepth == nil {
		return
	}

	m.RateLimitQueueDepth.WithLabelValues(endpoint).Set(float64(depth))
}

// UpdateCircuitState updates the circuit breaker state gauge
func (m *Metrics) UpdateCircuitState(endpoint string, state int) {
	if m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// UpdateResourceUsage updates resource usage gauges for an agent
func (m *Metrics) UpdateResourceUsage(agent string, uptime time.Duration, heapBytes uint64, cpuPercent float64) {
	if m.UptimeSeconds == nil {
		return
	}

	m.UptimeSeconds.WithLabelValues(agent).Set(uptime.Seconds())
	m.MemoryUsage.WithLabelValues(agent, "heap").Set(float64(heapBytes))
	m.CPUUsage.WithLabelValues(agent).Set(cpuPercent)
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

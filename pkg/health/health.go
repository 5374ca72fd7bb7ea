package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/agentrelay/agentrelay/pkg/logging"
	"github.com/agentrelay/agentrelay/pkg/metrics"
)

// Status represents the rolled-up health of the process
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckStatus represents the result of a single check
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
	CheckFail CheckStatus = "fail"
)

// Check is the result of one health check
type Check struct {
	Name      string            `json:"name"`
	Status    CheckStatus       `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration_ms"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Response is the overall health report: any fail yields unhealthy, any warn
// without a fail yields degraded, otherwise healthy
type Response struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration_ms"`
	Checks    []*Check          `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

// Config holds health check configuration
type Config struct {
	// CheckTimeout bounds each individual check
	CheckTimeout time.Duration     `json:"check_timeout"`
	Metadata     map[string]string `json:"metadata"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		CheckTimeout: 5 * time.Second,
		Metadata:     make(map[string]string),
	}
}

// Service runs registered health checks and aggregates their results
type Service struct {
	checkers     []Checker
	checkTimeout time.Duration
	metadata     map[string]string
	logger       *logging.Logger
	mutex        sync.RWMutex
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}

	return &Service{
		checkTimeout: config.CheckTimeout,
		metadata:     config.Metadata,
		logger:       logger,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers = append(s.checkers, checker)
}

// RunChecks executes all registered checks concurrently, each bounded by the
// per-check timeout. A check that panics is reported as fail.
func (s *Service) RunChecks(ctx context.Context) *Response {
	start := time.Now()

	s.mutex.RLock()
	checkers := make([]Checker, len(s.checkers))
	copy(checkers, s.checkers)
	s.mutex.RUnlock()

	checks := make([]*Check, len(checkers))

	var wg sync.WaitGroup
	for i, checker := range checkers {
		wg.Add(1)
		go func(i int, checker Checker) {
			defer wg.Done()
			checks[i] = s.runCheck(ctx, checker)
		}(i, checker)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case CheckFail:
			overall = StatusUnhealthy
		case CheckWarn:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}

	return &Response{
		Status:    overall,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// runCheck runs one checker under its timeout, converting panics and
// overruns into fail results
func (s *Service) runCheck(ctx context.Context, checker Checker) *Check {
	checkCtx, cancel := context.WithTimeout(ctx, s.checkTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan *Check, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Health check panicked",
					"check", checker.Name(),
					"panic", fmt.Sprintf("%v", r),
				)
				done <- &Check{
					Name:      checker.Name(),
					Status:    CheckFail,
					Error:     fmt.Sprintf("check panicked: %v", r),
					Duration:  time.Since(start),
					Timestamp: start,
				}
			}
		}()
		done <- checker.Check(checkCtx)
	}()

	select {
	case check := <-done:
		return check
	case <-checkCtx.Done():
		return &Check{
			Name:      checker.Name(),
			Status:    CheckFail,
			Error:     "check timed out",
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}

// Handler returns a Gin handler reporting full health
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		health := s.RunChecks(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// ReadinessHandler returns a readiness check handler
func (s *Service) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		health := s.RunChecks(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, gin.H{
			"status":    health.Status,
			"timestamp": health.Timestamp,
			"ready":     health.Status != StatusUnhealthy,
		})
	}
}

// HeapChecker warns or fails when heap usage crosses its thresholds
type HeapChecker struct {
	name         string
	warnFraction float64
	failFraction float64
	heapLimit    uint64
	readMemStats func(*runtime.MemStats)
}

// NewHeapChecker creates a heap usage checker against a fixed heap budget in
// bytes. Fractions are of the budget, e.g. 0.8 and 0.95.
func NewHeapChecker(name string, heapLimit uint64, warnFraction, failFraction float64) *HeapChecker {
	return &HeapChecker{
		name:         name,
		warnFraction: warnFraction,
		failFraction: failFraction,
		heapLimit:    heapLimit,
		readMemStats: runtime.ReadMemStats,
	}
}

// Name returns the checker name
func (hc *HeapChecker) Name() string {
	return hc.name
}

// Check reads current heap usage and classifies it
func (hc *HeapChecker) Check(ctx context.Context) *Check {
	start := time.Now()

	var stats runtime.MemStats
	hc.readMemStats(&stats)

	ratio := float64(stats.HeapAlloc) / float64(hc.heapLimit)

	check := &Check{
		Name:      hc.name,
		Timestamp: start,
		Metadata: map[string]string{
			"heap_alloc_bytes": fmt.Sprintf("%d", stats.HeapAlloc),
			"heap_limit_bytes": fmt.Sprintf("%d", hc.heapLimit),
			"usage_ratio":      fmt.Sprintf("%.2f", ratio),
		},
	}

	switch {
	case ratio >= hc.failFraction:
		check.Status = CheckFail
		check.Message = fmt.Sprintf("heap usage at %.0f%% of budget", ratio*100)
	case ratio >= hc.warnFraction:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("heap usage at %.0f%% of budget", ratio*100)
	default:
		check.Status = CheckPass
		check.Message = "heap usage is within budget"
	}

	check.Duration = time.Since(start)
	return check
}

// ErrorRateChecker classifies the global outbound error rate
type ErrorRateChecker struct {
	name         string
	recorder     *metrics.Recorder
	warnFraction float64
	failFraction float64
}

// NewErrorRateChecker creates a global error rate checker. Fractions are of
// total calls, e.g. 0.1 and 0.5.
func NewErrorRateChecker(name string, recorder *metrics.Recorder, warnFraction, failFraction float64) *ErrorRateChecker {
	return &ErrorRateChecker{
		name:         name,
		recorder:     recorder,
		warnFraction: warnFraction,
		failFraction: failFraction,
	}
}

// Name returns the checker name
func (ec *ErrorRateChecker) Name() string {
	return ec.name
}

// Check classifies the current global error rate
func (ec *ErrorRateChecker) Check(ctx context.Context) *Check {
	start := time.Now()

	rate := ec.recorder.GlobalErrorRate()

	check := &Check{
		Name:      ec.name,
		Timestamp: start,
		Metadata: map[string]string{
			"error_rate": fmt.Sprintf("%.3f", rate),
		},
	}

	switch {
	case rate >= ec.failFraction:
		check.Status = CheckFail
		check.Message = fmt.Sprintf("error rate %.1f%% exceeds failure threshold", rate*100)
	case rate >= ec.warnFraction:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("error rate %.1f%% is elevated", rate*100)
	default:
		check.Status = CheckPass
		check.Message = "error rate is nominal"
	}

	check.Duration = time.Since(start)
	return check
}

// PeerLister reports peer reachability for the peer checker
type PeerLister interface {
	ReachablePeers(ctx context.Context) (reachable int, total int, err error)
}

// PeerChecker classifies the fraction of configured peers currently reachable
type PeerChecker struct {
	name  string
	peers PeerLister
}

// NewPeerChecker creates a peer reachability checker
func NewPeerChecker(name string, peers PeerLister) *PeerChecker {
	return &PeerChecker{
		name:  name,
		peers: peers,
	}
}

// Name returns the checker name
func (pc *PeerChecker) Name() string {
	return pc.name
}

// Check reports peer reachability: all reachable passes, some reachable
// warns, none reachable fails
func (pc *PeerChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      pc.name,
		Timestamp: start,
	}

	reachable, total, err := pc.peers.ReachablePeers(ctx)
	check.Duration = time.Since(start)

	if err != nil {
		check.Status = CheckFail
		check.Error = err.Error()
		return check
	}

	check.Metadata = map[string]string{
		"reachable": fmt.Sprintf("%d", reachable),
		"total":     fmt.Sprintf("%d", total),
	}

	switch {
	case total == 0 || reachable == total:
		check.Status = CheckPass
		check.Message = "all peers reachable"
	case reachable > 0:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%d of %d peers reachable", reachable, total)
	default:
		check.Status = CheckFail
		check.Message = "no peers reachable"
	}

	return check
}

// RedisChecker checks Redis connectivity
type RedisChecker struct {
	name   string
	client *redis.Client
}

// NewRedisChecker creates a Redis connectivity checker
func NewRedisChecker(name string, client *redis.Client) *RedisChecker {
	return &RedisChecker{
		name:   name,
		client: client,
	}
}

// Name returns the checker name
func (rc *RedisChecker) Name() string {
	return rc.name
}

// Check pings Redis
func (rc *RedisChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      rc.name,
		Timestamp: start,
	}

	if rc.client == nil {
		check.Status = CheckFail
		check.Error = "redis client is nil"
		check.Duration = time.Since(start)
		return check
	}

	if err := rc.client.Ping(ctx).Err(); err != nil {
		check.Status = CheckFail
		check.Error = err.Error()
		check.Duration = time.Since(start)
		return check
	}

	stats := rc.client.PoolStats()
	check.Status = CheckPass
	check.Message = "redis is reachable"
	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"total_connections": fmt.Sprintf("%d", stats.TotalConns),
		"idle_connections":  fmt.Sprintf("%d", stats.IdleConns),
	}

	return check
}

// HTTPChecker checks an HTTP endpoint
type HTTPChecker struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChecker creates an HTTP endpoint checker
func NewHTTPChecker(name, url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the checker name
func (hc *HTTPChecker) Name() string {
	return hc.name
}

// Check performs a GET against the endpoint: 2xx passes, 5xx fails,
// anything else warns
func (hc *HTTPChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      hc.name,
		Timestamp: start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.url, nil)
	if err != nil {
		check.Status = CheckFail
		check.Error = fmt.Sprintf("failed to create request: %v", err)
		check.Duration = time.Since(start)
		return check
	}

	resp, err := hc.client.Do(req)
	if err != nil {
		check.Status = CheckFail
		check.Error = fmt.Sprintf("request failed: %v", err)
		check.Duration = time.Since(start)
		return check
	}
	defer resp.Body.Close()

	check.Duration = time.Since(start)
	check.Metadata = map[string]string{
		"status_code": fmt.Sprintf("%d", resp.StatusCode),
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		check.Status = CheckPass
		check.Message = "endpoint is healthy"
	case resp.StatusCode >= 500:
		check.Status = CheckFail
		check.Message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	default:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("endpoint returned status %d", resp.StatusCode)
	}

	return check
}

// CustomChecker wraps a plain function as a health check
type CustomChecker struct {
	name    string
	checkFn func(ctx context.Context) (CheckStatus, string, error)
}

// NewCustomChecker creates a custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (CheckStatus, string, error)) *CustomChecker {
	return &CustomChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Name returns the checker name
func (cc *CustomChecker) Name() string {
	return cc.name
}

// Check runs the wrapped function
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	status, message, err := cc.checkFn(ctx)
	check.Status = status
	check.Message = message
	check.Duration = time.Since(start)

	if err != nil {
		check.Error = err.Error()
		if check.Status == CheckPass {
			check.Status = CheckFail
		}
	}

	return check
}

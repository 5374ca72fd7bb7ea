package metrics

import (
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/pkg/errors"
)

// CallResult captures the outcome of one completed call through the envelope
type CallResult struct {
	Success   bool             `json:"success"`
	Attempts  int              `json:"attempts"`
	Elapsed   time.Duration    `json:"elapsed"`
	ErrorKind errors.ErrorType `json:"error_kind,omitempty"`
}

// EndpointStats aggregates call outcomes for a single endpoint
type EndpointStats struct {
	Endpoint       string        `json:"endpoint"`
	TotalCalls     int64         `json:"total_calls"`
	SuccessCalls   int64         `json:"success_calls"`
	FailureCalls   int64         `json:"failure_calls"`
	AverageLatency time.Duration `json:"average_latency"`
	LastCall       time.Time     `json:"last_call"`
}

// ErrorRate returns the fraction of failed calls for the endpoint
func (s EndpointStats) ErrorRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailureCalls) / float64(s.TotalCalls)
}

// Recorder aggregates per-endpoint call statistics in memory and mirrors them
// into Prometheus when a Metrics instance is attached. The running mean keeps
// aggregation O(1) per call.
type Recorder struct {
	mutex   sync.RWMutex
	stats   map[string]*EndpointStats
	metrics *Metrics
}

// NewRecorder creates a call recorder. metrics may be nil for a purely
// in-memory recorder.
func NewRecorder(metrics *Metrics) *Recorder {
	return &Recorder{
		stats:   make(map[string]*EndpointStats),
		metrics: metrics,
	}
}

// Record folds one call result into the endpoint's aggregates
func (r *Recorder) Record(endpoint string, result CallResult) {
	r.mutex.Lock()

	s, ok := r.stats[endpoint]
	if !ok {
		s = &EndpointStats{Endpoint: endpoint}
		r.stats[endpoint] = s
	}

	s.TotalCalls++
	if result.Success {
		s.SuccessCalls++
	} else {
		s.FailureCalls++
	}
	s.AverageLatency += (result.Elapsed - s.AverageLatency) / time.Duration(s.TotalCalls)
	s.LastCall = time.Now()

	r.mutex.Unlock()

	if r.metrics != nil && r.metrics.CallsTotal != nil {
		status := "success"
		errorKind := ""
		if !result.Success {
			status = "failure"
			errorKind = string(result.ErrorKind)
		}
		r.metrics.CallsTotal.WithLabelValues(endpoint, status, errorKind).Inc()
		r.metrics.CallDuration.WithLabelValues(endpoint).Observe(result.Elapsed.Seconds())
		r.metrics.CallAttempts.WithLabelValues(endpoint).Observe(float64(result.Attempts))
	}
}

// Stats returns a copy of the aggregates for one endpoint
func (r *Recorder) Stats(endpoint string) (EndpointStats, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.stats[endpoint]
	if !ok {
		return EndpointStats{}, false
	}
	return *s, true
}

// AllStats returns a snapshot of aggregates for every known endpoint
func (r *Recorder) AllStats() map[string]EndpointStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshot := make(map[string]EndpointStats, len(r.stats))
	for endpoint, s := range r.stats {
		snapshot[endpoint] = *s
	}
	return snapshot
}

// GlobalErrorRate returns the failure fraction across all endpoints
func (r *Recorder) GlobalErrorRate() float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var total, failures int64
	for _, s := range r.stats {
		total += s.TotalCalls
		failures += s.FailureCalls
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// Metrics returns the attached Prometheus metrics, if any
func (r *Recorder) Metrics() *Metrics {
	return r.metrics
}

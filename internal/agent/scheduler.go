package agent

import (
	"sync"
	"time"
)

// Scheduler owns the periodic heartbeat and metrics timers for one agent.
// It is started in Initialize and stopped in Shutdown so timer lifetime is
// deterministic; a zero interval disables that timer, which is how tests run
// without background ticking.
type Scheduler struct {
	heartbeatInterval time.Duration
	metricsInterval   time.Duration
	onHeartbeat       func()
	onMetrics         func()

	mutex   sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the given tick callbacks
func NewScheduler(heartbeatInterval, metricsInterval time.Duration, onHeartbeat, onMetrics func()) *Scheduler {
	return &Scheduler{
		heartbeatInterval: heartbeatInterval,
		metricsInterval:   metricsInterval,
		onHeartbeat:       onHeartbeat,
		onMetrics:         onMetrics,
	}
}

// Start launches the enabled timers. Idempotent.
func (s *Scheduler) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})

	if s.heartbeatInterval > 0 && s.onHeartbeat != nil {
		s.wg.Add(1)
		go s.run(s.heartbeatInterval, s.onHeartbeat)
	}
	if s.metricsInterval > 0 && s.onMetrics != nil {
		s.wg.Add(1)
		go s.run(s.metricsInterval, s.onMetrics)
	}
}

// Stop halts all timers and waits for them to exit. Idempotent.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mutex.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(interval time.Duration, tick func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			tick()
		}
	}
}

package agent

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_TicksUntilStopped(t *testing.T) {
	var heartbeats, refreshes int64
	s := NewScheduler(
		10*time.Millisecond,
		10*time.Millisecond,
		func() { atomic.AddInt64(&heartbeats, 1) },
		func() { atomic.AddInt64(&refreshes, 1) },
	)

	s.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&heartbeats) >= 2 && atomic.LoadInt64(&refreshes) >= 2
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	stoppedAt := atomic.LoadInt64(&heartbeats)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stoppedAt, atomic.LoadInt64(&heartbeats), "no ticks after Stop")
}

func TestScheduler_ZeroIntervalDisablesTimer(t *testing.T) {
	var heartbeats int64
	s := NewScheduler(0, 0, func() { atomic.AddInt64(&heartbeats, 1) }, nil)

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	assert.Zero(t, atomic.LoadInt64(&heartbeats))
}

func TestScheduler_StartAndStopAreIdempotent(t *testing.T) {
	var ticks int64
	s := NewScheduler(5*time.Millisecond, 0, func() { atomic.AddInt64(&ticks, 1) }, nil)

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) >= 1
	}, time.Second, time.Millisecond)

	s.Stop()
	s.Stop()

	// The scheduler can be restarted after a stop.
	before := atomic.LoadInt64(&ticks)
	s.Start()
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&ticks) > before
	}, time.Second, time.Millisecond)
	s.Stop()
}

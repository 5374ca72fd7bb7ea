package agent

import (
	"sync"
	"syscall"
	"time"
)

// cpuTracker derives a process CPU percentage from rusage deltas between
// successive gauge refreshes
type cpuTracker struct {
	mutex    sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
}

func (t *cpuTracker) reset() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.lastWall = time.Now()
	t.lastCPU = processCPUTime()
}

// percent returns CPU usage since the previous call, as a percentage of one
// core
func (t *cpuTracker) percent() float64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := time.Now()
	cpu := processCPUTime()

	if t.lastWall.IsZero() {
		t.lastWall = now
		t.lastCPU = cpu
		return 0
	}

	wallDelta := now.Sub(t.lastWall)
	cpuDelta := cpu - t.lastCPU
	t.lastWall = now
	t.lastCPU = cpu

	if wallDelta <= 0 {
		return 0
	}
	return float64(cpuDelta) / float64(wallDelta) * 100
}

// processCPUTime returns total user+system CPU time consumed by the process
func processCPUTime() time.Duration {
	var usage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &usage); err != nil {
		return 0
	}
	user := time.Duration(usage.Utime.Sec)*time.Second + time.Duration(usage.Utime.Usec)*time.Microsecond
	sys := time.Duration(usage.Stime.Sec)*time.Second + time.Duration(usage.Stime.Usec)*time.Microsecond
	return user + sys
}

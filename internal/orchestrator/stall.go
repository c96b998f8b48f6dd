package orchestrator

import (
	"sync"
	"time"
)

// stallDetector tracks whether the planner is still producing batches and
// whether any worker is still making copy progress. A run is failed only
// when BOTH have been idle past the configured timeout; either one alone
// making progress is enough to keep the run alive.
type stallDetector struct {
	mu               sync.Mutex
	lastPlannerEmit  time.Time
	lastWorkerProgress time.Time
	timeout          time.Duration
}

func newStallDetector(timeout time.Duration) *stallDetector {
	now := time.Now()
	return &stallDetector{
		lastPlannerEmit:    now,
		lastWorkerProgress: now,
		timeout:            timeout,
	}
}

func (d *stallDetector) markPlannerEmit() {
	d.mu.Lock()
	d.lastPlannerEmit = time.Now()
	d.mu.Unlock()
}

func (d *stallDetector) markWorkerProgress() {
	d.mu.Lock()
	d.lastWorkerProgress = time.Now()
	d.mu.Unlock()
}

// check reports whether the run has stalled, and which side (or both) is
// responsible, so the caller can report a precise error code.
func (d *stallDetector) check() (stalled, plannerIdle, workerIdle bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	plannerIdle = now.Sub(d.lastPlannerEmit) >= d.timeout
	workerIdle = now.Sub(d.lastWorkerProgress) >= d.timeout
	stalled = plannerIdle && workerIdle
	return stalled, plannerIdle, workerIdle
}

// heartbeatInterval picks a tighter poll interval once either side has
// gone quiet, so a stall is detected close to the timeout rather than up
// to a full idle tick late.
func (d *stallDetector) heartbeatInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	since := time.Since(d.lastPlannerEmit)
	if w := time.Since(d.lastWorkerProgress); w < since {
		since = w
	}
	if since >= d.timeout/2 {
		return heartbeatStarvedInterval
	}
	return heartbeatIdleInterval
}

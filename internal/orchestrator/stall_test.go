package orchestrator

import (
	"testing"
	"time"
)

func TestStallDetector_NotStalledWhileEitherSideProgresses(t *testing.T) {
	t.Parallel()

	d := newStallDetector(50 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	d.markWorkerProgress()

	stalled, plannerIdle, workerIdle := d.check()
	if stalled {
		t.Error("stalled = true, want false: worker just progressed")
	}
	if !plannerIdle {
		t.Error("plannerIdle = false, want true: planner has been silent since start")
	}
	if workerIdle {
		t.Error("workerIdle = true, want false: worker just progressed")
	}
}

func TestStallDetector_StalledWhenBothSidesIdle(t *testing.T) {
	t.Parallel()

	d := newStallDetector(10 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	stalled, plannerIdle, workerIdle := d.check()
	if !stalled || !plannerIdle || !workerIdle {
		t.Errorf("stalled=%v plannerIdle=%v workerIdle=%v, want all true", stalled, plannerIdle, workerIdle)
	}
}

func TestStallDetector_HeartbeatIntervalTightensNearTimeout(t *testing.T) {
	t.Parallel()

	d := newStallDetector(20 * time.Millisecond)
	if got := d.heartbeatInterval(); got != heartbeatIdleInterval {
		t.Errorf("heartbeatInterval() = %v immediately after creation, want the idle interval", got)
	}

	time.Sleep(15 * time.Millisecond)
	if got := d.heartbeatInterval(); got != heartbeatStarvedInterval {
		t.Errorf("heartbeatInterval() = %v past half the timeout, want the starved interval", got)
	}
}

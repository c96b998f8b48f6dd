package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// executeStreamingPlan drives the final fallback route: a full
// streaming plan fanned out across a bounded worker pool, with mirror
// deletions and move-mode source removal deferred until every copy has
// landed, and a stall detector that fails the run if both the planner and
// every worker go idle past the configured timeout.
func (o *Orchestrator) executeStreamingPlan(ctx context.Context, src, dst types.Locator, mode types.Mode, opts types.PlanOptions, key types.ProfileKey, start time.Time) (types.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, ctl, err := o.facade.StreamLocalPlan(runCtx, src, dst, mode, opts)
	if err != nil {
		return types.Summary{}, wrapOrchestration(errors.ErrCodeOperationFailed, "stream_local_plan", err)
	}
	defer ctl.Cancel()

	// ExecuteLocal only ever drives local-to-local transfers; remote runs
	// go through internal/remote's own entry points, which do not use this
	// stall detector or o.cfg.StallTimeout.
	const linkClass = types.LinkLocal
	detector := newStallDetector(o.cfg.LocalStallTimeout)

	tuned := o.tuner.Tune(linkClass, key, 0, 0)
	workers := tuned.WorkerCount
	if workers < 1 {
		workers = 1
	}

	p := pool.New().WithMaxGoroutines(workers).WithErrors().WithContext(runCtx).WithCancelOnError()

	var (
		mu              sync.Mutex
		summary         types.Summary
		filesEnumerated uint64
		bytesEnumerated uint64
		pendingDeletes  []types.PathOnDest
		stalled         int32
		stallCode       atomic.Value
	)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-time.After(detector.heartbeatInterval()):
			}
			if s, plannerIdle, workerIdle := detector.check(); s {
				atomic.StoreInt32(&stalled, 1)
				code := errors.ErrCodeStallBoth
				switch {
				case plannerIdle && !workerIdle:
					code = errors.ErrCodeStallPlannerIdle
				case workerIdle && !plannerIdle:
					code = errors.ErrCodeStallWorkerIdle
				}
				stallCode.Store(code)
				cancel()
				return
			}
		}
	}()

eventLoop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break eventLoop
			}
			detector.markPlannerEmit()

			switch ev.Kind {
			case types.EventBatch:
				batch := ev.Batch
				p.Go(func(ctx context.Context) error {
					for _, entry := range batch.Entries {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						outcome, err := o.engine.Copy(ctx, entry)
						detector.markWorkerProgress()
						mu.Lock()
						if err != nil {
							summary.FailedFiles = append(summary.FailedFiles, types.FailedFile{Path: string(entry.Src), Err: err.Error()})
						} else {
							summary.FilesTransferred++
							summary.BytesTransferred += outcome.BytesWritten
							summary.BytesZeroCopied += outcome.BytesZeroCopied
						}
						mu.Unlock()
					}
					return nil
				})
			case types.EventUnreadable:
				mu.Lock()
				summary.FailedFiles = append(summary.FailedFiles, types.FailedFile{
					Path: ev.Unreadable.Path,
					Err:  ev.Unreadable.Kind,
				})
				mu.Unlock()
			case types.EventDone:
				filesEnumerated = ev.Stats.FilesEnumerated
				bytesEnumerated = ev.Stats.BytesEnumerated
				pendingDeletes = ev.Stats.ToDelete
				mu.Lock()
				summary.EntriesDeleted = uint64(len(pendingDeletes))
				mu.Unlock()
			}
		case <-runCtx.Done():
			break eventLoop
		}
	}

	waitErr := p.Wait()

	if atomic.LoadInt32(&stalled) == 1 {
		code, _ := stallCode.Load().(errors.ErrorCode)
		if code == "" {
			code = errors.ErrCodeStallBoth
		}
		return summary, wrapOrchestration(code, "execute_streaming_plan", runCtx.Err())
	}
	if waitErr != nil && ctx.Err() != nil {
		summary.Cancelled = true
		return summary, nil
	}

	if mode == types.ModeMirror && opts.Delete {
		for _, d := range pendingDeletes {
			if err := deleteDestPath(d); err != nil {
				summary.FailedFiles = append(summary.FailedFiles, types.FailedFile{Path: string(d), Err: err.Error()})
				continue
			}
		}
	}

	if mode == types.ModeMove && !summary.HasFailures() {
		removeSourceTree(src)
	}

	summary.FastPath = "streaming_plan"
	planningMs := float64(time.Since(start).Milliseconds())
	o.recordHistory(key, filesEnumerated, bytesEnumerated, 0, flagsString(mode, opts), planningMs, planningMs, summary.FastPath)

	return summary, nil
}

// Package orchestrator implements the streaming planner/orchestrator: the
// entry points that route a transfer request to the cheapest fast path
// that applies, or else drive a full streaming plan through a bounded
// worker pool.
package orchestrator

import (
	"context"
	"os"
	"time"

	"github.com/roethlar/blit/internal/copyengine"
	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// Fast-path thresholds from the streaming planner/orchestrator component.
const (
	smallPathMaxEntries = 8
	smallPathMaxBytes   = 100 * 1024 * 1024
	largeFileThreshold  = 1 * 1024 * 1024 * 1024

	defaultStallTimeout      = 10 * time.Second
	defaultLocalStallTimeout = 3 * time.Second
	heartbeatStarvedInterval = 500 * time.Millisecond
	heartbeatIdleInterval    = 1 * time.Second
)

// CopyEngine is the subset of copyengine.Engine the orchestrator drives.
// A narrow interface here keeps the orchestrator testable without a real
// filesystem copy engine.
type CopyEngine interface {
	Copy(ctx context.Context, entry types.TransferEntry) (copyengine.CopyOutcome, error)
}

// Config bounds the orchestrator's stall detection and worker dispatch.
type Config struct {
	// LocalStallTimeout is how long both the planner and every worker may
	// sit idle before an ExecuteLocal run is failed; 0 uses
	// defaultLocalStallTimeout. StallTimeout (0 uses defaultStallTimeout)
	// is stored but not read: ExecuteLocal only drives LinkLocal
	// transfers, and no other entry point runs a stall detector.
	StallTimeout      time.Duration
	LocalStallTimeout time.Duration

	// BatchChannelCap (0 uses 64) is stored but not read; the
	// planner-to-worker channel is the one the facade's StreamLocalPlan
	// creates, with its own capacity.
	BatchChannelCap int
}

// Orchestrator wires the facade, change journal, tuner, predictor,
// performance history and copy engine together to execute a transfer
// request end to end.
type Orchestrator struct {
	enumerator types.Enumerator
	facade     types.Facade
	journal    types.JournalCapability // nil disables the skip-unchanged fast path
	tuner      types.Tuner
	predictor  types.Predictor
	history    types.PerformanceHistory
	engine     CopyEngine
	cfg        Config
}

// New builds an Orchestrator. journal, predictor and history may be nil to
// disable their respective optional behaviors (full enumeration always
// used, no prediction/logging).
func New(enumerator types.Enumerator, facade types.Facade, journal types.JournalCapability, tuner types.Tuner, predictor types.Predictor, history types.PerformanceHistory, engine CopyEngine, cfg Config) *Orchestrator {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = defaultStallTimeout
	}
	if cfg.LocalStallTimeout <= 0 {
		cfg.LocalStallTimeout = defaultLocalStallTimeout
	}
	if cfg.BatchChannelCap <= 0 {
		cfg.BatchChannelCap = 64
	}
	return &Orchestrator{
		enumerator: enumerator,
		facade:     facade,
		journal:    journal,
		tuner:      tuner,
		predictor:  predictor,
		history:    history,
		engine:     engine,
		cfg:        cfg,
	}
}

// ExecuteLocal runs mode (copy/mirror/move) from src to dst, picking a
// route in order: journal skip-unchanged, then small-workload direct
// dispatch, then a single large file routed directly, and otherwise a
// full streaming plan through the worker pool.
func (o *Orchestrator) ExecuteLocal(ctx context.Context, src, dst types.Locator, mode types.Mode, opts types.PlanOptions) (types.Summary, error) {
	key := profileKeyFor(src, dst, opts)
	start := time.Now()

	if mode == types.ModeMirror && opts.SkipUnchanged && !opts.Checksum && o.journal != nil {
		if summary, handled := o.tryJournalFastPath(ctx, src); handled {
			return summary, nil
		}
	}

	probe, probeErr := o.probeWorkload(ctx, src, mode, opts)
	if probeErr == nil {
		if probe.singleLargeFile {
			return o.executeLargeFile(ctx, probe.entries[0], dst, mode)
		}
		if probe.smallWorkload {
			return o.executeDirect(ctx, probe.entries, dst, mode, probe.soleLocator)
		}
	}

	summary, err := o.executeStreamingPlan(ctx, src, dst, mode, opts, key, start)
	return summary, err
}

func profileKeyFor(src, dst types.Locator, opts types.PlanOptions) types.ProfileKey {
	return types.ProfileKey{
		SrcFSClass:    fsClassFor(string(src)),
		DstFSClass:    fsClassFor(string(dst)),
		SkipUnchanged: opts.SkipUnchanged,
		Checksum:      opts.Checksum,
	}
}

// recordHistory appends a PerfRecord for this run and folds the observed
// planning duration back into the predictor, when both are configured.
func (o *Orchestrator) recordHistory(key types.ProfileKey, files, bytes uint64, maxDepth int, flags string, planningMs, copyMs float64, fastPathTag string) {
	var predictedMs float64
	if o.predictor != nil {
		predictedMs = o.predictor.Predict(key, files, bytes)
		o.predictor.Observe(key, files, bytes, planningMs)
	}

	if o.history == nil {
		return
	}

	var errPct float64
	if predictedMs != 0 {
		errPct = ((planningMs - predictedMs) / predictedMs) * 100
		if errPct < 0 {
			errPct = -errPct
		}
	}

	_ = o.history.Append(types.PerfRecord{
		Timestamp:           time.Now(),
		ProfileKey:          key,
		Files:               files,
		Bytes:               bytes,
		MaxDepth:            maxDepth,
		Flags:               flags,
		PlanningMs:          planningMs,
		CopyMs:              copyMs,
		FastPathTag:         fastPathTag,
		PredictedPlanningMs: predictedMs,
		AbsoluteErrorPct:    errPct,
	})
}

func flagsString(mode types.Mode, opts types.PlanOptions) string {
	s := mode.String()
	if opts.SkipUnchanged {
		s += ",skip_unchanged"
	}
	if opts.Checksum {
		s += ",checksum"
	}
	if opts.Delete {
		s += ",delete"
	}
	return s
}

// statRegularFile reports whether locator names a single regular file
// (not a directory), and its size if so.
func statRegularFile(locator types.Locator) (size uint64, isFile bool) {
	info, err := os.Stat(string(locator))
	if err != nil || info.IsDir() {
		return 0, false
	}
	return uint64(info.Size()), true
}

func wrapOrchestration(code errors.ErrorCode, op string, err error) error {
	return errors.NewError(code, "orchestration failed").
		WithComponent("orchestrator").WithOperation(op).WithCause(err)
}

// Package facade wraps enumeration, the change journal, and the mirror
// planner into a single streaming plan producer, implementing
// types.Facade. It owns the batch aggregator: entries accumulate into an
// open TaskBatch until an entry-count or byte cap is hit, at which point
// the batch is sealed and handed to the caller.
package facade

import (
	"context"
	"log/slog"

	"github.com/roethlar/blit/pkg/types"
)

// unreadableReporter is an optional capability an Enumerator may satisfy
// to surface entries it skipped instead of silently dropping them.
type unreadableReporter interface {
	OnUnreadable(fn func(path, kind string))
}

// Config bounds the aggregator's batch sizing. Zero values fall back to
// types.DefaultMaxBatchEntries / types.DefaultMaxBatchBytes.
type Config struct {
	MaxBatchEntries int
	MaxBatchBytes   uint64
}

// Facade implements types.Facade over a concrete enumerator and planner.
// journal may be nil; it is stored but not consulted here, so every call
// does a full enumeration and compare (the skip-unchanged fast path is
// checked by the orchestrator before the facade is invoked).
type Facade struct {
	enumerator types.Enumerator
	planner    types.MirrorPlanner
	journal    types.JournalCapability
	cfg        Config
}

// New builds a Facade. journal is optional and may be nil; the Facade
// itself never reads it.
func New(enumerator types.Enumerator, planner types.MirrorPlanner, journal types.JournalCapability, cfg Config) *Facade {
	if cfg.MaxBatchEntries <= 0 {
		cfg.MaxBatchEntries = types.DefaultMaxBatchEntries
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = types.DefaultMaxBatchBytes
	}
	return &Facade{enumerator: enumerator, planner: planner, journal: journal, cfg: cfg}
}

type control struct {
	cancel context.CancelFunc
}

func (c *control) Cancel() { c.cancel() }

// StreamLocalPlan implements types.Facade. The returned channel receives
// zero-or-more EventUnreadable/EventBatch events followed by exactly one
// EventDone, then closes.
func (f *Facade) StreamLocalPlan(ctx context.Context, src, dst types.Locator, mode types.Mode, opts types.PlanOptions) (<-chan types.PlannerEvent, types.PlanControl, error) {
	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan types.PlannerEvent, 1)
	ctl := &control{cancel: cancel}

	go f.run(runCtx, src, dst, mode, opts, events)

	return events, ctl, nil
}

func (f *Facade) run(ctx context.Context, src, dst types.Locator, mode types.Mode, opts types.PlanOptions, events chan<- types.PlannerEvent) {
	defer close(events)

	if reporter, ok := f.enumerator.(unreadableReporter); ok {
		reporter.OnUnreadable(func(path, kind string) {
			f.send(ctx, events, types.PlannerEvent{
				Kind:       types.EventUnreadable,
				Unreadable: types.UnreadableEntry{Path: path, Kind: kind},
			})
		})
	}

	var srcRecs []types.FileRecord
	var filesEnum, bytesEnum uint64
	enumErr := f.enumerator.Enumerate(ctx, string(src), func(rec types.FileRecord) error {
		srcRecs = append(srcRecs, rec)
		filesEnum++
		bytesEnum += rec.Size
		return ctx.Err()
	})
	if enumErr != nil {
		slog.Default().Warn("source enumeration ended early", "component", "facade", "error", enumErr)
		f.send(ctx, events, types.PlannerEvent{Kind: types.EventDone, Stats: types.PlanStats{FilesEnumerated: filesEnum, BytesEnumerated: bytesEnum}})
		return
	}

	var dstRecs []types.FileRecord
	if err := f.enumerator.Enumerate(ctx, string(dst), func(rec types.FileRecord) error {
		dstRecs = append(dstRecs, rec)
		return ctx.Err()
	}); err != nil {
		// A fresh destination root (mirror's first run) legitimately
		// doesn't exist yet; any other failure still degrades to "nothing
		// on the destination" rather than aborting the whole plan.
		dstRecs = nil
	}

	planOpts := opts
	planOpts.SrcRoot = src
	planOpts.DstRoot = dst
	planOpts.Delete = opts.Delete && mode == types.ModeMirror

	plan, err := f.planner.Plan(ctx, srcRecs, dstRecs, planOpts)
	if err != nil {
		slog.Default().Warn("mirror plan failed", "component", "facade", "error", err)
		f.send(ctx, events, types.PlannerEvent{Kind: types.EventDone, Stats: types.PlanStats{FilesEnumerated: filesEnum, BytesEnumerated: bytesEnum}})
		return
	}

	f.emitBatches(ctx, events, plan.ToCopy)

	f.send(ctx, events, types.PlannerEvent{
		Kind: types.EventDone,
		Stats: types.PlanStats{
			FilesEnumerated: filesEnum,
			BytesEnumerated: bytesEnum,
			UnchangedCount:  plan.UnchangedCount,
			ToDelete:        plan.ToDelete,
		},
	})
}

// emitBatches implements the size/byte-triggered aggregation: append until
// a cap is hit, seal, push, start a fresh batch.
func (f *Facade) emitBatches(ctx context.Context, events chan<- types.PlannerEvent, entries []types.TransferEntry) {
	batch := &types.TaskBatch{}
	seal := func() {
		if len(batch.Entries) == 0 {
			return
		}
		batch.Close()
		f.send(ctx, events, types.PlannerEvent{Kind: types.EventBatch, Batch: batch})
		batch = &types.TaskBatch{}
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.Record.Kind != types.KindRegular {
			// A new directory or symlink needs no payload bytes; the
			// copy engine only knows how to write regular-file content,
			// and the destination path joining already creates any
			// directory a regular file under it requires.
			continue
		}
		batch.Append(entry)
		if len(batch.Entries) >= f.cfg.MaxBatchEntries || batch.ByteTotal >= f.cfg.MaxBatchBytes {
			seal()
		}
	}
	seal()
}

func (f *Facade) send(ctx context.Context, events chan<- types.PlannerEvent, ev types.PlannerEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

var _ types.Facade = (*Facade)(nil)

package orchestrator

import (
	"context"
	"errors"
	"os"
	"path"
	"time"

	"github.com/roethlar/blit/pkg/types"
)

// tryJournalFastPath consults the change journal for src. On Unchanged it
// returns a zero-work success; on Changed or Inconclusive it reports
// handled=false so the caller falls through to a real plan.
func (o *Orchestrator) tryJournalFastPath(ctx context.Context, src types.Locator) (types.Summary, bool) {
	prev, found, err := o.journal.Load(string(src))
	if err != nil || !found {
		return types.Summary{}, false
	}

	cur, err := o.journal.Capture(ctx, string(src))
	if err != nil {
		return types.Summary{}, false
	}

	result, err := o.journal.Compare(ctx, string(src), prev, cur)
	if err != nil || result != types.Unchanged {
		return types.Summary{}, false
	}

	_ = o.journal.Persist(cur)
	return types.Summary{FastPath: "journal_unchanged"}, true
}

type workloadProbe struct {
	entries         []types.TransferEntry
	smallWorkload   bool
	singleLargeFile bool
	// soleLocator is set when src itself named a single regular file
	// (rather than a directory tree), so dst names the destination file
	// directly instead of a directory to join entry paths under.
	soleLocator bool
}

// probeWorkload performs a bounded enumeration of src to decide between
// small-workload direct dispatch and single-large-file direct dispatch:
// it stops as soon as the workload proves too big for the small-direct
// path, or as soon as it confirms src is a single large regular file.
func (o *Orchestrator) probeWorkload(ctx context.Context, src types.Locator, mode types.Mode, opts types.PlanOptions) (workloadProbe, error) {
	if size, isFile := statRegularFile(src); isFile {
		rec := types.FileRecord{Path: path.Base(string(src)), Size: size, Kind: types.KindRegular}
		entry := types.TransferEntry{Record: rec, Src: src}
		if size >= largeFileThreshold {
			return workloadProbe{entries: []types.TransferEntry{entry}, singleLargeFile: true, soleLocator: true}, nil
		}
		return workloadProbe{entries: []types.TransferEntry{entry}, smallWorkload: true, soleLocator: true}, nil
	}

	// Route 2 never applies to a mirror deletion or a checksum-forced
	// compare; both require the full plan to know what differs or what to
	// remove.
	if mode == types.ModeMirror && opts.Delete {
		return workloadProbe{}, errNotEligible
	}
	if opts.Checksum {
		return workloadProbe{}, errNotEligible
	}

	var entries []types.TransferEntry
	var total uint64
	err := o.enumerator.Enumerate(ctx, string(src), func(rec types.FileRecord) error {
		if rec.Kind == types.KindDirectory {
			return nil
		}
		total += rec.Size
		if len(entries) >= smallPathMaxEntries || total > smallPathMaxBytes {
			return errProbeOverflow
		}
		entries = append(entries, types.TransferEntry{Record: rec, Src: joinLocator(src, rec.Path)})
		return nil
	})
	if err != nil {
		if errors.Is(err, errProbeOverflow) {
			return workloadProbe{}, errNotEligible
		}
		return workloadProbe{}, err
	}
	if len(entries) > smallPathMaxEntries || total > smallPathMaxBytes {
		return workloadProbe{}, errNotEligible
	}
	return workloadProbe{entries: entries, smallWorkload: true}, nil
}

// executeDirect copies a small workload sequentially without invoking the
// facade or a worker pool. When soleLocator is set, src named the
// destination's sole source file directly, so dst is used verbatim
// rather than joined with each entry's relative path. For ModeMove, each
// entry's source is removed only once every entry in the workload has
// copied without error — matching internal/remote's own post-transfer
// delete gate, so a partial failure never destroys files that never made
// it to dst.
func (o *Orchestrator) executeDirect(ctx context.Context, entries []types.TransferEntry, dst types.Locator, mode types.Mode, soleLocator bool) (types.Summary, error) {
	summary := types.Summary{FastPath: "direct_small"}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			summary.Cancelled = true
			return summary, nil
		}
		if entry.Dst == "" {
			if soleLocator {
				entry.Dst = dst
			} else {
				entry.Dst = joinLocator(dst, entry.Record.Path)
			}
		}
		outcome, err := o.engine.Copy(ctx, entry)
		if err != nil {
			summary.FailedFiles = append(summary.FailedFiles, types.FailedFile{Path: string(entry.Src), Err: err.Error()})
			continue
		}
		summary.FilesTransferred++
		summary.BytesTransferred += outcome.BytesWritten
		summary.BytesZeroCopied += outcome.BytesZeroCopied
	}
	if mode == types.ModeMove && !summary.HasFailures() {
		for _, entry := range entries {
			_ = os.Remove(string(entry.Src))
		}
	}
	return summary, nil
}

// executeLargeFile routes a single, very large regular file directly to
// the copy engine, bypassing batching overhead entirely (fast-path route
// 3). The engine's own strategy chain (clone/fast-copy/mmap/chunked with
// resume) already handles files of this size efficiently. For ModeMove,
// the source is removed only once the copy has landed without error.
func (o *Orchestrator) executeLargeFile(ctx context.Context, entry types.TransferEntry, dst types.Locator, mode types.Mode) (types.Summary, error) {
	start := time.Now()
	if entry.Dst == "" {
		entry.Dst = dst
	}
	outcome, err := o.engine.Copy(ctx, entry)
	summary := types.Summary{FastPath: "large_file_direct"}
	if err != nil {
		summary.FailedFiles = []types.FailedFile{{Path: string(entry.Src), Err: err.Error()}}
		return summary, nil
	}
	summary.FilesTransferred = 1
	summary.BytesTransferred = outcome.BytesWritten
	summary.BytesZeroCopied = outcome.BytesZeroCopied
	summary.FirstPayloadElapsedMs = float64(time.Since(start).Milliseconds())
	if mode == types.ModeMove {
		_ = os.Remove(string(entry.Src))
	}
	return summary, nil
}

func joinLocator(root types.Locator, rel string) types.Locator {
	return types.Locator(path.Join(string(root), rel))
}

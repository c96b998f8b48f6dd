package types

import (
	"context"
	"io"
)

// Enumerator walks a root and streams FileRecord values in path order.
// Implementations must be safe to cancel mid-walk via ctx.
type Enumerator interface {
	// Enumerate walks root and invokes emit for every entry found. It returns
	// when the walk completes, ctx is cancelled, or emit returns an error.
	Enumerate(ctx context.Context, root string, emit func(FileRecord) error) error
}

// JournalCapability is the per-platform change-journal implementation
// selected at startup (POSIX metadata scan, NTFS USN journal, macOS
// FSEvents). Exactly one capability backs a given root at a time.
type JournalCapability interface {
	// Kind identifies which SnapshotKind this capability produces.
	Kind() SnapshotKind

	// Capture takes a snapshot of root and returns a token identifying it.
	// The token is opaque to callers and only comparable to tokens from the
	// same capability and root.
	Capture(ctx context.Context, root string) (ProbeToken, error)

	// Compare reports whether anything changed under root between prev and
	// cur. Inconclusive means the capability could not determine an answer
	// (e.g. a USN journal wraparound) and callers should fall back to a full
	// enumeration.
	Compare(ctx context.Context, root string, prev, cur ProbeToken) (CompareResult, error)

	// Persist writes token to stable storage so it survives process restart.
	Persist(token ProbeToken) error

	// Load reads back the last persisted token for root, if any.
	Load(root string) (ProbeToken, bool, error)
}

// MirrorPlanner compares a source and destination enumeration and produces
// the set of copies and deletions needed to make the destination match.
type MirrorPlanner interface {
	Plan(ctx context.Context, src, dst []FileRecord, opts PlanOptions) (MirrorPlan, error)
}

// PlanOptions controls how MirrorPlanner compares entries.
type PlanOptions struct {
	SkipUnchanged bool
	Checksum      bool
	Delete        bool

	// CaseInsensitiveDest folds path case when matching source entries
	// against destination entries, for destinations on case-insensitive
	// filesystems (e.g. default HFS+/APFS or NTFS mounts). Mismatched
	// casing on an otherwise-matching entry is treated as unchanged, not
	// as a delete-then-create.
	CaseInsensitiveDest bool

	// SrcRoot and DstRoot are joined with each FileRecord.Path to build
	// the absolute Locators on every TransferEntry the plan emits, since
	// FileRecord itself only carries a root-relative path.
	SrcRoot Locator
	DstRoot Locator
}

// CopyStrategy performs the data movement for a single TransferEntry. The
// copy engine tries strategies in preference order and falls back when one
// is unavailable (e.g. clone/reflink across filesystems).
type CopyStrategy interface {
	// Name identifies the strategy for logging and Summary.FastPath.
	Name() string

	// Applicable reports whether this strategy can handle the given entry
	// without attempting the copy.
	Applicable(entry TransferEntry) bool

	// Copy performs the transfer. Implementations that zero-copy should
	// return the number of bytes moved via that path.
	Copy(ctx context.Context, entry TransferEntry) (zeroCopied uint64, err error)
}

// BufferPool hands out reusable byte slices bucketed by size, gated by a
// global byte budget so concurrent transfers cannot exhaust memory.
type BufferPool interface {
	// Get blocks until budget is available or ctx is cancelled, then returns
	// a buffer of at least size bytes.
	Get(ctx context.Context, size int) ([]byte, error)

	// Put returns a buffer to the pool. Callers must not use buf afterward.
	Put(buf []byte)
}

// Tuner derives TuningParams for a transfer from link class and workload
// shape. Implementations may consult PerformanceHistory.
type Tuner interface {
	Tune(class LinkClass, key ProfileKey, fileCount uint64, totalBytes uint64) TuningParams
}

// PerformanceHistory is the append-only store of past transfer timings used
// to seed the predictor and the auto-tuner.
type PerformanceHistory interface {
	Append(rec PerfRecord) error
	Recent(key ProfileKey, limit int) ([]PerfRecord, error)
}

// Predictor estimates planning duration for a profile key given workload
// size, and folds observed outcomes back into its coefficients.
type Predictor interface {
	Predict(key ProfileKey, fileCount, totalBytes uint64) float64
	Observe(key ProfileKey, fileCount, totalBytes uint64, actualMs float64)
}

// ControlPlane negotiates a data-plane session with a remote daemon before
// any bytes move.
type ControlPlane interface {
	Negotiate(ctx context.Context, mode Mode, manifest []FileRecord) (NegotiatedSession, error)
	Close() error
}

// DataPlane moves bytes for a negotiated session, batching small files into
// tar shards and falling back to gRPC when the TCP path is unavailable.
type DataPlane interface {
	SendEntry(ctx context.Context, entry TransferEntry, r io.Reader) error
	Close() error
}

// PlanControl lets a caller cancel an in-flight streaming plan. Cancellation
// is cooperative: the facade stops emitting new batches at the next batch
// boundary rather than tearing down mid-batch.
type PlanControl interface {
	Cancel()
}

// Facade wraps enumeration, the change journal, and the mirror planner into
// a single streaming plan producer. The returned channel is closed after an
// EventDone (or EventUnreadable-only failure) event is sent.
type Facade interface {
	StreamLocalPlan(ctx context.Context, src, dst Locator, mode Mode, opts PlanOptions) (<-chan PlannerEvent, PlanControl, error)
}

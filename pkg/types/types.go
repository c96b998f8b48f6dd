// Package types holds the data model shared by every transfer-core
// subsystem: enumeration records, transfer plans, change-journal tokens,
// performance history, and the structures negotiated between the control
// and data planes.
package types

import (
	"strings"
	"time"
)

// Kind tags a FileRecord's filesystem entry type.
type Kind int

const (
	KindRegular Kind = iota
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "regular"
	}
}

// FileRecord describes one entry produced by enumeration. Path is always
// relative, normalised to forward slashes, and never contains ".." segments.
type FileRecord struct {
	Path  string `json:"path"`
	Size  uint64 `json:"size"`
	MTime Time   `json:"mtime"`
	Mode  uint32 `json:"mode"`
	Kind  Kind   `json:"kind"`

	// Checksum is the hex-encoded strong hash of the entry's content,
	// populated only when the enumerator was asked to compute one (the
	// mirror planner's checksum comparison mode). Empty for a metadata-only
	// enumeration or for non-regular entries.
	Checksum string `json:"checksum,omitempty"`
}

// Time is a signed seconds+nanoseconds pair since the epoch, giving a
// stable wire-level time representation independent of any platform's
// time.Time encoding.
type Time struct {
	Sec  int64 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

// FromStdTime converts a time.Time to the wire Time representation.
func FromStdTime(t time.Time) Time {
	return Time{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

// Std converts back to a time.Time in UTC.
func (t Time) Std() time.Time {
	return time.Unix(t.Sec, int64(t.Nsec)).UTC()
}

// WithinSecond reports whether two timestamps are equal modulo 1 second,
// the metadata-comparison tolerance used by the mirror planner.
func (t Time) WithinSecond(o Time) bool {
	d := t.Sec - o.Sec
	if d < 0 {
		d = -d
	}
	return d <= 1
}

// NormalisePath converts a native path into the manifest's relative,
// forward-slash form. It returns ok=false if the result would contain a
// ".." component after cleaning.
func NormalisePath(rel string) (string, bool) {
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimPrefix(rel, "./")
	for strings.HasPrefix(rel, "/") {
		rel = rel[1:]
	}
	if rel == "" {
		return "", true
	}
	parts := strings.Split(rel, "/")
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case "", ".":
			continue
		case "..":
			return "", false
		default:
			clean = append(clean, p)
		}
	}
	return strings.Join(clean, "/"), true
}

// Locator is an absolute, platform-native path naming where a FileRecord
// physically lives (source) or should be written (destination). For remote
// endpoints it is the host-local path inside the daemon's module root.
type Locator string

// TransferEntry pairs a FileRecord with its absolute source and destination
// locators. Created by the facade, consumed exactly once by a worker, and
// never mutated after emission.
type TransferEntry struct {
	Record FileRecord
	Src    Locator
	Dst    Locator
}

// DefaultMaxBatchEntries is the entry-count cap before a batch is sealed.
const DefaultMaxBatchEntries = 2048

// DefaultMaxBatchBytes is the byte cap before a batch is sealed.
const DefaultMaxBatchBytes = 3 * 1024 * 1024

// TaskBatch is a size-bounded, append-only group of TransferEntry values.
// Once Close is called the batch is immutable and safe to hand to a worker.
type TaskBatch struct {
	Entries   []TransferEntry
	ByteTotal uint64
	closed    bool
}

// Append adds an entry to an open batch. It panics if called on a closed
// batch; the facade/aggregator is the sole appender and checks Closed first.
func (b *TaskBatch) Append(e TransferEntry) {
	if b.closed {
		panic("types: append to closed TaskBatch")
	}
	b.Entries = append(b.Entries, e)
	b.ByteTotal += e.Record.Size
}

// Close seals the batch; it is idempotent.
func (b *TaskBatch) Close() { b.closed = true }

// Closed reports whether the batch has been sealed.
func (b *TaskBatch) Closed() bool { return b.closed }

// PathOnDest names a destination-relative path slated for deletion during
// mirror cleanup.
type PathOnDest string

// MirrorPlan is the output of comparing two enumerations: what to copy,
// what to delete on the destination, and how many entries needed nothing.
type MirrorPlan struct {
	ToCopy         []TransferEntry
	ToDelete       []PathOnDest
	UnchangedCount uint64
}

// SnapshotKind identifies which platform-specific change-journal capability
// produced a Snapshot/ProbeToken pair.
type SnapshotKind int

const (
	SnapshotPOSIXMetadata SnapshotKind = iota
	SnapshotNTFSUSN
	SnapshotMacFSEvents
)

func (k SnapshotKind) String() string {
	switch k {
	case SnapshotNTFSUSN:
		return "ntfs_usn"
	case SnapshotMacFSEvents:
		return "macos_fsevents"
	default:
		return "posix_metadata"
	}
}

// ProbeToken identifies a snapshot for comparison purposes. Two tokens are
// comparable only when Kind and RootID both match.
type ProbeToken struct {
	RootID   string       `json:"root_id"`
	Kind     SnapshotKind `json:"snapshot_kind"`
	Sequence uint64       `json:"sequence"`
}

// Comparable reports whether two tokens may be passed to Compare together.
func (t ProbeToken) Comparable(o ProbeToken) bool {
	return t.Kind == o.Kind && t.RootID == o.RootID
}

// CompareResult is the outcome of comparing two change-journal snapshots.
type CompareResult int

const (
	Unchanged CompareResult = iota
	Changed
	Inconclusive
)

func (c CompareResult) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	default:
		return "inconclusive"
	}
}

// ProfileKey groups predictor coefficients and performance-history records.
type ProfileKey struct {
	SrcFSClass    string `json:"src_fs_class"`
	DstFSClass    string `json:"dst_fs_class"`
	SkipUnchanged bool   `json:"skip_unchanged"`
	Checksum      bool   `json:"checksum"`
}

// String renders a ProfileKey as a stable map key / log field.
func (p ProfileKey) String() string {
	skip := "0"
	if p.SkipUnchanged {
		skip = "1"
	}
	cks := "0"
	if p.Checksum {
		cks = "1"
	}
	return p.SrcFSClass + "|" + p.DstFSClass + "|" + skip + "|" + cks
}

// PerfRecord is one append-only performance-history entry.
type PerfRecord struct {
	Timestamp           time.Time  `json:"timestamp"`
	ProfileKey          ProfileKey `json:"profile_key"`
	Files               uint64     `json:"files"`
	Bytes               uint64     `json:"bytes"`
	MaxDepth            int        `json:"max_depth"`
	Flags               string     `json:"flags"`
	PlanningMs          float64    `json:"planning_ms"`
	CopyMs              float64    `json:"copy_ms"`
	FastPathTag         string     `json:"fast_path_tag"`
	PredictedPlanningMs float64    `json:"predicted_planning_ms"`
	AbsoluteErrorPct    float64    `json:"absolute_error_pct"`
}

// PredictorCoefficients is the linear model planning_ms ≈ Alpha*files +
// Beta*bytes + Gamma for one profile key.
type PredictorCoefficients struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// PredictorState is the persisted set of per-profile coefficients.
type PredictorState struct {
	Version      int                              `json:"version"`
	Coefficients map[string]PredictorCoefficients `json:"coefficients"`
}

// TuningParams is the auto-tuner's output, derived per transfer.
type TuningParams struct {
	WorkerCount    int `json:"worker_count"`
	StreamCount    int `json:"stream_count"`
	ChunkBytes     int `json:"chunk_bytes"`
	TCPBufferBytes int `json:"tcp_buffer_bytes"`
	PrefetchCount  int `json:"prefetch_count"`
}

// NegotiatedSession describes the data-plane endpoint and credential agreed
// during control-plane negotiation.
type NegotiatedSession struct {
	TCPEndpoint string    `json:"tcp_endpoint"`
	Token       []byte    `json:"-"`
	StreamCount int       `json:"stream_count"`
	ForcedGRPC  bool      `json:"forced_grpc"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TarShard identifies one streamed bundle of small files on the wire;
// entries are appended by the shard writer only and observed as a whole by
// readers once Complete is true.
type TarShard struct {
	ManifestHash [32]byte
	Paths        []string
	Complete     bool
}

// Mode is one of the three user verbs.
type Mode int

const (
	ModeCopy Mode = iota
	ModeMirror
	ModeMove
)

func (m Mode) String() string {
	switch m {
	case ModeMirror:
		return "mirror"
	case ModeMove:
		return "move"
	default:
		return "copy"
	}
}

// LinkClass categorises the network path between endpoints for tuning.
type LinkClass int

const (
	LinkLocal LinkClass = iota
	LinkLAN
	LinkWAN
)

// FailedFile records one per-file failure folded into a partial summary.
type FailedFile struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Summary is the structured result the CLI formats for the user.
type Summary struct {
	FilesTransferred      uint64       `json:"files_transferred"`
	BytesTransferred      uint64       `json:"bytes_transferred"`
	BytesZeroCopied       uint64       `json:"bytes_zero_copied"`
	EntriesDeleted        uint64       `json:"entries_deleted"`
	FallbackUsed          bool         `json:"fallback_used"`
	FirstPayloadElapsedMs float64      `json:"first_payload_elapsed_ms"`
	FastPath              string       `json:"fast_path"`
	FailedFiles           []FailedFile `json:"failed_files,omitempty"`
	Cancelled             bool         `json:"cancelled"`
}

// HasFailures reports whether any file failed during the transfer.
func (s Summary) HasFailures() bool { return len(s.FailedFiles) > 0 }

// EventKind discriminates the variants of PlannerEvent emitted by the
// facade's streaming plan.
type EventKind int

const (
	EventHeartbeat EventKind = iota
	EventBatch
	EventUnreadable
	EventDone
)

// UnreadableEntry names one path the enumerator could not stat or read,
// along with a short reason tag (e.g. "permission_denied", "vanished").
type UnreadableEntry struct {
	Path string
	Kind string
}

// PlanStats summarises a completed streaming plan: how much work the
// facade saw and, for mirror mode, what it decided to delete.
type PlanStats struct {
	FilesEnumerated uint64
	BytesEnumerated uint64
	UnchangedCount  uint64
	ToDelete        []PathOnDest
}

// PlannerEvent is one item from the facade's lazy plan stream. Exactly one
// of Batch/Unreadable/Stats is meaningful, selected by Kind.
type PlannerEvent struct {
	Kind       EventKind
	Batch      *TaskBatch
	Unreadable UnreadableEntry
	Stats      PlanStats
}

package journal

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// PosixCapability captures a whole-tree metadata digest over
// (device, inode, ctime-seconds, size) per path, using a raw stat walk
// rather than internal/enum's walker: enumeration and change-journal
// capture are independent concerns, and this capability only needs enough
// of each entry to feed a running hash, never a full FileRecord.
type PosixCapability struct {
	store *fileStore
}

// NewPosixCapability returns the POSIX metadata-scan capability, persisting
// snapshots under stateDir.
func NewPosixCapability(stateDir string) *PosixCapability {
	return &PosixCapability{store: newFileStore(stateDir)}
}

func (p *PosixCapability) Kind() types.SnapshotKind { return types.SnapshotPOSIXMetadata }

// Capture walks root, hashing each entry's device, inode, ctime second,
// and size into a single running digest. Two captures of an unchanged
// tree always produce the same digest; any rename, touch, truncate, or
// permission-preserving content rewrite that bumps ctime changes it.
func (p *PosixCapability) Capture(ctx context.Context, root string) (types.ProbeToken, error) {
	id, err := rootID(root)
	if err != nil {
		return types.ProbeToken{}, err
	}

	digest := newTreeDigest()
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return nil
			}
			return err
		}

		var st unix.Stat_t
		if err := unix.Lstat(path, &st); err != nil {
			if os.IsNotExist(err) || os.IsPermission(err) {
				return nil
			}
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		digest.add(rel, uint64(st.Dev), st.Ino, int64(st.Ctim.Sec), st.Size)
		return nil
	})
	if walkErr != nil {
		return types.ProbeToken{}, errors.NewError(errors.ErrCodeEnumerateFailed, "failed to scan tree for change-journal capture").
			WithComponent("journal").
			WithOperation("Capture").
			WithContext("root", root).
			WithCause(walkErr)
	}

	return types.ProbeToken{
		RootID:   id,
		Kind:     types.SnapshotPOSIXMetadata,
		Sequence: digest.sum(),
	}, nil
}

// Compare reports Unchanged when prev and cur carry the same digest,
// Changed otherwise. POSIX metadata scanning never loses information
// between runs the way a USN journal can wrap, so this capability never
// returns Inconclusive for a comparable pair.
func (p *PosixCapability) Compare(ctx context.Context, root string, prev, cur types.ProbeToken) (types.CompareResult, error) {
	if !prev.Comparable(cur) {
		return types.Inconclusive, errors.NewError(errors.ErrCodeTokenMismatch, "tokens are not comparable").
			WithComponent("journal").
			WithOperation("Compare").
			WithContext("root", root)
	}
	if prev.Sequence == cur.Sequence {
		return types.Unchanged, nil
	}
	return types.Changed, nil
}

func (p *PosixCapability) Persist(token types.ProbeToken) error {
	return p.store.persist(token)
}

func (p *PosixCapability) Load(root string) (types.ProbeToken, bool, error) {
	id, err := rootID(root)
	if err != nil {
		return types.ProbeToken{}, false, err
	}
	return p.store.load(id)
}

// treeDigest accumulates an order-independent hash of per-path metadata
// tuples via XOR-fold, so the result doesn't depend on directory walk
// order (which filepath.WalkDir only guarantees is lexical within a
// directory, not globally stable across filesystems).
type treeDigest struct {
	acc uint64
}

func newTreeDigest() *treeDigest { return &treeDigest{} }

func (d *treeDigest) add(path string, dev, ino uint64, ctimeSec int64, size int64) {
	line := fmt.Sprintf("%s|%d|%d|%d|%d", path, dev, ino, ctimeSec, size)
	d.acc ^= fnv64a(line)
}

func (d *treeDigest) sum() uint64 { return d.acc }

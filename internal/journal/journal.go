// Package journal implements the change-journal capability that lets a
// mirror skip a whole pass over an unchanged tree. Exactly one
// capability backs a given root, selected by platform; all of them
// satisfy the same Capture/Compare/Persist/Load surface so the planner
// is polymorphic over which one is active.
package journal

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// rootID derives a stable, filesystem-safe identifier for root, used both
// as the ProbeToken's RootID and as the on-disk snapshot filename. Two
// tokens from different roots must never collide, and the same root must
// always produce the same id across process restarts.
func rootID(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeJournalUnavailable, "failed to resolve root").
			WithComponent("journal").
			WithContext("root", root).
			WithCause(err)
	}
	abs = filepath.Clean(abs)
	return fmt.Sprintf("%016x", fnv64a(abs)), nil
}

// fnv64a is a tiny non-cryptographic string hash, used only to turn an
// arbitrary absolute path into a fixed-width filename component. It is not
// the content hash used for change detection; fileStore.snapshotPath uses
// it (via rootID) purely for naming.
func fnv64a(s string) uint64 {
	const (
		offset = 14695981039346656037
		prime  = 1099511628211
	)
	h := uint64(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}

// Capability is implemented once per types.SnapshotKind. New<Kind>Capability
// constructors return one, and NewNativeCapability picks the one native to
// the running platform.
type Capability = types.JournalCapability

// NewNativeCapability selects the change-journal capability native to the
// running platform: POSIX metadata scanning on Linux and the other
// unix-like targets golang.org/x/sys/unix supports, and an Inconclusive
// stand-in everywhere else until a native USN/FSEvents capability is
// wired in.
func NewNativeCapability(stateDir string) types.JournalCapability {
	switch runtime.GOOS {
	case "windows":
		return NewNTFSUSNCapability(stateDir)
	case "darwin":
		return NewMacFSEventsCapability(stateDir)
	default:
		return NewPosixCapability(stateDir)
	}
}

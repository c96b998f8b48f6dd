package journal

import (
	"context"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// inconclusiveCapability backs a SnapshotKind this build has no native
// implementation for. Capture still returns a valid, persistable token (so
// callers and state files don't need special-casing), but Compare always
// reports Inconclusive, forcing the planner back to a full enumeration —
// the documented fallback for a platform whose real journal this process
// isn't running on.
type inconclusiveCapability struct {
	kind  types.SnapshotKind
	store *fileStore
}

// NewNTFSUSNCapability returns a stand-in for the Windows USN-journal
// capability. On a non-Windows host there is no USN journal to read, so
// every comparison is Inconclusive by construction.
func NewNTFSUSNCapability(stateDir string) types.JournalCapability {
	return &inconclusiveCapability{kind: types.SnapshotNTFSUSN, store: newFileStore(stateDir)}
}

// NewMacFSEventsCapability returns a stand-in for the macOS FSEvents
// capability. On a non-Darwin host there is no FSEvents device to read,
// so every comparison is Inconclusive by construction.
func NewMacFSEventsCapability(stateDir string) types.JournalCapability {
	return &inconclusiveCapability{kind: types.SnapshotMacFSEvents, store: newFileStore(stateDir)}
}

func (c *inconclusiveCapability) Kind() types.SnapshotKind { return c.kind }

func (c *inconclusiveCapability) Capture(ctx context.Context, root string) (types.ProbeToken, error) {
	id, err := rootID(root)
	if err != nil {
		return types.ProbeToken{}, err
	}
	return types.ProbeToken{RootID: id, Kind: c.kind, Sequence: 0}, nil
}

func (c *inconclusiveCapability) Compare(ctx context.Context, root string, prev, cur types.ProbeToken) (types.CompareResult, error) {
	if !prev.Comparable(cur) {
		return types.Inconclusive, errors.NewError(errors.ErrCodeTokenMismatch, "tokens are not comparable").
			WithComponent("journal").
			WithOperation("Compare").
			WithContext("root", root)
	}
	return types.Inconclusive, nil
}

func (c *inconclusiveCapability) Persist(token types.ProbeToken) error {
	return c.store.persist(token)
}

func (c *inconclusiveCapability) Load(root string) (types.ProbeToken, bool, error) {
	id, err := rootID(root)
	if err != nil {
		return types.ProbeToken{}, false, err
	}
	return c.store.load(id)
}

//go:build darwin

package copyengine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/types"
)

// cloneStrategy performs an APFS clone via clonefile(2), which carries
// both data and metadata (mtime, permissions) across without copying any
// bytes, as long as source and destination share an APFS volume.
type cloneStrategy struct{}

func newCloneStrategy() *cloneStrategy { return &cloneStrategy{} }

func (c *cloneStrategy) Name() string { return "clone" }

func (c *cloneStrategy) Applicable(entry types.TransferEntry) bool {
	return entry.Record.Kind == types.KindRegular
}

func (c *cloneStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	// clonefile requires the destination not already exist.
	_ = os.Remove(string(entry.Dst))

	if err := unix.Clonefileat(unix.AT_FDCWD, string(entry.Src), unix.AT_FDCWD, string(entry.Dst), 0); err != nil {
		return 0, err
	}
	return entry.Record.Size, nil
}

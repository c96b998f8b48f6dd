//go:build linux

package copyengine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/types"
)

// cloneStrategy performs a reflink copy via the FICLONE ioctl on
// copy-on-write filesystems (btrfs, XFS with reflink=1, overlayfs).
// Success means the destination shares the source's data blocks until
// either is written to, so no bytes are actually written and metadata
// (mtime, permissions) travels with the clone.
type cloneStrategy struct{}

func newCloneStrategy() *cloneStrategy { return &cloneStrategy{} }

func (c *cloneStrategy) Name() string { return "clone" }

func (c *cloneStrategy) Applicable(entry types.TransferEntry) bool {
	return entry.Record.Kind == types.KindRegular
}

func (c *cloneStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	src, err := os.Open(string(entry.Src))
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(string(entry.Dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Record.Mode))
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	if err := unix.IoctlFileClone(int(dst.Fd()), int(src.Fd())); err != nil {
		// Cross-device, unsupported filesystem, or a copied range that
		// can't be cloned. The engine falls through to the next strategy;
		// remove the empty file this attempt created so it doesn't linger
		// if every remaining strategy also fails.
		dst.Close()
		os.Remove(string(entry.Dst))
		return 0, err
	}

	return entry.Record.Size, nil
}

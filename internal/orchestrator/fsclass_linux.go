//go:build linux

package orchestrator

import "golang.org/x/sys/unix"

// Filesystem magic numbers as reported by statfs(2), per
// /usr/include/linux/magic.h. Named unix.*_SUPER_MAGIC constants are not
// used here because several of them (btrfs, xfs) are not guaranteed to be
// exported by every golang.org/x/sys/unix build; the raw literals are
// stable ABI values and need no such guarantee.
const (
	magicExt        = 0xEF53
	magicXFS        = 0x58465342
	magicBtrfs      = 0x9123683E
	magicNFS        = 0x6969
	magicTmpfs      = 0x01021994
	magicOverlay    = 0x794C7630
	magicZFS        = 0x2FC12FC1
	magicCephFS     = 0x00C36400
	magicCIFS       = 0xFF534D42
	magicFUSE       = 0x65735546
)

// fsClassFor reports a short, stable label for the filesystem backing
// path, used to key the performance-history and predictor profiles so
// that e.g. "ext4 -> ext4" and "ext4 -> nfs" runs are tracked separately.
// A path that cannot be statted reports "unknown" and an unrecognized
// filesystem type reports "other", rather than failing the caller.
func fsClassFor(path string) string {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return "unknown"
	}

	switch int64(stat.Type) {
	case magicExt:
		return "ext"
	case magicXFS:
		return "xfs"
	case magicBtrfs:
		return "btrfs"
	case magicNFS:
		return "nfs"
	case magicTmpfs:
		return "tmpfs"
	case magicOverlay:
		return "overlay"
	case magicZFS:
		return "zfs"
	case magicCephFS:
		return "cephfs"
	case magicCIFS:
		return "cifs"
	case magicFUSE:
		return "fuse"
	default:
		return "other"
	}
}

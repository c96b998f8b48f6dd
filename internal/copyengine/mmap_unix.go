//go:build unix

package copyengine

import (
	"context"
	"os"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/types"
)

// defaultMmapLowBytes and defaultMmapHighBytes bound the file-size window
// mmapStrategy is applicable over until the auto-tuner calls
// SetThresholds with link-class-aware values. Below the window, the
// per-page fault overhead of mmap isn't worth it over a plain read loop;
// above it, a single mapping risks address-space exhaustion on 32-bit
// builds and page-cache thrashing on anything.
const (
	defaultMmapLowBytes  = 512 * 1024 * 1024
	defaultMmapHighBytes = 4 * 1024 * 1024 * 1024
)

// mmapStrategy copies by mapping the source file and writing the mapped
// region straight to the destination, avoiding an explicit read() syscall
// per chunk at the cost of page faults driving the actual I/O.
type mmapStrategy struct {
	lowBytes  int64
	highBytes int64
}

func newMmapStrategy() *mmapStrategy {
	return &mmapStrategy{lowBytes: defaultMmapLowBytes, highBytes: defaultMmapHighBytes}
}

// SetThresholds updates the applicable file-size window. Called by the
// auto-tuner once it has derived link-class-aware bounds.
func (m *mmapStrategy) SetThresholds(low, high int64) {
	m.lowBytes, m.highBytes = low, high
}

func (m *mmapStrategy) Name() string { return "mmap" }

func (m *mmapStrategy) Applicable(entry types.TransferEntry) bool {
	if entry.Record.Kind != types.KindRegular {
		return false
	}
	size := int64(entry.Record.Size)
	return size > 0 && size >= m.lowBytes && size <= m.highBytes
}

func (m *mmapStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	src, err := os.Open(string(entry.Src))
	if err != nil {
		return 0, err
	}
	defer src.Close()

	size := int(entry.Record.Size)
	mapped, err := unix.Mmap(int(src.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return 0, err
	}
	defer unix.Munmap(mapped)

	dst, err := os.OpenFile(string(entry.Dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Record.Mode))
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	const writeChunk = 4 * 1024 * 1024
	var total uint64
	for off := 0; off < size; off += writeChunk {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := off + writeChunk
		if end > size {
			end = size
		}
		n, err := dst.Write(mapped[off:end])
		total += uint64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

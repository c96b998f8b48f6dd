package copyengine

import (
	"context"
	"io"
	"os"

	"github.com/zeebo/xxh3"

	"github.com/roethlar/blit/pkg/types"
)

// defaultChunkBytes is used when the auto-tuner hasn't set a chunk size
// (e.g. a one-off copy outside the streaming orchestrator).
const defaultChunkBytes = 1 * 1024 * 1024

// defaultBlockBytes is the block-level resume granularity: large enough
// that per-block overhead (a seek plus a hash) stays small relative to
// the bytes it can save skipping, small enough that a single changed
// byte doesn't force re-sending a huge block.
const defaultBlockBytes = 4 * 1024 * 1024

// chunkedStrategy streams a file through a pooled buffer. It is always
// applicable to regular files, making it the engine's terminal fallback:
// every other strategy either isn't available on this platform/pair or
// declined the file for being outside its size window.
type chunkedStrategy struct {
	pool          types.BufferPool
	resumeEnabled bool
	chunkBytes    int
	blockBytes    int
}

func newChunkedStrategy(pool types.BufferPool, resumeEnabled bool, blockBytes int) *chunkedStrategy {
	if blockBytes <= 0 {
		blockBytes = defaultBlockBytes
	}
	return &chunkedStrategy{
		pool:          pool,
		resumeEnabled: resumeEnabled,
		chunkBytes:    defaultChunkBytes,
		blockBytes:    blockBytes,
	}
}

// SetChunkBytes updates the streaming chunk size. Called by the
// auto-tuner with a value derived from link class and workload shape.
func (c *chunkedStrategy) SetChunkBytes(n int) {
	if n > 0 {
		c.chunkBytes = n
	}
}

func (c *chunkedStrategy) Name() string { return "chunked" }

func (c *chunkedStrategy) Applicable(entry types.TransferEntry) bool {
	return entry.Record.Kind == types.KindRegular
}

func (c *chunkedStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	src, err := os.Open(string(entry.Src))
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if c.resumeEnabled {
		written, resumed, err := c.resumeCopy(ctx, entry, src)
		if resumed {
			return written, err
		}
		// Destination didn't exist yet or its size didn't match; fall
		// through to an ordinary full copy below.
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
	}

	dst, err := os.OpenFile(string(entry.Dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(entry.Record.Mode))
	if err != nil {
		return 0, err
	}
	defer dst.Close()

	buf, release := c.buffer(ctx)
	defer release()

	var total uint64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += uint64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, rerr
		}
	}
	return total, nil
}

// buffer checks out a pooled buffer when a pool is configured, falling
// back to a one-shot allocation otherwise: a fail-safe path for tiny
// transfers that never warrant the budget-accounting overhead.
func (c *chunkedStrategy) buffer(ctx context.Context) (buf []byte, release func()) {
	if c.pool == nil {
		return make([]byte, c.chunkBytes), func() {}
	}
	buf, err := c.pool.Get(ctx, c.chunkBytes)
	if err != nil {
		return make([]byte, c.chunkBytes), func() {}
	}
	return buf, func() { c.pool.Put(buf) }
}

// resumeCopy compares src against an existing, same-size destination in
// fixed-size blocks, writing only the blocks whose hash differs. resumed
// reports whether the destination qualified for resume at all (wrong size
// or missing means the caller should fall back to a full copy instead of
// treating a read error here as fatal).
func (c *chunkedStrategy) resumeCopy(ctx context.Context, entry types.TransferEntry, src *os.File) (written uint64, resumed bool, err error) {
	dst, err := os.OpenFile(string(entry.Dst), os.O_RDWR, os.FileMode(entry.Record.Mode))
	if err != nil {
		return 0, false, nil
	}
	defer dst.Close()

	info, err := dst.Stat()
	if err != nil {
		return 0, false, nil
	}
	if uint64(info.Size()) != entry.Record.Size {
		return 0, false, nil
	}

	srcBuf := make([]byte, c.blockBytes)
	dstBuf := make([]byte, c.blockBytes)
	var offset int64

	for {
		if err := ctx.Err(); err != nil {
			return written, true, err
		}

		sn, serr := io.ReadFull(src, srcBuf)
		if sn == 0 && serr == io.EOF {
			break
		}
		if serr != nil && serr != io.ErrUnexpectedEOF {
			return written, true, serr
		}

		dn, _ := io.ReadFull(dst, dstBuf[:sn])

		if dn != sn || xxh3.Hash(srcBuf[:sn]) != xxh3.Hash(dstBuf[:sn]) {
			if _, werr := dst.WriteAt(srcBuf[:sn], offset); werr != nil {
				return written, true, werr
			}
			written += uint64(sn)
		}

		offset += int64(sn)
		if serr == io.ErrUnexpectedEOF {
			break
		}
	}

	return written, true, nil
}

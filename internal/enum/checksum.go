package enum

import (
	"encoding/hex"
	"io"

	"github.com/zeebo/blake3"
	"github.com/zeebo/xxh3"

	"github.com/roethlar/blit/pkg/errors"
)

// DefaultChecksumBufferSize is used when a caller doesn't size its own
// read buffer; copy operations that already hold a pooled buffer should
// pass it to StrongChecksum/FastChecksum directly instead.
const DefaultChecksumBufferSize = 256 * 1024

// StrongChecksum streams r through blake3, the content hash used for
// cross-host verification where collision resistance matters more than
// raw throughput. bufSize controls the read chunk size; callers copying
// through a pooled buffer should pass that buffer's length.
func StrongChecksum(r io.Reader, bufSize int) (string, error) {
	h := blake3.New()
	if err := stream(h, r, bufSize); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FastChecksum streams r through xxh3, the content hash used for
// same-host resume verification (block-level compare) where speed
// dominates and adversarial collisions aren't a concern.
func FastChecksum(r io.Reader, bufSize int) (uint64, error) {
	h := xxh3.New()
	if err := stream(h, r, bufSize); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func stream(h io.Writer, r io.Reader, bufSize int) error {
	if bufSize <= 0 {
		bufSize = DefaultChecksumBufferSize
	}
	buf := make([]byte, bufSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return errors.NewError(errors.ErrCodeEnumerateFailed, "checksum read failed").
			WithComponent("enum").
			WithOperation("Checksum").
			WithCause(err)
	}
	return nil
}

//go:build !unix

package copyengine

import (
	"context"

	"github.com/roethlar/blit/pkg/types"
)

// mmapStrategy has no implementation on this platform; the engine falls
// through to the chunked read/write strategy for every file.
type mmapStrategy struct{}

func newMmapStrategy() *mmapStrategy { return &mmapStrategy{} }

func (m *mmapStrategy) SetThresholds(low, high int64) {}

func (m *mmapStrategy) Name() string                             { return "mmap" }
func (m *mmapStrategy) Applicable(entry types.TransferEntry) bool { return false }
func (m *mmapStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	return 0, nil
}

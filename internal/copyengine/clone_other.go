//go:build !linux && !darwin

package copyengine

import (
	"context"

	"github.com/roethlar/blit/pkg/types"
)

// cloneStrategy has no implementation on this platform; it is never
// applicable, so the engine always falls through to the next strategy.
type cloneStrategy struct{}

func newCloneStrategy() *cloneStrategy { return &cloneStrategy{} }

func (c *cloneStrategy) Name() string                        { return "clone" }
func (c *cloneStrategy) Applicable(entry types.TransferEntry) bool { return false }
func (c *cloneStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	return 0, nil
}

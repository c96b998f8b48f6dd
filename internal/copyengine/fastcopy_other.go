//go:build !linux

package copyengine

import (
	"context"

	"github.com/roethlar/blit/pkg/types"
)

// fastCopyStrategy has no kernel-level copy primitive wired up on this
// platform; the engine falls through to mmap or chunked copy instead.
type fastCopyStrategy struct{}

func newFastCopyStrategy() *fastCopyStrategy { return &fastCopyStrategy{} }

func (f *fastCopyStrategy) Name() string                             { return "fastcopy" }
func (f *fastCopyStrategy) Applicable(entry types.TransferEntry) bool { return false }
func (f *fastCopyStrategy) Copy(ctx context.Context, entry types.TransferEntry) (uint64, error) {
	return 0, nil
}

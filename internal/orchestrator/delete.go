package orchestrator

import (
	"os"

	"github.com/roethlar/blit/pkg/types"
)

// deleteDestPath removes a destination-only entry identified by a mirror
// plan as needing deletion, after every copy in the run has landed.
func deleteDestPath(p types.PathOnDest) error {
	return os.RemoveAll(string(p))
}

// removeSourceTree removes src after a move's copies have all landed.
// Failures are best-effort: a move that copied successfully but could not
// remove its source still left the destination in the right state, so this
// does not fail the run.
func removeSourceTree(src types.Locator) {
	_ = os.RemoveAll(string(src))
}

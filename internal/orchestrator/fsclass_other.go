//go:build !linux

package orchestrator

// fsClassFor reports a short, stable label for the filesystem backing
// path. Non-Linux platforms have no portable statfs magic-number ABI to
// key off, so every path reports "unknown" here; the performance-history
// and predictor profiles still work, they just don't distinguish
// filesystems on these platforms.
func fsClassFor(path string) string {
	return "unknown"
}

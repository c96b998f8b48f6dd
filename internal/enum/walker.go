// Package enum walks a source tree and streams FileRecord values to a
// consumer, and provides the streaming checksum primitives the mirror
// planner and copy engine use for content comparison.
package enum

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// Config controls how a Walker traverses a root.
type Config struct {
	// ExcludePatterns are filepath.Match-style globs evaluated against the
	// entry's relative path. A matching entry (and, for directories, its
	// entire subtree) is skipped.
	ExcludePatterns []string

	// OnUnreadable, if set, is called for every entry the walk could not
	// stat or descend into (vanished or permission-denied) instead of
	// silently dropping it. kind is "permission_denied" or "vanished".
	OnUnreadable func(path, kind string)
}

// Walker implements types.Enumerator over the local filesystem via
// os.ReadDir. No ecosystem directory-walker fit this project's dependency
// closet, so this stays on the standard library.
type Walker struct {
	excludes     []string
	onUnreadable func(path, kind string)
}

// NewWalker compiles cfg's exclude patterns once so each Enumerate call
// reuses the compiled set instead of re-parsing globs per entry.
func NewWalker(cfg Config) (*Walker, error) {
	for _, pat := range cfg.ExcludePatterns {
		if _, err := filepath.Match(pat, "probe"); err != nil {
			return nil, errors.NewError(errors.ErrCodePathInvalid, "invalid exclude pattern").
				WithComponent("enum").
				WithContext("pattern", pat).
				WithCause(err)
		}
	}
	return &Walker{excludes: append([]string(nil), cfg.ExcludePatterns...), onUnreadable: cfg.OnUnreadable}, nil
}

func (w *Walker) reportUnreadable(path, kind string) {
	if w.onUnreadable != nil {
		w.onUnreadable(path, kind)
	}
}

// OnUnreadable registers fn to be called for every entry this Walker skips
// because it vanished or became unreadable mid-walk, replacing any
// callback set via Config. Satisfies the facade's optional
// unreadable-reporter capability.
func (w *Walker) OnUnreadable(fn func(path, kind string)) {
	w.onUnreadable = fn
}

// EnumerationError reports a failure on one entry during a walk. The walk
// itself continues past these; the emit callback decides whether to abort.
type EnumerationError struct {
	Path string
	Kind string // "permission_denied", "vanished", "other"
	Err  error
}

func (e *EnumerationError) Error() string {
	return "enum: " + e.Kind + " at " + e.Path + ": " + e.Err.Error()
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// Enumerate walks root depth-first, directories before their children,
// emitting one FileRecord per entry (including directories and symlinks,
// which are recorded but never followed). Sibling order is implementation
// defined but deterministic for a fixed filesystem state, since entries are
// sorted by name at each level.
func (w *Walker) Enumerate(ctx context.Context, root string, emit func(types.FileRecord) error) error {
	return w.walk(ctx, root, "", emit)
}

func (w *Walker) walk(ctx context.Context, root, relDir string, emit func(types.FileRecord) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	absDir := root
	if relDir != "" {
		absDir = filepath.Join(root, relDir)
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		if relDir == "" {
			return errors.NewError(errors.ErrCodeEnumerateFailed, "failed to read root directory").
				WithComponent("enum").
				WithOperation("Enumerate").
				WithContext("path", absDir).
				WithCause(err)
		}
		// A subdirectory became unreadable (permission revoked, directory
		// removed) between being listed by its parent and being descended
		// into here. Surface it but let the walk continue past it.
		if os.IsNotExist(err) {
			w.reportUnreadable(absDir, "vanished")
			return nil
		}
		if os.IsPermission(err) {
			w.reportUnreadable(absDir, "permission_denied")
			return nil
		}
		return errors.NewError(errors.ErrCodeEnumerateFailed, "failed to read directory").
			WithComponent("enum").
			WithOperation("Enumerate").
			WithContext("path", absDir).
			WithCause(err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := entry.Name()
		relPath := name
		if relDir != "" {
			relPath = path.Join(relDir, name)
		}

		if w.excluded(relPath) {
			continue
		}

		absPath := filepath.Join(root, relPath)
		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				w.reportUnreadable(absPath, "vanished") // vanished between ReadDir and Info
				continue
			}
			if os.IsPermission(err) {
				w.reportUnreadable(absPath, "permission_denied")
				continue
			}
			return errors.NewError(errors.ErrCodeEnumerateFailed, "failed to stat entry").
				WithComponent("enum").
				WithOperation("Enumerate").
				WithContext("path", absPath).
				WithCause(err)
		}

		rec := recordFor(relPath, info)

		if err := emit(rec); err != nil {
			return err
		}

		if info.IsDir() {
			if err := w.walk(ctx, root, relPath, emit); err != nil {
				return err
			}
		}
	}

	return nil
}

func recordFor(relPath string, info os.FileInfo) types.FileRecord {
	kind := types.KindRegular
	switch {
	case info.IsDir():
		kind = types.KindDirectory
	case info.Mode()&os.ModeSymlink != 0:
		kind = types.KindSymlink
	}

	norm, _ := types.NormalisePath(relPath)
	return types.FileRecord{
		Path:  norm,
		Size:  uint64(info.Size()),
		MTime: types.FromStdTime(info.ModTime()),
		Mode:  uint32(info.Mode().Perm()),
		Kind:  kind,
	}
}

func (w *Walker) excluded(relPath string) bool {
	for _, pat := range w.excludes {
		if ok, _ := filepath.Match(pat, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pat, path.Base(relPath)); ok {
			return true
		}
	}
	return false
}

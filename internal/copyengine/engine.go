// Package copyengine moves the bytes of a single TransferEntry using the
// fastest strategy available for its source/destination pair, falling
// back through slower strategies when a faster one isn't applicable or
// fails.
package copyengine

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// CopyOutcome reports how one TransferEntry's bytes moved: the strategy
// that succeeded, how many bytes were actually written versus zero-copied
// by the filesystem (clone strategies copy nothing themselves), and a
// Resumed flag that Engine.Copy always leaves false: block-level resume
// in the chunked strategy is not reported through it.
type CopyOutcome struct {
	Strategy        string
	BytesWritten    uint64
	BytesZeroCopied uint64
	Resumed         bool
}

// Engine tries each configured CopyStrategy in order and returns the
// first one that succeeds. Strategies are expected to self-report
// inapplicability via Applicable rather than attempting and failing, but
// the engine falls through to the next strategy on a genuine Copy error
// too, so one file's wrong-strategy pick never fails the whole transfer
// when a slower strategy would have worked.
type Engine struct {
	strategies []namedStrategy
}

type namedStrategy struct {
	types.CopyStrategy
	zeroCopy        bool
	carriesMetadata bool
}

// New builds an Engine with the default strategy order: clone, platform
// fast copy, mmap, chunked read/write. pool backs the chunked fallback's
// buffers; resumeEnabled and blockBytes configure block-level resume
// within the chunked strategy.
func New(pool types.BufferPool, resumeEnabled bool, blockBytes int) *Engine {
	e := &Engine{}
	e.strategies = []namedStrategy{
		{CopyStrategy: newCloneStrategy(), zeroCopy: true, carriesMetadata: true},
		{CopyStrategy: newFastCopyStrategy(), zeroCopy: true},
		{CopyStrategy: newMmapStrategy(), zeroCopy: false},
		{CopyStrategy: newChunkedStrategy(pool, resumeEnabled, blockBytes), zeroCopy: false},
	}
	return e
}

// Copy moves entry's bytes through the first applicable strategy that
// succeeds, preserving mtime and POSIX permissions on the destination
// afterward when the strategy didn't already do so (clone strategies
// carry attributes across on the platforms that support them).
func (e *Engine) Copy(ctx context.Context, entry types.TransferEntry) (CopyOutcome, error) {
	var lastErr error
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			return CopyOutcome{}, err
		}
		if !s.Applicable(entry) {
			continue
		}

		written, err := s.Copy(ctx, entry)
		if err != nil {
			lastErr = err
			continue
		}

		outcome := CopyOutcome{Strategy: s.Name()}
		if s.zeroCopy {
			outcome.BytesZeroCopied = written
		} else {
			outcome.BytesWritten = written
		}

		if !s.carriesMetadata {
			if err := applyMetadata(entry); err != nil {
				return outcome, err
			}
		}

		return outcome, nil
	}

	if lastErr != nil {
		return CopyOutcome{}, classify(lastErr, entry, "copy")
	}
	return CopyOutcome{}, errors.NewError(errors.ErrCodeCopyFailed, "no applicable copy strategy").
		WithComponent("copyengine").
		WithOperation("Copy").
		WithContext("src", string(entry.Src)).
		WithContext("dst", string(entry.Dst))
}

// applyMetadata preserves mtime and POSIX permission bits on dst. Called
// only for strategies that don't already carry attributes across (clone
// strategies do this on the platforms that support them).
func applyMetadata(entry types.TransferEntry) error {
	dst := string(entry.Dst)
	mtime := entry.Record.MTime.Std()
	if err := os.Chtimes(dst, mtime, mtime); err != nil {
		return classify(err, entry, "set_mtime")
	}
	if err := os.Chmod(dst, fs.FileMode(entry.Record.Mode)); err != nil {
		return classify(err, entry, "set_mode")
	}
	return nil
}

// classify maps a raw OS error onto typed failure categories:
// PermissionDenied, NoSpace, SourceVanished, DestReadOnly, or Io(other).
// Per-file failures don't abort the
// transfer; the orchestrator counts and logs them via this typed error.
func classify(err error, entry types.TransferEntry, op string) error {
	code := errors.ErrCodeCopyFailed
	switch {
	case stderrors.Is(err, os.ErrNotExist) || isErrno(err, unix.ENOENT):
		code = errors.ErrCodeFileNotFound // source vanished mid-copy
	case stderrors.Is(err, os.ErrPermission) || isErrno(err, unix.EACCES) || isErrno(err, unix.EPERM) || isErrno(err, unix.EROFS):
		code = errors.ErrCodePermissionDenied // covers both source permission and a read-only destination
	case isErrno(err, unix.ENOSPC):
		code = errors.ErrCodeDiskFull
	}

	return errors.NewError(code, "copy operation failed").
		WithComponent("copyengine").
		WithOperation(op).
		WithContext("src", string(entry.Src)).
		WithContext("dst", string(entry.Dst)).
		WithCause(err)
}

func isErrno(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	return stderrors.As(err, &errno) && errno == target
}

// Package history implements the append-only performance-history log and
// the linear-regression planning-time predictor that consumes it.
package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// DefaultCapBytes is the soft size cap on the history file before oldest
// records are trimmed.
const DefaultCapBytes = 1 * 1024 * 1024

// Store is a JSONL append-only log of PerfRecord entries, capped and
// trimmed oldest-first. File-append is guarded by an advisory flock so
// multiple blit processes sharing a state directory don't interleave
// partial lines.
type Store struct {
	mu       sync.Mutex
	path     string
	capBytes int64
}

// NewStore returns a Store backed by path. A capBytes of 0 uses
// DefaultCapBytes.
func NewStore(path string, capBytes int64) *Store {
	if capBytes <= 0 {
		capBytes = DefaultCapBytes
	}
	return &Store{path: path, capBytes: capBytes}
}

// Append writes rec as one JSON line, then trims the oldest records if the
// file has grown past its cap. A trim is skipped (deferred to the next
// append) if the file's size changed between the read and the rewrite,
// since that means a concurrent writer is also appending.
func (s *Store) Append(rec types.PerfRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return s.wrap("Append", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return s.wrap("Append", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return s.wrap("Append", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	line, err := json.Marshal(rec)
	if err != nil {
		return s.wrap("Append", err)
	}
	line = append(line, '\n')

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		return s.wrap("Append", err)
	}
	if _, err := f.Write(line); err != nil {
		return s.wrap("Append", err)
	}

	info, err := f.Stat()
	if err != nil {
		return s.wrap("Append", err)
	}
	if info.Size() <= s.capBytes {
		return nil
	}
	return s.trimLocked(f, info.Size())
}

// trimLocked drops the oldest records until the file is back under its
// cap. f is already locked and positioned arbitrarily; trimLocked reads
// the whole file, decides a cut point, and rewrites only if the file's
// size is still what it observed (an optimistic check against a
// concurrent appender growing the file mid-trim).
func (s *Store) trimLocked(f *os.File, observedSize int64) error {
	if _, err := f.Seek(0, os.SEEK_SET); err != nil {
		return s.wrap("trim", err)
	}
	lines, err := readLines(f)
	if err != nil {
		return s.wrap("trim", err)
	}

	// Drop lines from the front until the remainder fits the cap, always
	// keeping the most recent record.
	var total int64
	for _, l := range lines {
		total += int64(len(l)) + 1
	}
	start := 0
	for total > s.capBytes && start < len(lines)-1 {
		total -= int64(len(lines[start])) + 1
		start++
	}
	kept := lines[start:]

	info, err := f.Stat()
	if err != nil {
		return s.wrap("trim", err)
	}
	if info.Size() != observedSize {
		// Someone appended while we were deciding; rewrite next time
		// instead of racing a partial line away.
		return nil
	}

	var buf bytes.Buffer
	for _, l := range kept {
		buf.Write(l)
		buf.WriteByte('\n')
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o644); err != nil {
		os.Remove(tmpPath)
		return s.wrap("trim", err)
	}
	return os.Rename(tmpPath, s.path)
}

// Recent returns up to limit PerfRecords matching key, oldest-first among
// the selected subset.
func (s *Store) Recent(key types.ProfileKey, limit int) ([]types.PerfRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, s.wrap("Recent", err)
	}
	defer f.Close()

	lines, err := readLines(f)
	if err != nil {
		return nil, s.wrap("Recent", err)
	}

	var matched []types.PerfRecord
	for _, l := range lines {
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		var rec types.PerfRecord
		if err := json.Unmarshal(l, &rec); err != nil {
			continue // skip a corrupt line rather than fail the whole read
		}
		if rec.ProfileKey == key {
			matched = append(matched, rec)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func readLines(f *os.File) ([][]byte, error) {
	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func (s *Store) wrap(op string, err error) error {
	return errors.NewError(errors.ErrCodeOperationFailed, "performance history operation failed").
		WithComponent("history").WithOperation(op).WithContext("path", s.path).WithCause(err)
}

var _ types.PerformanceHistory = (*Store)(nil)

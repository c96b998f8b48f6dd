package copyengine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/roethlar/blit/pkg/types"
)

func writeBoth(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestChunkedStrategy_PlainCopy(t *testing.T) {
	t.Parallel()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	data := bytes.Repeat([]byte("xyz"), 1000)
	srcPath := writeBoth(t, srcDir, "f.bin", data)

	entry := types.TransferEntry{
		Record: types.FileRecord{Path: "f.bin", Size: uint64(len(data)), Kind: types.KindRegular, Mode: 0o644},
		Src:    types.Locator(srcPath),
		Dst:    types.Locator(filepath.Join(dstDir, "f.bin")),
	}

	s := newChunkedStrategy(nil, false, 0)
	n, err := s.Copy(context.Background(), entry)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != uint64(len(data)) {
		t.Errorf("Copy returned %d bytes, want %d", n, len(data))
	}

	got, err := os.ReadFile(string(entry.Dst))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination content does not match source")
	}
}

func TestChunkedStrategy_ResumeSkipsIdenticalBlocks(t *testing.T) {
	t.Parallel()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	data := bytes.Repeat([]byte{0x42}, 10)
	srcPath := writeBoth(t, srcDir, "f.bin", data)
	dstPath := writeBoth(t, dstDir, "f.bin", data) // identical destination already present

	entry := types.TransferEntry{
		Record: types.FileRecord{Path: "f.bin", Size: uint64(len(data)), Kind: types.KindRegular, Mode: 0o644},
		Src:    types.Locator(srcPath),
		Dst:    types.Locator(dstPath),
	}

	s := newChunkedStrategy(nil, true, 4) // tiny block size so "10 bytes" spans multiple blocks
	n, err := s.Copy(context.Background(), entry)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != 0 {
		t.Errorf("Copy wrote %d bytes, want 0 (destination already identical)", n)
	}
}

func TestChunkedStrategy_ResumeWritesOnlyChangedBlocks(t *testing.T) {
	t.Parallel()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	data := append(bytes.Repeat([]byte{0x01}, 4), bytes.Repeat([]byte{0x02}, 4)...)
	srcPath := writeBoth(t, srcDir, "f.bin", data)

	stale := append(bytes.Repeat([]byte{0x01}, 4), bytes.Repeat([]byte{0xFF}, 4)...) // second block differs
	dstPath := writeBoth(t, dstDir, "f.bin", stale)

	entry := types.TransferEntry{
		Record: types.FileRecord{Path: "f.bin", Size: uint64(len(data)), Kind: types.KindRegular, Mode: 0o644},
		Src:    types.Locator(srcPath),
		Dst:    types.Locator(dstPath),
	}

	s := newChunkedStrategy(nil, true, 4)
	n, err := s.Copy(context.Background(), entry)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != 4 {
		t.Errorf("Copy wrote %d bytes, want 4 (only the changed block)", n)
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("destination after resume = %v, want %v", got, data)
	}
}

func TestChunkedStrategy_ResumeFallsBackWhenSizeDiffers(t *testing.T) {
	t.Parallel()

	srcDir, dstDir := t.TempDir(), t.TempDir()
	data := bytes.Repeat([]byte{0x01}, 100)
	srcPath := writeBoth(t, srcDir, "f.bin", data)
	dstPath := writeBoth(t, dstDir, "f.bin", []byte{0x01}) // wrong size

	entry := types.TransferEntry{
		Record: types.FileRecord{Path: "f.bin", Size: uint64(len(data)), Kind: types.KindRegular, Mode: 0o644},
		Src:    types.Locator(srcPath),
		Dst:    types.Locator(dstPath),
	}

	s := newChunkedStrategy(nil, true, 4)
	n, err := s.Copy(context.Background(), entry)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if n != uint64(len(data)) {
		t.Errorf("Copy wrote %d bytes, want a full copy of %d (size mismatch should force a full rewrite)", n, len(data))
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("destination after fallback full copy does not match source")
	}
}

package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roethlar/blit/pkg/types"
)

func sampleRecord(key types.ProfileKey, files uint64) types.PerfRecord {
	return types.PerfRecord{
		Timestamp:  time.Now(),
		ProfileKey: key,
		Files:      files,
		Bytes:      files * 4096,
		PlanningMs: 12.5,
		CopyMs:     340,
	}
}

func TestStore_AppendThenRecentRoundTrips(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	s := NewStore(path, 0)
	key := types.ProfileKey{SrcFSClass: "ext4", DstFSClass: "ext4"}

	if err := s.Append(sampleRecord(key, 10)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(sampleRecord(key, 20)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := s.Recent(key, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(recs))
	}
	if recs[0].Files != 10 || recs[1].Files != 20 {
		t.Errorf("Recent = %+v, want files 10 then 20 in append order", recs)
	}
}

func TestStore_RecentFiltersByProfileKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	s := NewStore(path, 0)
	a := types.ProfileKey{SrcFSClass: "ext4", DstFSClass: "ext4"}
	b := types.ProfileKey{SrcFSClass: "ext4", DstFSClass: "ntfs"}

	if err := s.Append(sampleRecord(a, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(sampleRecord(b, 2)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	recs, err := s.Recent(a, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 || recs[0].ProfileKey != a {
		t.Errorf("Recent(a) = %+v, want exactly one record with key a", recs)
	}
}

func TestStore_RecentOnMissingFileReturnsEmpty(t *testing.T) {
	t.Parallel()

	s := NewStore(filepath.Join(t.TempDir(), "absent.jsonl"), 0)
	recs, err := s.Recent(types.ProfileKey{}, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Recent on missing file = %v, want empty", recs)
	}
}

func TestStore_RecentRespectsLimit(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	s := NewStore(path, 0)
	key := types.ProfileKey{}

	for i := uint64(0); i < 5; i++ {
		if err := s.Append(sampleRecord(key, i)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recs, err := s.Recent(key, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(recs))
	}
	if recs[0].Files != 3 || recs[1].Files != 4 {
		t.Errorf("Recent(limit=2) = %+v, want the two most recent (files 3, 4)", recs)
	}
}

func TestStore_AppendTrimsOldestWhenOverCap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.jsonl")
	s := NewStore(path, 200) // tiny cap forces a trim quickly
	key := types.ProfileKey{}

	for i := uint64(0); i < 50; i++ {
		if err := s.Append(sampleRecord(key, i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	recs, err := s.Recent(key, 1000)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected some records to survive trimming")
	}
	if len(recs) >= 50 {
		t.Errorf("expected trimming to have dropped some of 50 records, got %d", len(recs))
	}
	// The surviving records should be the most recently appended ones.
	if recs[len(recs)-1].Files != 49 {
		t.Errorf("last surviving record Files = %d, want 49 (most recent)", recs[len(recs)-1].Files)
	}
}

package journal

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// fileStore persists ProbeTokens to dir/<root_id>.bin, one file per synced
// root, shared by every capability implementation since persistence is
// platform-agnostic even though capture/compare aren't.
type fileStore struct {
	dir string
}

func newFileStore(dir string) *fileStore {
	return &fileStore{dir: dir}
}

func (s *fileStore) snapshotPath(id string) string {
	return filepath.Join(s.dir, id+".bin")
}

// persist writes token atomically: encode to a temp file in the same
// directory, then rename over the final path, so a crash mid-write never
// leaves a corrupt snapshot in place of a valid one.
func (s *fileStore) persist(token types.ProbeToken) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.NewError(errors.ErrCodeTokenPersist, "failed to create journal state directory").
			WithComponent("journal").
			WithContext("dir", s.dir).
			WithCause(err)
	}

	finalPath := s.snapshotPath(token.RootID)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return errors.NewError(errors.ErrCodeTokenPersist, "failed to create snapshot temp file").
			WithComponent("journal").
			WithContext("path", tmpPath).
			WithCause(err)
	}

	if err := gob.NewEncoder(f).Encode(token); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return errors.NewError(errors.ErrCodeTokenPersist, "failed to encode snapshot").
			WithComponent("journal").
			WithContext("path", tmpPath).
			WithCause(err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewError(errors.ErrCodeTokenPersist, "failed to flush snapshot").
			WithComponent("journal").
			WithContext("path", tmpPath).
			WithCause(err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return errors.NewError(errors.ErrCodeTokenPersist, "failed to install snapshot").
			WithComponent("journal").
			WithContext("path", finalPath).
			WithCause(err)
	}
	return nil
}

// load reads back the last persisted token for id, if any. A missing file
// is not an error: it means this root has never been captured before.
func (s *fileStore) load(id string) (types.ProbeToken, bool, error) {
	f, err := os.Open(s.snapshotPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return types.ProbeToken{}, false, nil
		}
		return types.ProbeToken{}, false, errors.NewError(errors.ErrCodeJournalUnavailable, "failed to open snapshot").
			WithComponent("journal").
			WithContext("path", s.snapshotPath(id)).
			WithCause(err)
	}
	defer f.Close()

	var token types.ProbeToken
	if err := gob.NewDecoder(f).Decode(&token); err != nil {
		// A corrupt snapshot is treated the same as none at all: the next
		// capture starts fresh rather than failing the whole operation.
		return types.ProbeToken{}, false, nil
	}
	return token, true, nil
}

package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
)

// FileStore keeps one JSON entry file per fingerprint under a root
// directory. Entries survive restarts, so a resumed run skips every
// fingerprint already fetched; deleting the directory forces a full
// re-fetch. Writes go through a temp file and rename so concurrent readers
// never observe a partial entry.
type FileStore struct {
	dir   string
	clock clockwork.Clock
}

// NewFileStore creates the cache directory if needed. An unwritable
// directory is a startup failure rather than a per-lookup one.
func NewFileStore(dir string, clock clockwork.Clock) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &FileStore{dir: dir, clock: clock}, nil
}

func (s *FileStore) Get(_ context.Context, fingerprint string) ([]byte, bool) {
	data, err := os.ReadFile(s.entryPath(fingerprint))
	if err != nil {
		return nil, false
	}
	return decodeEntry(data)
}

func (s *FileStore) Put(_ context.Context, fingerprint string, payload []byte) error {
	data, err := encodeEntry(fingerprint, payload, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.entryPath(fingerprint)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename cache entry: %w", err)
	}
	return nil
}

// entryPath hashes the fingerprint so file names stay filesystem-safe
// regardless of the characters a fingerprint contains.
func (s *FileStore) entryPath(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".json")
}

package mediastore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskStore keeps blobs under root, sharded into subdirectories by the
// first two hash characters so no single directory grows unbounded.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating media root: %w", err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) blobPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

func (s *DiskStore) Put(r io.Reader, hash string) error {
	path := s.blobPath(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}

	// Stage in a temp file and rename so a crashed upload never leaves
	// a partial blob under its final name.
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("creating staging file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("writing blob %s: %w", hash, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("flushing blob %s: %w", hash, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publishing blob %s: %w", hash, err)
	}
	return nil
}

func (s *DiskStore) Open(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(hash))
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", hash, err)
	}
	return f, nil
}

func (s *DiskStore) Remove(hash string) error {
	err := os.Remove(s.blobPath(hash))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob %s: %w", hash, err)
	}
	return nil
}

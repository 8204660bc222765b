package duckdb

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tinytelemetry/tracevault/internal/digest"
)

// ErrInMemoryStore indicates the store uses an in-memory DB and cannot be snapshotted.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// SnapshotTo checkpoints the database and copies its file to dstPath,
// returning the SHA-256 of the copied bytes. The checkpoint runs under the
// write lock; the copy does not.
func (s *Store) SnapshotTo(dstPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	s.mu.Lock()
	dbPath := s.dbPath
	if dbPath == "" {
		s.mu.Unlock()
		return "", ErrInMemoryStore
	}
	if _, err := s.db.Exec("CHECKPOINT"); err != nil {
		s.mu.Unlock()
		return "", fmt.Errorf("checkpoint: %w", err)
	}
	s.mu.Unlock()

	sum, err := copyFile(dbPath, dstPath)
	if err != nil {
		return "", fmt.Errorf("copy duckdb file: %w", err)
	}
	return sum, nil
}

func copyFile(srcPath, dstPath string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp := dstPath + ".tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return "", err
	}

	sum, err := digest.Binary(io.TeeReader(src, dst))
	if err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return sum, os.Rename(tmp, dstPath)
}

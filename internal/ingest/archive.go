package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	archiveFileMode = 0o444
	archiveDirMode  = 0o755
)

// Archive keeps the raw bytes of every accepted artifact, one directory per
// device and one subdirectory per distinct digest.
type Archive struct {
	dir string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(dir string) (*Archive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("ingest: archive dir is empty")
	}
	if err := os.MkdirAll(dir, archiveDirMode); err != nil {
		return nil, fmt.Errorf("ingest: create archive dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Dir returns the archive root.
func (a *Archive) Dir() string { return a.dir }

// Store writes the artifact and its companion for an accepted bundle and
// returns the directory holding them. Re-uploads of identical content land
// in the existing directory and are not rewritten.
func (a *Archive) Store(b model.LogBundle, content []byte) (string, error) {
	pair := b.Pair()
	if err := artifact.ValidatePair(pair); err != nil {
		return "", err
	}
	dst := filepath.Join(a.dir, pair.DeviceID, pair.Category+"-"+strings.ToLower(b.Digest))
	if err := os.MkdirAll(filepath.Dir(dst), archiveDirMode); err != nil {
		return "", fmt.Errorf("ingest: create device archive: %w", err)
	}
	if err := os.Mkdir(dst, archiveDirMode); err != nil {
		if errors.Is(err, os.ErrExist) {
			return dst, nil
		}
		return "", fmt.Errorf("ingest: create archive entry: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{artifact.LogName(pair), content},
		{artifact.HashName(pair), []byte(strings.ToLower(b.Digest) + "\n")},
	}
	for _, f := range files {
		if err := writeSealed(filepath.Join(dst, f.name), f.data); err != nil {
			_ = os.RemoveAll(dst)
			return "", err
		}
	}
	return dst, nil
}

func writeSealed(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ingest: create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("ingest: write %s: %w", filepath.Base(path), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("ingest: sync %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("ingest: close %s: %w", filepath.Base(path), err)
	}
	return os.Chmod(path, archiveFileMode)
}

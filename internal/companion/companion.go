// Package companion reads and writes hash companion files: single-line
// files holding the live digest of a log artifact.
package companion

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Write replaces the companion at path with digest. The new content is
// written to a temp file, synced, then renamed over the old one, so readers
// see either the previous digest or the new one and never a partial line.
func Write(path, sum string, mode os.FileMode) error {
	if mode == 0 {
		mode = defaultFileMode
	}
	tmp := path + ".tmp"
	_ = os.Remove(tmp)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return fmt.Errorf("companion: open tmp: %w", err)
	}
	if _, err := f.WriteString(sum + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("companion: write tmp: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("companion: sync tmp: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("companion: close tmp: %w", err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("companion: chmod tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("companion: rename: %w", err)
	}
	return nil
}

// Read returns the digest stored at path.
func Read(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("companion: open: %w", err)
	}
	defer f.Close()
	return first(bufio.NewScanner(f))
}

// Parse extracts the asserted digest from companion content.
func Parse(content []byte) (string, error) {
	return first(bufio.NewScanner(strings.NewReader(string(content))))
}

func first(sc *bufio.Scanner) (string, error) {
	if sc.Scan() {
		if sum := strings.TrimSpace(sc.Text()); sum != "" {
			return sum, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("companion: read: %w", err)
	}
	return "", errors.New("companion: empty")
}

// Registry keeps the live companion for every pair the server has accepted.
// Each accepted artifact replaces the previous digest for its pair.
type Registry struct {
	mu  sync.RWMutex
	dir string
}

// NewRegistry creates a registry rooted at dir.
func NewRegistry(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("companion: registry dir is empty")
	}
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("companion: mkdir: %w", err)
	}
	return &Registry{dir: dir}, nil
}

func (r *Registry) path(p model.Pair) string {
	return filepath.Join(r.dir, artifact.HashName(p))
}

// Publish makes sum the live digest for p.
func (r *Registry) Publish(p model.Pair, sum string) error {
	if err := artifact.ValidatePair(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Write(r.path(p), strings.ToLower(sum), defaultFileMode)
}

// Live returns the live digest for p. ok is false when none was published.
func (r *Registry) Live(p model.Pair) (sum string, ok bool, err error) {
	if err := artifact.ValidatePair(p); err != nil {
		return "", false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	sum, err = Read(r.path(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return sum, true, nil
}

// Matches reports whether sum is the live digest for p.
func (r *Registry) Matches(p model.Pair, sum string) (bool, error) {
	live, ok, err := r.Live(p)
	if err != nil || !ok {
		return false, err
	}
	return digest.Equal(live, sum), nil
}

package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const reportFileStamp = "20060102T150405"

// DirSink renders each report into its own file under a directory.
type DirSink struct {
	dir      string
	renderer Renderer
}

// NewDirSink creates a sink writing reports rendered by renderer into dir.
func NewDirSink(dir string, renderer Renderer) (*DirSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("report: sink dir is empty")
	}
	if renderer == nil {
		return nil, errors.New("report: renderer is nil")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create sink dir: %w", err)
	}
	return &DirSink{dir: dir, renderer: renderer}, nil
}

// Deliver writes r and returns the path of the written file. The file
// appears complete or not at all.
func (s *DirSink) Deliver(ctx context.Context, r *Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := fmt.Sprintf("report_%s_%s_%s.%s",
		r.DeviceID, r.Start.Format(reportFileStamp), r.End.Format(reportFileStamp), s.renderer.Ext())
	path := filepath.Join(s.dir, filepath.Base(name))

	f, err := os.CreateTemp(s.dir, ".report-*")
	if err != nil {
		return "", fmt.Errorf("report: create temp: %w", err)
	}
	tmp := f.Name()
	if err := s.renderer.Render(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", fmt.Errorf("report: sync: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("report: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("report: rename: %w", err)
	}
	return path, nil
}

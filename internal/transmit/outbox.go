package transmit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tinytelemetry/tracevault/internal/companion"
	"github.com/tinytelemetry/tracevault/internal/rotation"
)

// OutboxTransmitter writes each handoff into its own directory under root,
// for agents that export artifacts by hand instead of uploading them.
// A handoff is acknowledged once both files are durably on disk.
type OutboxTransmitter struct {
	root string
	now  func() time.Time
}

// NewOutboxTransmitter creates an outbox rooted at dir.
func NewOutboxTransmitter(dir string) (*OutboxTransmitter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("transmit: outbox dir is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("transmit: outbox mkdir: %w", err)
	}
	return &OutboxTransmitter{root: dir, now: time.Now}, nil
}

// Transmit implements rotation.Transmitter.
func (o *OutboxTransmitter) Transmit(ctx context.Context, h rotation.Handoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := filepath.Join(o.root, fmt.Sprintf("%s-%s", o.now().UTC().Format("20060102T150405.000000000"), h.Pair.String()))
	if err := os.MkdirAll(batch, 0755); err != nil {
		return fmt.Errorf("transmit: outbox batch: %w", err)
	}
	if err := writeSynced(filepath.Join(batch, h.LogName), h.Content); err != nil {
		_ = os.RemoveAll(batch)
		return err
	}
	if err := companion.Write(filepath.Join(batch, h.HashName), h.Digest, 0644); err != nil {
		_ = os.RemoveAll(batch)
		return err
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("transmit: outbox create: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("transmit: outbox write: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("transmit: outbox sync: %w", err)
	}
	return f.Close()
}

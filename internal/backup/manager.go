package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/metrics"
)

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24

	snapshotPrefix = "tracevault-"
	snapshotExt    = ".duckdb"
	sidecarExt     = ".sha256"
	stampLayout    = "20060102-150405.000"
)

// ErrSidecarMismatch is returned when a snapshot no longer matches its
// sidecar digest.
var ErrSidecarMismatch = errors.New("backup: snapshot does not match sidecar")

// Manager runs periodic snapshots, uploads, and pruning.
type Manager struct {
	store    Snapshotter
	cfg      Config
	uploader Uploader
	now      func() time.Time
	logger   zerolog.Logger

	mu     sync.Mutex
	latest *Snapshot

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager validates cfg and returns a manager, or nil when backups are
// disabled. Call Start to begin the periodic loop.
func NewManager(store Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if store == nil {
		return nil, errors.New("backup: nil snapshotter")
	}
	if strings.TrimSpace(store.DBPath()) == "" {
		return nil, errors.New("backup: db-path is empty (in-memory store)")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, errors.New("backup: local-dir is required when backup is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
		return nil, fmt.Errorf("backup: create local-dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.S3URI) != "" {
		s3u, err := NewS3Uploader(S3Config{
			URI:      cfg.S3URI,
			Endpoint: cfg.S3Endpoint,
			Region:   cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("backup: init s3 uploader: %w", err)
		}
		uploader = s3u
	}
	return newManager(store, cfg, uploader), nil
}

func newManager(store Snapshotter, cfg Config, uploader Uploader) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		now:      time.Now,
		logger:   log.With().Str("component", "backup").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start takes a snapshot right away and then one per interval.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	if _, err := m.RunOnce(m.ctx); err != nil {
		m.logger.Error().Err(err).Msg("startup snapshot failed")
	}

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := m.RunOnce(m.ctx); err != nil {
				m.logger.Error().Err(err).Msg("periodic snapshot failed")
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce takes one sealed snapshot, uploads it when configured, and prunes
// old local snapshots.
func (m *Manager) RunOnce(ctx context.Context) (Snapshot, error) {
	snap, err := m.runOnce(ctx)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues("error").Inc()
		return snap, err
	}
	metrics.SnapshotsTotal.WithLabelValues("ok").Inc()
	return snap, nil
}

func (m *Manager) runOnce(ctx context.Context) (Snapshot, error) {
	created := m.now().UTC()
	name := snapshotPrefix + created.Format(stampLayout) + snapshotExt
	snap := Snapshot{
		Path:        filepath.Join(m.cfg.LocalDir, name),
		SidecarPath: filepath.Join(m.cfg.LocalDir, name+sidecarExt),
		CreatedAt:   created,
	}

	sum, err := m.store.SnapshotTo(snap.Path)
	if err != nil {
		return snap, fmt.Errorf("snapshot: %w", err)
	}
	snap.SHA256 = sum
	if err := writeSidecar(snap.SidecarPath, sum, name); err != nil {
		return snap, err
	}
	m.logger.Info().Str("path", snap.Path).Str("sha256", sum).Msg("snapshot sealed")

	if m.uploader != nil {
		for _, p := range []string{snap.Path, snap.SidecarPath} {
			if err := m.uploader.UploadFile(ctx, p); err != nil {
				return snap, fmt.Errorf("upload: %w", err)
			}
		}
		snap.Uploaded = true
		m.logger.Info().Str("file", name).Msg("snapshot uploaded")
	}

	m.mu.Lock()
	m.latest = &snap
	m.mu.Unlock()

	if err := pruneLocalSnapshots(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return snap, fmt.Errorf("prune local snapshots: %w", err)
	}
	return snap, nil
}

// Latest returns the most recent successful snapshot.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return Snapshot{}, false
	}
	return *m.latest, true
}

// Stop ends the loop and cancels an upload in flight.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.cancel()
		m.wg.Wait()
	})
}

// writeSidecar stores the digest in sha256sum format so the snapshot can be
// checked with standard tools.
func writeSidecar(path, sum, name string) error {
	content := fmt.Sprintf("%s  %s\n", sum, name)
	if err := os.WriteFile(path, []byte(content), 0o444); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}

// VerifySnapshot recomputes the digest of the snapshot at path and checks it
// against the sidecar written next to it.
func VerifySnapshot(path string) (string, error) {
	raw, err := os.ReadFile(path + sidecarExt)
	if err != nil {
		return "", fmt.Errorf("backup: read sidecar: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 || !digest.Valid(fields[0]) {
		return "", fmt.Errorf("backup: malformed sidecar %s", path+sidecarExt)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("backup: open snapshot: %w", err)
	}
	defer f.Close()
	sum, err := digest.Binary(f)
	if err != nil {
		return "", err
	}
	if !digest.Equal(sum, fields[0]) {
		return sum, fmt.Errorf("%w: expected %s, found %s", ErrSidecarMismatch, fields[0], sum)
	}
	return sum, nil
}

func pruneLocalSnapshots(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(localDir, snapshotPrefix+"*"+snapshotExt))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// the UTC stamp in the name sorts chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keepLast:] {
		for _, p := range []string{old, old + sidecarExt} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

package backup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tinytelemetry/tracevault/internal/digest"
)

type fakeSnapshotter struct {
	dbPath string
	data   []byte
}

func (f *fakeSnapshotter) DBPath() string { return f.dbPath }

func (f *fakeSnapshotter) SnapshotTo(dstPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dstPath, f.data, 0o644); err != nil {
		return "", err
	}
	return digest.Binary(bytes.NewReader(f.data))
}

// steppingClock returns a time one second later on every call.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestNewManager_Disabled(t *testing.T) {
	t.Parallel()

	m, err := NewManager(&fakeSnapshotter{dbPath: "/tmp/tracevault.duckdb"}, Config{})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil manager when disabled")
	}
}

func TestNewManager_EnabledRequiresDBPath(t *testing.T) {
	t.Parallel()

	_, err := NewManager(&fakeSnapshotter{}, Config{Enabled: true, LocalDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for empty db path")
	}
}

func TestRunOnce_SealsAndPrunes(t *testing.T) {
	t.Parallel()

	localDir := t.TempDir()
	m := newManager(&fakeSnapshotter{dbPath: "/tmp/tracevault.duckdb", data: []byte("snapshot\n")},
		Config{Enabled: true, LocalDir: localDir, KeepLast: 2}, nil)
	m.now = steppingClock()

	var last Snapshot
	for i := 0; i < 3; i++ {
		snap, err := m.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce #%d: %v", i+1, err)
		}
		last = snap
	}

	files, err := filepath.Glob(filepath.Join(localDir, "tracevault-*.duckdb"))
	if err != nil {
		t.Fatalf("glob snapshots: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("snapshot files = %d, want 2", len(files))
	}
	sidecars, _ := filepath.Glob(filepath.Join(localDir, "tracevault-*.duckdb.sha256"))
	if len(sidecars) != 2 {
		t.Fatalf("sidecar files = %d, want 2", len(sidecars))
	}

	sum, err := VerifySnapshot(last.Path)
	if err != nil {
		t.Fatalf("VerifySnapshot: %v", err)
	}
	if sum != last.SHA256 {
		t.Fatalf("sum = %s, want %s", sum, last.SHA256)
	}
	if latest, ok := m.Latest(); !ok || latest.Path != last.Path {
		t.Fatalf("Latest = %+v, %v", latest, ok)
	}
}

func TestVerifySnapshot_DetectsAlteredCopy(t *testing.T) {
	t.Parallel()

	m := newManager(&fakeSnapshotter{dbPath: "/tmp/tracevault.duckdb", data: []byte("snapshot\n")},
		Config{Enabled: true, LocalDir: t.TempDir(), KeepLast: 2}, nil)
	snap, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if err := os.WriteFile(snap.Path, []byte("tampered\n"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := VerifySnapshot(snap.Path); !errors.Is(err, ErrSidecarMismatch) {
		t.Fatalf("err = %v, want ErrSidecarMismatch", err)
	}
}

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) UploadFile(_ context.Context, p string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, filepath.Base(p))
	return nil
}

func TestRunOnce_UploadsSnapshotAndSidecar(t *testing.T) {
	t.Parallel()

	up := &recordingUploader{}
	m := newManager(&fakeSnapshotter{dbPath: "/tmp/tracevault.duckdb", data: []byte("x")},
		Config{Enabled: true, LocalDir: t.TempDir(), KeepLast: 2}, up)
	snap, err := m.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !snap.Uploaded {
		t.Fatal("snapshot not marked uploaded")
	}
	if len(up.paths) != 2 || up.paths[1] != filepath.Base(snap.SidecarPath) {
		t.Fatalf("uploaded = %v", up.paths)
	}
}

type blockingUploader struct {
	started chan struct{}
	once    sync.Once
}

func (u *blockingUploader) UploadFile(ctx context.Context, _ string) error {
	u.once.Do(func() { close(u.started) })
	<-ctx.Done()
	return ctx.Err()
}

func TestStop_CancelsInFlightUpload(t *testing.T) {
	t.Parallel()

	uploader := &blockingUploader{started: make(chan struct{})}
	m := newManager(&fakeSnapshotter{dbPath: "/tmp/tracevault.duckdb", data: []byte("snapshot")},
		Config{Enabled: true, Interval: 5 * time.Millisecond, LocalDir: t.TempDir(), KeepLast: 2}, uploader)
	m.Start()

	select {
	case <-uploader.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload to start")
	}

	done := make(chan struct{})
	go func() {
		m.Stop()
		m.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return; upload likely not canceled")
	}
}

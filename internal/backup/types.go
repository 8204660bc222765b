// Package backup takes sealed snapshots of the bundle store: a copy of the
// database file plus a sha256 sidecar, optionally shipped to S3.
package backup

import (
	"context"
	"time"
)

// Config controls periodic store snapshots.
type Config struct {
	Enabled  bool
	Interval time.Duration
	LocalDir string
	KeepLast int

	S3URI      string
	S3Endpoint string
	S3Region   string
}

// Snapshotter copies the live database to dstPath and returns the SHA-256
// of the written copy.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(dstPath string) (string, error)
}

// Uploader ships one local file to remote storage.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Snapshot describes one sealed snapshot on local disk.
type Snapshot struct {
	Path        string    `json:"path"`
	SidecarPath string    `json:"sidecar_path"`
	SHA256      string    `json:"sha256"`
	CreatedAt   time.Time `json:"created_at"`
	Uploaded    bool      `json:"uploaded"`
}

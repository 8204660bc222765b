// Package appender owns the device-side log artifacts. Each Appender holds
// one (device, category) pair: an append-only content file plus its hash
// companion, which is rewritten with the whole-file digest after every
// mutation.
package appender

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/companion"
	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	writableMode   = 0644
	protectedMode  = 0444
	defaultDirMode = 0755
)

// State is the lifecycle position of an Appender.
type State int

const (
	Uninitialized State = iota
	Ready
	Appending
	Rotating
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Appending:
		return "appending"
	case Rotating:
		return "rotating"
	default:
		return "uninitialized"
	}
}

// Snapshot is a consistent view of an artifact: its bytes and the digest
// sealed in its companion at the same instant.
type Snapshot struct {
	Pair    model.Pair
	Content []byte
	Digest  string
}

// Appender serializes every mutation of one artifact pair. Both files stay
// read-only on disk between mutations.
type Appender struct {
	mu       sync.Mutex
	pair     model.Pair
	logPath  string
	hashPath string
	size     int64
	digest   string
	state    State
}

// Open initializes the pair under dir, creating the content file and its
// companion when absent. An existing artifact is resumed and its companion
// resealed from the bytes on disk.
func Open(dir string, pair model.Pair) (*Appender, error) {
	if err := artifact.ValidatePair(pair); err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("appender: dir is empty")
	}
	if err := os.MkdirAll(dir, defaultDirMode); err != nil {
		return nil, fmt.Errorf("appender: mkdir: %w", err)
	}

	logPath, hashPath := artifact.Paths(dir, pair)
	a := &Appender{pair: pair, logPath: logPath, hashPath: hashPath}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.initLocked(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Appender) initLocked() error {
	if err := a.unprotect(); err != nil {
		return a.fail("init", err)
	}
	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_RDONLY, writableMode)
	if err != nil {
		return a.fail("init", err)
	}
	info, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return a.fail("init", err)
	}

	sum, err := digest.File(a.logPath)
	if err != nil {
		return a.fail("init", err)
	}
	if err := companion.Write(a.hashPath, sum, writableMode); err != nil {
		return a.fail("init", err)
	}
	if err := a.protect(); err != nil {
		return a.fail("init", err)
	}
	a.size = info.Size()
	a.digest = sum
	a.state = Ready
	return nil
}

// Append writes line to the artifact and reseals its companion. On any
// failure the content file is truncated back to its previous length, so the
// artifact and its digest never diverge.
func (a *Appender) Append(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return "", faults.Validation("append", errors.New("embedded newline"), "").WithPair(a.pair.DeviceID, a.pair.Category)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == Uninitialized {
		if err := a.initLocked(); err != nil {
			return "", err
		}
	}
	a.state = Appending
	defer func() { a.state = Ready }()

	if err := a.unprotect(); err != nil {
		return "", a.fail("append", err)
	}
	defer func() { _ = a.protect() }()

	prev := a.size
	n, err := appendLine(a.logPath, line)
	if err != nil {
		a.rollback(prev)
		return "", a.fail("append", err)
	}

	sum, err := digest.File(a.logPath)
	if err != nil {
		a.rollback(prev)
		return "", a.fail("append", err)
	}
	if err := companion.Write(a.hashPath, sum, writableMode); err != nil {
		a.rollback(prev)
		return "", a.fail("append", err)
	}

	a.size = prev + int64(n)
	a.digest = sum
	return sum, nil
}

func appendLine(path, line string) (int, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, writableMode)
	if err != nil {
		return 0, err
	}
	n, werr := io.WriteString(f, line+"\n")
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return n, werr
}

func (a *Appender) rollback(size int64) {
	_ = os.Truncate(a.logPath, size)
}

// Snapshot returns the artifact bytes with their sealed digest. The bytes
// are re-hashed and compared to the companion on disk; a difference means
// the files were altered outside the appender.
func (a *Appender) Snapshot() (Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Appender) snapshotLocked() (Snapshot, error) {
	content, err := os.ReadFile(a.logPath)
	if err != nil {
		return Snapshot{}, a.fail("snapshot", err)
	}
	sealed, err := companion.Read(a.hashPath)
	if err != nil {
		return Snapshot{}, a.fail("snapshot", err)
	}
	sum, err := digest.Sum(content)
	if err != nil {
		return Snapshot{}, a.fail("snapshot", err)
	}
	if !digest.Equal(sum, sealed) {
		return Snapshot{}, faults.Integrity("snapshot", faults.ErrDigestMismatch,
			fmt.Sprintf("companion %s, content %s", sealed, sum)).WithPair(a.pair.DeviceID, a.pair.Category)
	}
	return Snapshot{Pair: a.pair, Content: content, Digest: sum}, nil
}

// Commit releases a transmitted snapshot. The transmitted bytes are removed
// from the front of the artifact. When nothing was appended since the
// snapshot, both files are deleted and a fresh empty pair is created;
// otherwise the untransmitted tail becomes the new artifact.
func (a *Appender) Commit(sent Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = Rotating
	defer func() {
		if a.state == Rotating {
			a.state = Ready
		}
	}()

	current, err := os.ReadFile(a.logPath)
	if err != nil {
		return a.fail("commit", err)
	}
	if !bytes.HasPrefix(current, sent.Content) {
		return faults.Integrity("commit", errors.New("artifact no longer starts with transmitted content"), "").
			WithPair(a.pair.DeviceID, a.pair.Category)
	}
	tail := current[len(sent.Content):]

	if err := a.unprotect(); err != nil {
		return a.fail("commit", err)
	}

	if len(tail) == 0 {
		if err := os.Remove(a.logPath); err != nil {
			return a.fail("commit", err)
		}
		if err := os.Remove(a.hashPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return a.fail("commit", err)
		}
		a.state = Uninitialized
		return a.initLocked()
	}

	sum, err := digest.Sum(tail)
	if err != nil {
		_ = a.protect()
		return a.fail("commit", err)
	}
	if err := replaceFile(a.logPath, tail); err != nil {
		_ = a.protect()
		return a.fail("commit", err)
	}
	if err := companion.Write(a.hashPath, sum, writableMode); err != nil {
		// The companion still seals the full content; put it back.
		if rerr := replaceFile(a.logPath, current); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore artifact: %w", rerr))
		}
		_ = a.protect()
		return a.fail("commit", err)
	}
	a.size = int64(len(tail))
	a.digest = sum
	return a.protect()
}

func replaceFile(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, writableMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (a *Appender) unprotect() error { return chmodExisting(writableMode, a.logPath, a.hashPath) }

func (a *Appender) protect() error { return chmodExisting(protectedMode, a.logPath, a.hashPath) }

func chmodExisting(mode os.FileMode, paths ...string) error {
	for _, p := range paths {
		if err := os.Chmod(p, mode); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (a *Appender) fail(op string, err error) error {
	var fe *faults.Error
	if errors.As(err, &fe) {
		if fe.DeviceID == "" {
			return fe.WithPair(a.pair.DeviceID, a.pair.Category)
		}
		return err
	}
	return faults.Transient(op, err).WithPair(a.pair.DeviceID, a.pair.Category)
}

// Pair returns the artifact identity.
func (a *Appender) Pair() model.Pair { return a.pair }

// Paths returns the content and companion file paths.
func (a *Appender) Paths() (logPath, hashPath string) { return a.logPath, a.hashPath }

// Size returns the current artifact length in bytes.
func (a *Appender) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Digest returns the digest of the current artifact content.
func (a *Appender) Digest() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.digest
}

// State returns the lifecycle state.
func (a *Appender) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

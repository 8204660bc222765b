package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// FileCategory is the category file activity is recorded under.
const FileCategory = "FileLog"

// FileWatchSource reports file creation, deletion, writes and metadata
// changes under a set of watched paths as FileLog events.
type FileWatchSource struct {
	watcher  *fsnotify.Watcher
	ch       chan model.RawEvent
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
	now      func() time.Time
}

// NewFileWatchSource watches every path in paths. Paths that cannot be
// watched are logged and skipped; an error is returned only when none can.
func NewFileWatchSource(ctx context.Context, paths []string, bufferSize int) (*FileWatchSource, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("source: no paths to watch")
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBuffer
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("source: create watcher: %w", err)
	}
	logger := log.With().Str("component", "source").Str("source", "files").Logger()

	watched := 0
	for _, p := range paths {
		if err := watcher.Add(p); err != nil {
			logger.Error().Err(err).Str("path", p).Msg("failed to watch path")
			continue
		}
		logger.Info().Str("path", p).Msg("watching path")
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return nil, fmt.Errorf("source: none of %d paths could be watched", len(paths))
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &FileWatchSource{
		watcher: watcher,
		ch:      make(chan model.RawEvent, bufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
	go s.run(ctx)
	return s, nil
}

// Describe renders an fsnotify operation as FileLog content. It returns
// false for operations that are not recorded.
func Describe(ev fsnotify.Event) (string, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return "File Created: " + ev.Name, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return "File Deleted: " + ev.Name, true
	case ev.Has(fsnotify.Write):
		return "File Revised (written_to): " + ev.Name, true
	case ev.Has(fsnotify.Chmod):
		return "File Metadata Changed: " + ev.Name, true
	}
	return "", false
}

func ignored(name string) bool {
	return strings.HasSuffix(name, ".swp") ||
		strings.HasSuffix(name, "~") ||
		strings.HasPrefix(name, ".#")
}

func (s *FileWatchSource) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ignored(ev.Name) {
				continue
			}
			content, ok := Describe(ev)
			if !ok {
				continue
			}
			select {
			case s.ch <- model.RawEvent{Source: s.Name(), Category: FileCategory, Content: content, At: s.now()}:
			case <-ctx.Done():
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("watcher error")
		}
	}
}

func (s *FileWatchSource) Events() <-chan model.RawEvent { return s.ch }
func (s *FileWatchSource) Name() string                  { return "files" }

// Stop closes the watcher and waits for the event loop to exit.
func (s *FileWatchSource) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.done
		s.watcher.Close()
	})
}

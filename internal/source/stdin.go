package source

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/model"
)

// DefaultMaxLineSize caps one input line.
const DefaultMaxLineSize = 1024 * 1024

// StdinConfig holds tunable parameters for the line source.
type StdinConfig struct {
	BufferSize  int
	MaxLineSize int
}

// LineSource reads "<Category> <content>" lines, one event per line.
type LineSource struct {
	ch       chan model.RawEvent
	cancel   context.CancelFunc
	stopOnce sync.Once
	logger   zerolog.Logger
	now      func() time.Time
}

// NewLineSource starts reading r in the background. The returned source's
// channel closes at EOF or when Stop is called.
func NewLineSource(ctx context.Context, r io.Reader, conf ...StdinConfig) *LineSource {
	bufferSize := DefaultBuffer
	maxLineSize := DefaultMaxLineSize
	if len(conf) > 0 {
		if conf[0].BufferSize > 0 {
			bufferSize = conf[0].BufferSize
		}
		if conf[0].MaxLineSize > 0 {
			maxLineSize = conf[0].MaxLineSize
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &LineSource{
		ch:     make(chan model.RawEvent, bufferSize),
		cancel: cancel,
		logger: log.With().Str("component", "source").Str("source", "stdin").Logger(),
		now:    time.Now,
	}
	go s.read(ctx, r, maxLineSize)
	return s
}

// ParseLine splits an input line into its category and content.
func ParseLine(line string) (category, content string, ok bool) {
	line = strings.TrimRight(line, "\r")
	category, content, found := strings.Cut(strings.TrimSpace(line), " ")
	if !found {
		return "", "", false
	}
	content = strings.TrimSpace(content)
	if content == "" || artifact.ValidatePair(model.Pair{DeviceID: "x", Category: category}) != nil {
		return "", "", false
	}
	return category, content, true
}

func (s *LineSource) read(ctx context.Context, r io.Reader, maxLineSize int) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	type scanResult struct{ line string }
	results := make(chan scanResult)
	go func() {
		defer close(results)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case results <- scanResult{line: line}:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				s.logger.Error().Int("max_line_size", maxLineSize).Msg("input line too long, stopping source")
				return
			}
			s.logger.Error().Err(err).Msg("scanner error")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			category, content, valid := ParseLine(res.line)
			if !valid {
				s.logger.Warn().Str("line", res.line).Msg("skipping line without category")
				continue
			}
			ev := model.RawEvent{Source: s.Name(), Category: category, Content: content, At: s.now()}
			select {
			case s.ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *LineSource) Events() <-chan model.RawEvent { return s.ch }
func (s *LineSource) Stop()                         { s.stopOnce.Do(s.cancel) }
func (s *LineSource) Name() string                  { return "stdin" }

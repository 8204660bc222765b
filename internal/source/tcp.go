package source

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// TCPSource accepts "<Category> <content>" lines from local collectors over
// TCP. Each connection is read independently.
type TCPSource struct {
	listener    net.Listener
	ch          chan model.RawEvent
	maxLineSize int
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
	logger      zerolog.Logger
	now         func() time.Time
}

// NewTCPSource listens on addr and starts accepting connections.
func NewTCPSource(ctx context.Context, addr string, conf ...StdinConfig) (*TCPSource, error) {
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
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &TCPSource{
		listener:    listener,
		ch:          make(chan model.RawEvent, bufferSize),
		maxLineSize: maxLineSize,
		ctx:         ctx,
		cancel:      cancel,
		logger:      log.With().Str("component", "source").Str("source", "tcp").Logger(),
		now:         time.Now,
	}

	s.wg.Add(1)
	go s.accept()
	context.AfterFunc(ctx, func() { listener.Close() })
	return s, nil
}

func (s *TCPSource) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPSource) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), s.maxLineSize)
	for scanner.Scan() {
		category, content, ok := ParseLine(scanner.Text())
		if !ok {
			continue
		}
		select {
		case s.ch <- model.RawEvent{Source: s.Name(), Category: category, Content: content, At: s.now()}:
		case <-s.ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && s.ctx.Err() == nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.logger.Warn().Str("remote", conn.RemoteAddr().String()).Int("max_line_size", s.maxLineSize).Msg("dropped connection with oversized line")
			return
		}
		s.logger.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("connection read error")
	}
}

// Addr returns the active listen address.
func (s *TCPSource) Addr() string { return s.listener.Addr().String() }

func (s *TCPSource) Events() <-chan model.RawEvent { return s.ch }
func (s *TCPSource) Name() string                  { return "tcp" }

// Stop closes the listener and every connection, then closes Events.
func (s *TCPSource) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.listener.Close()
		s.wg.Wait()
		close(s.ch)
	})
}

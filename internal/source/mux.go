package source

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/tracevault/internal/model"
)

// Multiplexer merges several sources into a single stream. Forwarded
// events carry the name of their source and a receive time when the source
// left either blank. Blank lines are dropped.
type Multiplexer struct {
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	sources []Source
	events  chan model.RawEvent

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewMultiplexer merges sources into one channel holding up to buffer
// events. A non-positive buffer uses DefaultBuffer. Cancelling parent stops
// forwarding.
func NewMultiplexer(parent context.Context, sources []Source, buffer int) *Multiplexer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &Multiplexer{
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		sources: sources,
		events:  make(chan model.RawEvent, buffer),
	}
}

// Start begins forwarding. The output closes once every source has closed.
func (m *Multiplexer) Start() {
	m.startOnce.Do(func() {
		if len(m.sources) == 0 {
			m.closeOutput()
			return
		}
		for _, src := range m.sources {
			m.wg.Add(1)
			go m.forward(src)
		}
		go func() {
			m.wg.Wait()
			m.closeOutput()
		}()
	})
}

// Stop stops every source and waits for the forwarders, then closes the
// output. Events still buffered stay readable.
func (m *Multiplexer) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		m.wg.Wait()
		m.closeOutput()
	})
}

// HasSources reports whether any source was configured.
func (m *Multiplexer) HasSources() bool { return len(m.sources) > 0 }

// Events returns the merged stream.
func (m *Multiplexer) Events() <-chan model.RawEvent { return m.events }

func (m *Multiplexer) forward(src Source) {
	defer m.wg.Done()
	in := src.Events()
	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if strings.TrimSpace(ev.Content) == "" {
				continue
			}
			if ev.Source == "" {
				ev.Source = src.Name()
			}
			if ev.At.IsZero() {
				ev.At = m.now()
			}
			select {
			case m.events <- ev:
			case <-m.ctx.Done():
				return
			}
		}
	}
}

func (m *Multiplexer) closeOutput() {
	m.closeOnce.Do(func() { close(m.events) })
}

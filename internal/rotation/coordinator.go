// Package rotation hands full artifacts to a transmitter and releases local
// copies only after the transmitter acknowledges them.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tracevault/internal/appender"
	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

const (
	ReasonSize     = "size"
	ReasonRetry    = "retry"
	defaultTimeout = 60 * time.Second
)

// Handoff is one sealed artifact ready for transmission.
type Handoff struct {
	Pair     model.Pair
	LogName  string
	HashName string
	Content  []byte
	Digest   string
	Reason   string
}

// Transmitter delivers a handoff. A nil error is a positive acknowledgement.
type Transmitter interface {
	Transmit(ctx context.Context, h Handoff) error
}

// Outcome is the result of one handoff.
type Outcome struct {
	Pair    model.Pair
	Digest  string
	Bytes   int
	Reason  string
	Skipped bool
	Err     error
}

// Pending is a handoff in progress. Done is closed once Outcome is set.
type Pending struct {
	done chan struct{}
	out  Outcome
}

// Done is closed when the handoff has finished.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the handoff finishes or ctx ends.
func (p *Pending) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
		return p.out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Config holds coordinator settings.
type Config struct {
	Dir             string
	Threshold       int64
	FlushTimeout    time.Duration
	TransmitTimeout time.Duration
	RetryInterval   time.Duration // 0 disables the background retry loop
}

type slot struct {
	app      *appender.Appender
	inflight *Pending
}

// Coordinator owns one appender per (device, category) pair and rotates
// them by size or on a critical event.
type Coordinator struct {
	cfg    Config
	tx     Transmitter
	logger zerolog.Logger

	mu    sync.Mutex
	slots map[model.Pair]*slot

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewCoordinator creates a coordinator writing artifacts under cfg.Dir.
func NewCoordinator(cfg Config, tx Transmitter) (*Coordinator, error) {
	if tx == nil {
		return nil, errors.New("rotation: transmitter is nil")
	}
	if cfg.Dir == "" {
		return nil, errors.New("rotation: dir is empty")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = model.DefaultRotateThreshold
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = model.DefaultFlushTimeout
	}
	if cfg.TransmitTimeout <= 0 {
		cfg.TransmitTimeout = defaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:    cfg,
		tx:     tx,
		logger: log.With().Str("component", "rotation").Logger(),
		slots:  make(map[model.Pair]*slot),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if err := c.resume(); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

// resume registers artifacts left in the spool directory by an earlier run
// so they are retried and flushed like any other pair.
func (c *Coordinator) resume() error {
	entries, err := os.ReadDir(c.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("rotation: scan spool: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		pair, err := artifact.ParseName(e.Name())
		if err != nil {
			continue
		}
		if _, err := c.Register(pair); err != nil {
			return fmt.Errorf("rotation: resume %s: %w", e.Name(), err)
		}
		c.logger.Info().Str("device_id", pair.DeviceID).Str("category", pair.Category).Msg("resumed spooled artifact")
	}
	return nil
}

// Start launches the retry loop that re-checks idle oversized pairs.
func (c *Coordinator) Start() {
	if c.cfg.RetryInterval <= 0 {
		return
	}
	c.wg.Add(1)
	go c.retryLoop()
}

func (c *Coordinator) retryLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, p := range c.Pairs() {
				c.check(p, ReasonRetry)
			}
		case <-c.done:
			return
		}
	}
}

// Register opens the appender for pair if it is not open yet.
func (c *Coordinator) Register(pair model.Pair) (*appender.Appender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.slots[pair]; ok {
		return s.app, nil
	}
	app, err := appender.Open(c.cfg.Dir, pair)
	if err != nil {
		return nil, err
	}
	c.slots[pair] = &slot{app: app}
	return app, nil
}

// Append writes line to the pair's artifact and then runs the size check.
// A handoff triggered by the check runs in the background.
func (c *Coordinator) Append(pair model.Pair, line string) error {
	app, err := c.Register(pair)
	if err != nil {
		return err
	}
	if _, err := app.Append(line); err != nil {
		return err
	}
	c.CheckSize(pair)
	return nil
}

// CheckSize starts a handoff when the pair has reached the threshold. It
// returns nil when no handoff is needed.
func (c *Coordinator) CheckSize(pair model.Pair) *Pending {
	return c.check(pair, ReasonSize)
}

func (c *Coordinator) check(pair model.Pair, reason string) *Pending {
	c.mu.Lock()
	s, ok := c.slots[pair]
	c.mu.Unlock()
	if !ok || s.app.Size() < c.cfg.Threshold {
		return nil
	}
	p, _ := c.handoff(pair, reason)
	return p
}

// handoff starts a transmission for pair, or joins the one in flight.
func (c *Coordinator) handoff(pair model.Pair, reason string) (p *Pending, joined bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[pair]
	if !ok {
		p = &Pending{done: make(chan struct{}), out: Outcome{Pair: pair, Reason: reason, Skipped: true}}
		close(p.done)
		return p, false
	}
	if s.inflight != nil {
		return s.inflight, true
	}
	p = &Pending{done: make(chan struct{})}
	s.inflight = p
	c.wg.Add(1)
	go c.run(s, p, reason)
	return p, false
}

func (c *Coordinator) run(s *slot, p *Pending, reason string) {
	defer c.wg.Done()
	out := c.transmit(s.app, reason)

	c.mu.Lock()
	s.inflight = nil
	c.mu.Unlock()

	p.out = out
	close(p.done)

	ev := c.logger.Info()
	if out.Err != nil {
		ev = c.logger.Warn().Err(out.Err)
	}
	ev.Str("device_id", out.Pair.DeviceID).
		Str("category", out.Pair.Category).
		Str("reason", reason).
		Bool("skipped", out.Skipped).
		Int("bytes", out.Bytes).
		Msg("handoff finished")
}

func (c *Coordinator) transmit(app *appender.Appender, reason string) Outcome {
	pair := app.Pair()
	out := Outcome{Pair: pair, Reason: reason}

	snap, err := app.Snapshot()
	if err != nil {
		out.Err = err
		return out
	}
	out.Digest = snap.Digest
	out.Bytes = len(snap.Content)
	if len(snap.Content) == 0 {
		out.Skipped = true
		return out
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TransmitTimeout)
	defer cancel()
	err = c.tx.Transmit(ctx, Handoff{
		Pair:     pair,
		LogName:  artifact.LogName(pair),
		HashName: artifact.HashName(pair),
		Content:  snap.Content,
		Digest:   snap.Digest,
		Reason:   reason,
	})
	if err != nil {
		out.Err = faults.Transient("transmit", err).WithPair(pair.DeviceID, pair.Category)
		return out
	}
	if err := app.Commit(snap); err != nil {
		out.Err = fmt.Errorf("release acknowledged artifact: %w", err)
	}
	return out
}

// FlushAll hands off every open pair regardless of size and waits, bounded
// by the flush timeout, for every outcome. Pairs already in flight are
// awaited and then flushed again so lines appended meanwhile are included.
func (c *Coordinator) FlushAll(ctx context.Context, reason string) []Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FlushTimeout)
	defer cancel()

	pairs := c.Pairs()
	outcomes := make([]Outcome, len(pairs))

	var g errgroup.Group
	for i, pair := range pairs {
		g.Go(func() error {
			outcomes[i] = c.flushPair(ctx, pair, reason)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
		}
	}
	c.logger.Info().Str("reason", reason).Int("pairs", len(outcomes)).Int("failed", failed).Msg("critical flush finished")
	return outcomes
}

func (c *Coordinator) flushPair(ctx context.Context, pair model.Pair, reason string) Outcome {
	p, joined := c.handoff(pair, reason)
	out, err := p.Wait(ctx)
	if err != nil {
		return Outcome{Pair: pair, Reason: reason, Err: faults.Transient("flush", err).WithPair(pair.DeviceID, pair.Category)}
	}
	if !joined || out.Err != nil {
		return out
	}
	p, _ = c.handoff(pair, reason)
	again, err := p.Wait(ctx)
	if err != nil {
		return Outcome{Pair: pair, Reason: reason, Err: faults.Transient("flush", err).WithPair(pair.DeviceID, pair.Category)}
	}
	return again
}

// Pairs returns the open pairs in a stable order.
func (c *Coordinator) Pairs() []model.Pair {
	c.mu.Lock()
	pairs := make([]model.Pair, 0, len(c.slots))
	for p := range c.slots {
		pairs = append(pairs, p)
	}
	c.mu.Unlock()
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// Stop ends the retry loop, cancels transmissions still running, and waits
// for them. Artifacts whose transmission was cancelled stay on disk.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.wg.Wait()
	})
}

// Package audit periodically re-verifies every stored bundle against the
// digest it was accepted under.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/metrics"
	"github.com/tinytelemetry/tracevault/internal/model"
)

// Result describes one sweep over the store.
type Result struct {
	At         time.Time `json:"at"`
	Checked    int       `json:"checked"`
	Mismatched []string  `json:"mismatched,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// Auditor sweeps the store on a fixed interval.
type Auditor struct {
	scanner  model.BundleScanner
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	last Result

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewAuditor creates an auditor. It returns nil when interval is not
// positive, which disables auditing.
func NewAuditor(scanner model.BundleScanner, interval time.Duration) *Auditor {
	if interval <= 0 || scanner == nil {
		return nil
	}
	return &Auditor{
		scanner:  scanner,
		interval: interval,
		logger:   log.With().Str("component", "audit").Logger(),
		done:     make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick.
func (a *Auditor) Start() {
	a.wg.Add(1)
	go a.tickLoop()
}

func (a *Auditor) tickLoop() {
	defer a.wg.Done()
	a.sweepLogged()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.sweepLogged()
		case <-a.done:
			return
		}
	}
}

func (a *Auditor) sweepLogged() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	if _, err := a.Sweep(ctx); err != nil {
		a.logger.Error().Err(err).Msg("audit sweep failed")
	}
}

// Sweep re-verifies every stored bundle once.
func (a *Auditor) Sweep(ctx context.Context) (Result, error) {
	res := Result{At: time.Now()}
	err := a.scanner.EachBundle(ctx, func(b model.LogBundle) error {
		res.Checked++
		found, ok, err := ingest.Reverify(b)
		if err != nil {
			return err
		}
		if !ok {
			res.Mismatched = append(res.Mismatched, b.ID)
			metrics.AuditMismatches.Inc()
			a.logger.Warn().
				Str("bundle_id", b.ID).
				Str("device_id", b.DeviceID).
				Str("category", b.Category).
				Str("expected", b.Digest).
				Str("found", found).
				Msg("stored bundle no longer matches its digest")
		}
		return nil
	})
	if err != nil {
		res.Err = err.Error()
	}

	a.mu.Lock()
	a.last = res
	a.mu.Unlock()

	if err == nil {
		a.logger.Info().Int("checked", res.Checked).Int("mismatched", len(res.Mismatched)).Msg("audit sweep finished")
	}
	return res, err
}

// Last returns the result of the most recent sweep.
func (a *Auditor) Last() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Stop ends the loop and waits for a running sweep to return.
func (a *Auditor) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
	})
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/tracevault/internal/logline"
	"github.com/tinytelemetry/tracevault/internal/model"
	"github.com/tinytelemetry/tracevault/internal/rotation"
)

const (
	antiForensicCategory = "AntiForensicLog"
	shutdownContent      = "Device Shutdown or Reboot Detected."
	bufferClearedContent = "Log Buffer Cleared Detected. (adb logcat -c)"

	reasonShutdown = "shutdown"
	reasonCritical = "critical"
)

// referenceClock samples the server clock. A nil result means the line is
// written without a reference timestamp.
type referenceClock interface {
	Reference(ctx context.Context) *time.Time
}

// coordinator is the subset of rotation.Coordinator the agent drives.
type coordinator interface {
	Append(pair model.Pair, line string) error
	FlushAll(ctx context.Context, reason string) []rotation.Outcome
}

// agent stamps raw events and appends them to their category's artifact.
type agent struct {
	deviceID string
	coord    coordinator
	clock    referenceClock
	now      func() time.Time
	logger   zerolog.Logger
}

func newAgent(deviceID string, coord coordinator, clock referenceClock) *agent {
	return &agent{
		deviceID: deviceID,
		coord:    coord,
		clock:    clock,
		now:      time.Now,
		logger:   log.With().Str("component", "agent").Str("device_id", deviceID).Logger(),
	}
}

// isCritical reports whether content announces imminent loss of the device
// session or its logs.
func isCritical(category, content string) bool {
	if category != antiForensicCategory {
		return false
	}
	return strings.Contains(content, shutdownContent) || strings.Contains(content, bufferClearedContent)
}

// Record stamps ev and appends it. A critical event is followed by a flush
// of every open artifact.
func (a *agent) Record(ctx context.Context, ev model.RawEvent) error {
	at := ev.At
	if at.IsZero() {
		at = a.now()
	}
	var ref *time.Time
	if a.clock != nil {
		ref = a.clock.Reference(ctx)
	}
	pair := model.Pair{DeviceID: a.deviceID, Category: ev.Category}
	if err := a.coord.Append(pair, logline.Stamp(at, ev.Content, ref)); err != nil {
		return fmt.Errorf("append %s: %w", pair, err)
	}
	if isCritical(ev.Category, ev.Content) {
		a.Flush(ctx, reasonCritical)
	}
	return nil
}

// Flush hands off every open artifact and logs each failed pair.
func (a *agent) Flush(ctx context.Context, reason string) []rotation.Outcome {
	outcomes := a.coord.FlushAll(ctx, reason)
	for _, out := range outcomes {
		if out.Err != nil {
			a.logger.Warn().Err(out.Err).Str("category", out.Pair.Category).Str("reason", reason).Msg("artifact kept for retry")
		}
	}
	return outcomes
}

// Shutdown records the shutdown marker and performs the final flush.
func (a *agent) Shutdown(ctx context.Context) []rotation.Outcome {
	err := a.coord.Append(
		model.Pair{DeviceID: a.deviceID, Category: antiForensicCategory},
		logline.Stamp(a.now(), shutdownContent, nil),
	)
	if err != nil {
		a.logger.Error().Err(err).Msg("record shutdown marker")
	}
	return a.Flush(ctx, reasonShutdown)
}

// BufferCleared records a log-buffer clear and flushes.
func (a *agent) BufferCleared(ctx context.Context) error {
	return a.Record(ctx, model.RawEvent{Source: "signal", Category: antiForensicCategory, Content: bufferClearedContent})
}

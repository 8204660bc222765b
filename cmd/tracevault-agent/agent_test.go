package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tracevault/internal/model"
	"github.com/tinytelemetry/tracevault/internal/rotation"
)

type appended struct {
	pair model.Pair
	line string
}

type fakeCoordinator struct {
	mu      sync.Mutex
	lines   []appended
	flushes []string
	fail    error
}

func (f *fakeCoordinator) Append(pair model.Pair, line string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.lines = append(f.lines, appended{pair, line})
	return nil
}

func (f *fakeCoordinator) FlushAll(_ context.Context, reason string) []rotation.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes = append(f.flushes, reason)
	return []rotation.Outcome{{Pair: model.Pair{DeviceID: "dev1", Category: "CallingLog"}, Reason: reason}}
}

type fixedClock struct{ at *time.Time }

func (c fixedClock) Reference(context.Context) *time.Time { return c.at }

var deviceTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecordStampsWithReference(t *testing.T) {
	ref := time.Date(2024, 5, 1, 10, 0, 3, 0, time.UTC)
	coord := &fakeCoordinator{}
	a := newAgent("dev1", coord, fixedClock{at: &ref})

	err := a.Record(context.Background(), model.RawEvent{Category: "CallingLog", Content: "start an outgoing call", At: deviceTime})
	require.NoError(t, err)

	require.Len(t, coord.lines, 1)
	assert.Equal(t, model.Pair{DeviceID: "dev1", Category: "CallingLog"}, coord.lines[0].pair)
	assert.Equal(t, "2024-05-01 10:00:00 start an outgoing call; serverTimestamp: 2024-05-01 10:00:03", coord.lines[0].line)
	assert.Empty(t, coord.flushes)
}

func TestRecordWithoutClock(t *testing.T) {
	coord := &fakeCoordinator{}
	a := newAgent("dev1", coord, nil)
	a.now = func() time.Time { return deviceTime }

	require.NoError(t, a.Record(context.Background(), model.RawEvent{Category: "FileLog", Content: "File Created: /sdcard/a"}))
	assert.Equal(t, "2024-05-01 10:00:00 File Created: /sdcard/a", coord.lines[0].line)
}

func TestRecordCriticalEventFlushes(t *testing.T) {
	coord := &fakeCoordinator{}
	a := newAgent("dev1", coord, nil)

	require.NoError(t, a.BufferCleared(context.Background()))
	require.Len(t, coord.lines, 1)
	assert.Equal(t, antiForensicCategory, coord.lines[0].pair.Category)
	assert.Contains(t, coord.lines[0].line, bufferClearedContent)
	assert.Equal(t, []string{reasonCritical}, coord.flushes)
}

func TestRecordAppendFailure(t *testing.T) {
	coord := &fakeCoordinator{fail: errors.New("disk full")}
	a := newAgent("dev1", coord, nil)
	err := a.Record(context.Background(), model.RawEvent{Category: "CallingLog", Content: "x", At: deviceTime})
	assert.ErrorContains(t, err, "disk full")
}

func TestShutdownRecordsMarkerBeforeFlush(t *testing.T) {
	coord := &fakeCoordinator{}
	a := newAgent("dev1", coord, nil)
	a.now = func() time.Time { return deviceTime }

	outcomes := a.Shutdown(context.Background())
	require.Len(t, outcomes, 1)
	require.Len(t, coord.lines, 1)
	assert.Equal(t, "2024-05-01 10:00:00 "+shutdownContent, coord.lines[0].line)
	assert.Equal(t, []string{reasonShutdown}, coord.flushes)
}

func TestIsCritical(t *testing.T) {
	assert.True(t, isCritical(antiForensicCategory, shutdownContent))
	assert.True(t, isCritical(antiForensicCategory, " "+bufferClearedContent))
	assert.False(t, isCritical("CallingLog", shutdownContent))
	assert.False(t, isCritical(antiForensicCategory, "Before System Time: 2024"))
}

func TestLoadConfigDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TRACEVAULT_AGENT_DEVICE_ID", "pixel7")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, "pixel7", cfg.DeviceID)
	assert.Equal(t, int64(model.DefaultRotateThreshold), cfg.RotateThreshold)
	assert.Equal(t, filepath.Join(home, ".local", "state", "tracevault-agent", "spool"), cfg.SpoolDir)
	assert.Empty(t, cfg.ServerURL)
}

func TestFinishConfigRejectsBadDeviceID(t *testing.T) {
	cfg := agentConfig{DeviceID: "dev_1", RotateThreshold: 1, FlushTimeout: time.Second}
	assert.Error(t, finishConfig(&cfg, "/home/x"))
}

func TestDeviceIDFromHost(t *testing.T) {
	assert.Equal(t, "my-host", deviceIDFromHost("my_host"))
	assert.Equal(t, "device", deviceIDFromHost(""))
}

func TestBuildInputPlugins(t *testing.T) {
	plugins := buildInputPlugins(inputPluginConfig{WatchPaths: []string{t.TempDir()}})
	require.Len(t, plugins, 3)
	assert.False(t, plugins[0].Enabled(), "stdin disabled by config")
	assert.False(t, plugins[1].Enabled(), "tcp disabled without an address")
	assert.True(t, plugins[2].Enabled())

	src, err := plugins[2].Build(context.Background())
	require.NoError(t, err)
	src.Stop()

	tcp := buildInputPlugins(inputPluginConfig{TCPAddr: "127.0.0.1:0"})[1]
	require.True(t, tcp.Enabled())
	src, err = tcp.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tcp", src.Name())
	src.Stop()
}

package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tinytelemetry/tracevault/internal/classify"
	"github.com/tinytelemetry/tracevault/internal/digest"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/model"
)

type fakeReader struct {
	bundles []model.LogBundle
	err     error
}

func (f *fakeReader) BundlesInWindow(_ context.Context, deviceID string, start, end time.Time) ([]model.LogBundle, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.LogBundle
	for _, b := range f.bundles {
		e := b.Earliest()
		if b.DeviceID == deviceID && !e.Before(start) && !e.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeReader) BundlesFor(context.Context, model.Pair) ([]model.LogBundle, error) {
	return nil, nil
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, *Report) (string, error) {
	return "", errors.New("disk full")
}

func ts(s string) time.Time {
	t, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func bundle(t *testing.T, name, content string) model.LogBundle {
	t.Helper()
	sum, err := digest.Sum([]byte(content))
	require.NoError(t, err)
	b, err := ingest.Verify(name, []byte(content), sum)
	require.NoError(t, err)
	return b
}

func rules(t *testing.T) *classify.RuleSet {
	t.Helper()
	rs, err := classify.Default()
	require.NoError(t, err)
	return rs
}

var (
	windowStart = ts("2024-05-01 09:00:00")
	windowEnd   = ts("2024-05-01 11:00:00")
)

func sampleBundles(t *testing.T) []model.LogBundle {
	return []model.LogBundle{
		bundle(t, "dev1_BluetoothLog.txt",
			"2024-05-01 10:00:01 Bluetooth connected to: Pixel7 [AA:BB:CC:DD:EE:FF]; serverTimestamp: 2024-05-01 10:00:04\n"),
		bundle(t, "dev1_FileLog.txt",
			"2024-05-01 10:00:00 File Opened (file_opened): /sdcard/test.txt\n"+
				"2024-05-01 10:00:05 something unclassified happened\n"),
	}
}

func TestAssembleVerifiedReport(t *testing.T) {
	a, err := NewAssembler(&fakeReader{bundles: sampleBundles(t)}, rules(t))
	require.NoError(t, err)

	r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)

	assert.True(t, r.Hash.Verified)
	assert.Equal(t, 2, r.Bundles)
	assert.Len(t, r.Hash.Groups, 2)
	assert.Equal(t, []string{successNarrative}, r.Hash.Narrative)

	require.Len(t, r.Categories, 2)
	assert.Equal(t, "BluetoothLog", r.Categories[0].Category, "display order puts Bluetooth before File")
	assert.Equal(t, "connect Bluetooth", r.Categories[0].Events[0].Label)
	assert.Equal(t, "FileLog", r.Categories[1].Category)
	assert.Equal(t, "File Opened", r.Categories[1].Events[0].Label)

	require.Len(t, r.Timeline, 3)
	assert.Equal(t, ts("2024-05-01 10:00:00"), r.Timeline[0].DeviceTime)
	assert.Equal(t, "FileLog", r.Timeline[0].Category)
	assert.Equal(t, ts("2024-05-01 10:00:01"), r.Timeline[1].DeviceTime)
	assert.Equal(t, "2024-05-01 10:00:04", r.Timeline[1].Estimated.String())
	assert.Equal(t, "2024-05-01 10:00:05", r.Timeline[2].Estimated.String())
}

func TestAssembleMismatchIsWarningOnly(t *testing.T) {
	bundles := sampleBundles(t)
	bundles[1].Messages[0].Content = "File Opened (file_opened): /sdcard/forged.txt"

	a, err := NewAssembler(&fakeReader{bundles: bundles}, rules(t))
	require.NoError(t, err)

	r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)

	assert.False(t, r.Hash.Verified)
	assert.Empty(t, r.Categories)
	assert.Empty(t, r.Timeline)
	require.Len(t, r.Hash.Narrative, 2)
	assert.True(t, strings.HasPrefix(r.Hash.Narrative[0], "[Warning] Hash mismatch! Expected: "+bundles[1].Digest))
	assert.Equal(t, failureNarrative, r.Hash.Narrative[1])
}

func TestAssembleReverifiesEveryBundleInGroup(t *testing.T) {
	first := bundle(t, "dev1_FileLog.txt", "2024-05-01 10:00:00 File Created: /sdcard/a\n")
	second := first
	second.Messages = []model.Message{{Content: "File Deleted: /sdcard/a", DeviceTime: ts("2024-05-01 10:00:00")}}

	a, err := NewAssembler(&fakeReader{bundles: []model.LogBundle{first, second}}, rules(t))
	require.NoError(t, err)

	r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, r.Hash.Groups, 1)
	assert.Equal(t, 2, r.Hash.Groups[0].Bundles)
	assert.False(t, r.Hash.Verified)
}

func TestAssembleOmitsCategoriesWithoutOccurrences(t *testing.T) {
	bundles := []model.LogBundle{
		bundle(t, "dev1_CallingLog.txt", "2024-05-01 10:00:00 phone state idle\n"),
		bundle(t, "dev1_MessageLog.txt", "2024-05-01 10:00:02 SMS Sent to: 010-1234\n"),
	}
	a, err := NewAssembler(&fakeReader{bundles: bundles}, rules(t))
	require.NoError(t, err)

	r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)
	require.Len(t, r.Categories, 1)
	assert.Equal(t, "MessageLog", r.Categories[0].Category)
	assert.Len(t, r.Timeline, 2, "unclassified messages still appear on the timeline")
}

func TestAssembleValidatesWindow(t *testing.T) {
	a, err := NewAssembler(&fakeReader{}, rules(t))
	require.NoError(t, err)

	_, err = a.Assemble(context.Background(), "dev1", windowEnd, windowStart)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindValidation))
}

func TestAssembleStoreFailure(t *testing.T) {
	a, err := NewAssembler(&fakeReader{err: errors.New("db closed")}, rules(t))
	require.NoError(t, err)

	_, err = a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindTransient))
}

func TestReconstructionDirHoldsRehashedText(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reconstructed")
	bundles := sampleBundles(t)
	a, err := NewAssembler(&fakeReader{bundles: bundles}, rules(t), WithReconstructionDir(dir))
	require.NoError(t, err)

	r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)
	assert.True(t, r.Hash.Verified)

	for _, b := range bundles {
		data, err := os.ReadFile(filepath.Join(dir, "logs_"+b.Digest+".txt"))
		require.NoError(t, err)
		assert.Equal(t, string(ingest.Reconstruct(b)), string(data))
	}
}

func TestConcurrentReportsShareReconstructionDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reconstructed")
	a, err := NewAssembler(&fakeReader{bundles: sampleBundles(t)}, rules(t), WithReconstructionDir(dir))
	require.NoError(t, err)

	const n = 16
	verified := make([]bool, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := a.Assemble(context.Background(), "dev1", windowStart, windowEnd)
			errs[i] = err
			if err == nil {
				verified[i] = r.Hash.Verified
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, verified[i], "report %d", i)
	}
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestGenerateWritesTextReport(t *testing.T) {
	sink, err := NewDirSink(t.TempDir(), TextRenderer{})
	require.NoError(t, err)
	a, err := NewAssembler(&fakeReader{bundles: sampleBundles(t)}, rules(t), WithSink(sink))
	require.NoError(t, err)

	_, path, err := a.Generate(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)
	assert.Equal(t, "report_dev1_20240501T090000_20240501T110000.txt", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Device Log Report: dev1")
	assert.Contains(t, text, "Duration: 2024-05-01 09:00:00 ~ 2024-05-01 11:00:00")
	assert.Contains(t, text, successNarrative)
	assert.Contains(t, text, "Event Type")
	assert.Contains(t, text, "connect Bluetooth")
	assert.Contains(t, text, "Reconstructing Timeline")
	assert.Contains(t, text, "2024-05-01 10:00:01 -> 2024-05-01 10:00:04")
	assert.NotContains(t, text, "\x1b[", "files carry no terminal escapes")
}

func TestGenerateWritesYAMLReport(t *testing.T) {
	sink, err := NewDirSink(t.TempDir(), YAMLRenderer{})
	require.NoError(t, err)
	a, err := NewAssembler(&fakeReader{bundles: sampleBundles(t)}, rules(t), WithSink(sink))
	require.NoError(t, err)

	_, path, err := a.Generate(context.Background(), "dev1", windowStart, windowEnd)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc Document
	require.NoError(t, yaml.Unmarshal(data, &doc))
	assert.True(t, doc.Verified)
	assert.Len(t, doc.Categories, 2)
	require.Len(t, doc.Timeline, 3)
	assert.Equal(t, "2024-05-01 10:00:00", doc.Timeline[0].DeviceTime)
}

func TestGenerateSinkFailureIsFatal(t *testing.T) {
	a, err := NewAssembler(&fakeReader{bundles: sampleBundles(t)}, rules(t), WithSink(failingSink{}))
	require.NoError(t, err)

	_, _, err = a.Generate(context.Background(), "dev1", windowStart, windowEnd)
	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.KindFatal))
}

func TestTimelineTiesKeepRetrievalOrder(t *testing.T) {
	b := model.LogBundle{Category: "FileLog", Messages: []model.Message{
		{Content: "second", DeviceTime: ts("2024-05-01 10:00:01")},
		{Content: "tie-a", DeviceTime: ts("2024-05-01 10:00:00")},
		{Content: "tie-b", DeviceTime: ts("2024-05-01 10:00:00")},
	}}
	entries := Timeline([]model.LogBundle{b})
	require.Len(t, entries, 3)
	assert.Equal(t, "tie-a", entries[0].Content)
	assert.Equal(t, "tie-b", entries[1].Content)
	assert.Equal(t, "second", entries[2].Content)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, "short", wrap("short", 65))
	assert.Equal(t, "abc\ndef\ng", wrap("abcdefg", 3))
}

func TestNewRenderer(t *testing.T) {
	r, err := NewRenderer("YAML")
	require.NoError(t, err)
	assert.Equal(t, "yaml", r.Ext())
	_, err = NewRenderer("pdf")
	assert.Error(t, err)
}

package classify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tracevault/internal/model"
)

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 10, 0, sec, 0, time.UTC)
}

func TestDefaultRuleSet(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)
	assert.Equal(t, model.Categories, rs.Categories())
	assert.Positive(t, rs.Version)

	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, rs, again, "built-in rules are parsed once")
}

func TestClassifyBluetoothConnect(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	rule, ok := rs.Classify("BluetoothLog", "Bluetooth connected to: Pixel7 [AA:BB:CC:DD:EE:FF]")
	require.True(t, ok)
	assert.Equal(t, "Bluetooth connected to:", rule.Keyword)
	assert.Equal(t, "connect Bluetooth", rule.Label)
}

func TestClassifyIgnoresCase(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	rule, ok := rs.Classify("FileLog", "file created: /sdcard/DCIM/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "File Created", rule.Label)

	rule, ok = rs.Classify("CallingLog", "START AN OUTGOING CALL 010-1234")
	require.True(t, ok)
	assert.Equal(t, "start an outgoing call", rule.Label)
}

func TestClassifyNoMatch(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	_, ok := rs.Classify("BluetoothLog", "Wifi connected")
	assert.False(t, ok)
	_, ok = rs.Classify("UnknownLog", "File Created")
	assert.False(t, ok)
}

func TestEventsRetainsAllMatchesChronologically(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	msgs := []model.Message{
		{Content: "SMS Received from: 010-2", DeviceTime: at(30)},
		{Content: "SMS Sent to: 010-1", DeviceTime: at(10)},
		{Content: "SMS Received from: 010-3", DeviceTime: at(5)},
		{Content: "unrelated", DeviceTime: at(1)},
	}
	events := rs.Events("MessageLog", msgs)
	require.Len(t, events, 2)

	assert.Equal(t, "SMS Sent to:", events[0].Keyword)
	assert.Equal(t, []string{"SMS Sent to: 010-1"}, events[0].Matches)

	assert.Equal(t, "SMS Received from:", events[1].Keyword)
	assert.Equal(t, "send/receive SMS", events[1].Label)
	assert.Equal(t, []string{"SMS Received from: 010-3", "SMS Received from: 010-2"}, events[1].Matches)
	assert.Equal(t, []time.Time{at(5), at(30)}, events[1].Occurrences)

	assert.Equal(t, "SMS Received from: 010-2", msgs[0].Content, "input is not reordered")
}

func TestEventsMessageCountsForFirstRuleOnly(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	events := rs.Events("FileLog", []model.Message{
		{Content: "File Name (DISPLAY_NAME): a.jpg Relative Path: DCIM/", DeviceTime: at(1)},
	})
	require.Len(t, events, 1)
	assert.Equal(t, "File Name (DISPLAY_NAME)", events[0].Keyword)
}

func TestEventsNoOccurrencesYieldsNothing(t *testing.T) {
	rs, err := Default()
	require.NoError(t, err)

	assert.Empty(t, rs.Events("CallingLog", []model.Message{{Content: "nothing here", DeviceTime: at(1)}}))
	assert.Empty(t, rs.Events("CallingLog", nil))
}

func TestParseRejectsBadDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":       "version: 1\ncategories: []\n",
		"no keyword":  "version: 1\ncategories:\n  - name: X\n    rules:\n      - {label: a}\n",
		"duplicate":   "version: 1\ncategories:\n  - name: X\n  - name: X\n",
		"unknown key": "version: 1\ncategories:\n  - name: X\n    colour: red\n",
	} {
		_, err := Parse(strings.NewReader(doc))
		assert.Error(t, err, name)
	}
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	doc := "version: 9\ncategories:\n  - name: CallingLog\n    rules:\n      - {label: dialed, keyword: \"dial:\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	rs, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, rs.Version)
	assert.Equal(t, []string{"CallingLog"}, rs.Categories())

	rule, ok := rs.Classify("CallingLog", "DIAL: 112")
	require.True(t, ok)
	assert.Equal(t, "dialed", rule.Label)

	def, err := Load("")
	require.NoError(t, err)
	assert.Len(t, def.Categories(), len(model.Categories))
}

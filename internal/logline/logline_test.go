package logline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(model.TimeLayout, s)
	require.NoError(t, err)
	return ts
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		line        string
		wantOK      bool
		wantContent string
		wantDevice  string
		wantRef     string
	}{
		{
			name:        "plain content",
			line:        "2024-05-01 10:00:00 File Opened (file_opened): /sdcard/test.txt",
			wantOK:      true,
			wantContent: "File Opened (file_opened): /sdcard/test.txt",
			wantDevice:  "2024-05-01 10:00:00",
		},
		{
			name:        "reference suffix",
			line:        "2024-05-01 10:00:00 SMS Sent to: 010-1234; serverTimestamp: 2024-05-01 10:00:07",
			wantOK:      true,
			wantContent: "SMS Sent to: 010-1234",
			wantDevice:  "2024-05-01 10:00:00",
			wantRef:     "2024-05-01 10:00:07",
		},
		{
			name:        "spaced reference suffix",
			line:        "2024-05-01 10:00:00 start an outgoing call ; serverTimestamp: 2024-05-01 09:59:58",
			wantOK:      true,
			wantContent: "start an outgoing call",
			wantDevice:  "2024-05-01 10:00:00",
			wantRef:     "2024-05-01 09:59:58",
		},
		{
			name:        "content keeps inner spacing",
			line:        "2024-05-01 10:00:00 Text:  OK  button",
			wantOK:      true,
			wantContent: "Text:  OK  button",
			wantDevice:  "2024-05-01 10:00:00",
		},
		{
			name:        "trailing carriage return",
			line:        "2024-05-01 10:00:00 Bluetooth connected to: Pixel7\r",
			wantOK:      true,
			wantContent: "Bluetooth connected to: Pixel7",
			wantDevice:  "2024-05-01 10:00:00",
		},
		{name: "two tokens skipped", line: "2024-05-01 10:00:00", wantOK: false},
		{name: "empty skipped", line: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantContent, msg.Content)
			assert.Equal(t, mustTime(t, tt.wantDevice), msg.DeviceTime)
			if tt.wantRef == "" {
				assert.Nil(t, msg.ReferenceTime)
				return
			}
			require.NotNil(t, msg.ReferenceTime)
			assert.Equal(t, mustTime(t, tt.wantRef), *msg.ReferenceTime)
		})
	}
}

func TestParseMalformedTimestamp(t *testing.T) {
	for _, line := range []string{
		"2024/05/01 10:00:00 File Created",
		"yesterday at noon File Created",
		"2024-13-01 10:00:00 File Created",
	} {
		_, ok, err := Parse(line)
		assert.False(t, ok, line)
		require.Error(t, err, line)
		assert.True(t, errors.Is(err, faults.ErrMalformedTimestamp), line)
		assert.True(t, faults.Is(err, faults.KindValidation), line)
	}
}

func TestRoundTrip(t *testing.T) {
	lines := []string{
		"2024-05-01 10:00:00 File Opened (file_opened): /sdcard/test.txt",
		"2024-05-01 10:00:01 SMS Received from: 010-9876; serverTimestamp: 2024-05-01 10:00:03",
		"2024-05-01 10:00:02 Device Shutdown or Reboot Detected.",
	}
	for _, line := range lines {
		msg, ok, err := Parse(line)
		require.NoError(t, err)
		require.True(t, ok)

		formatted := Format(msg)
		assert.Equal(t, line, formatted)

		again, ok, err := Parse(formatted)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, msg, again)
	}
}

func TestParseAll(t *testing.T) {
	msgs, err := ParseAll([]string{
		"2024-05-01 10:00:00 start an incoming call",
		"garbage",
		"2024-05-01 10:00:05 Termination of the call",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Termination of the call", msgs[1].Content)
}

func TestParseAllNoValidMessages(t *testing.T) {
	_, err := ParseAll([]string{"junk", "two tokens", ""})
	require.Error(t, err)
	assert.True(t, errors.Is(err, faults.ErrNoValidMessages))
}

func TestParseAllStopsOnMalformedTimestamp(t *testing.T) {
	_, err := ParseAll([]string{
		"2024-05-01 10:00:00 ok",
		"2024-05-01 25:61:00 broken",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	assert.True(t, errors.Is(err, faults.ErrMalformedTimestamp))
}

func TestSplit(t *testing.T) {
	assert.Nil(t, Split(""))
	assert.Equal(t, []string{"a", "b"}, Split("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, Split("a\nb"))
	assert.Equal(t, []string{"a", ""}, Split("a\n\n"))
}

func TestStamp(t *testing.T) {
	device := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	ref := mustTime(t, "2024-05-01 10:00:04")

	assert.Equal(t,
		"2024-05-01 10:00:00 Clipboard: two lines; serverTimestamp: 2024-05-01 10:00:04",
		Stamp(device, " Clipboard: two\nlines ", &ref))
	assert.Equal(t, "2024-05-01 10:00:00 File Deleted", Stamp(device, "File Deleted", nil))
}

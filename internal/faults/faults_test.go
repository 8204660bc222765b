package faults

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	base := Integrity("ingest", ErrDigestMismatch, "expected abc").WithPair("dev1", "FileLog")
	wrapped := fmt.Errorf("upload: %w", base)

	assert.Equal(t, KindIntegrity, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindIntegrity))
	assert.False(t, Is(wrapped, KindValidation))
	assert.True(t, errors.Is(wrapped, ErrDigestMismatch))
}

func TestKindOfUnclassifiedIsFatal(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	err := Validation("parse", ErrMalformedTimestamp, "line 3").WithPair("dev1", "CallingLog")
	assert.Equal(t, "parse: [dev1/CallingLog] line 3: malformed timestamp", err.Error())

	bare := Transient("transmit", errors.New("connection refused"))
	assert.Equal(t, "transmit: connection refused", bare.Error())
}

func TestWithPairDoesNotMutate(t *testing.T) {
	base := Validation("ingest", ErrEmptyLog, "")
	_ = base.WithPair("dev1", "FileLog")
	assert.Empty(t, base.DeviceID)
}

func TestLogRejectionWritesAuditFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	LogRejection(logger, Validation("ingest", ErrMalformedFilename, "bad.txt").WithPair("dev9", "MessageLog"))

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"device_id":"dev9"`)
	assert.Contains(t, out, `"category":"MessageLog"`)
	assert.Contains(t, out, `"kind":"validation"`)
	assert.Contains(t, out, `"reason":"bad.txt"`)
}

package artifact

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/model"
)

func TestNames(t *testing.T) {
	p := model.Pair{DeviceID: "a1b2c3", Category: "FileLog"}
	assert.Equal(t, "a1b2c3_FileLog.txt", LogName(p))
	assert.Equal(t, "a1b2c3_FileLog_hash.txt", HashName(p))

	logPath, hashPath := Paths("/spool", p)
	assert.Equal(t, filepath.Join("/spool", "a1b2c3_FileLog.txt"), logPath)
	assert.Equal(t, filepath.Join("/spool", "a1b2c3_FileLog_hash.txt"), hashPath)
}

func TestParseName(t *testing.T) {
	p, err := ParseName("a1b2c3_CallingLog.txt")
	require.NoError(t, err)
	assert.Equal(t, model.Pair{DeviceID: "a1b2c3", Category: "CallingLog"}, p)

	p, err = ParseName("/tmp/upload/a1b2c3_MessageLog.txt")
	require.NoError(t, err)
	assert.Equal(t, "MessageLog", p.Category)
}

func TestParseNameRejects(t *testing.T) {
	for _, name := range []string{
		"a1b2c3_CallingLog.log",
		"a1b2c3CallingLog.txt",
		"_CallingLog.txt",
		"a1b2c3_.txt",
		"a1b2c3_CallingLog_hash.txt",
		"a1b2c3_Calling_Log.txt",
		"",
	} {
		_, err := ParseName(name)
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, faults.ErrMalformedFilename), name)
		assert.True(t, faults.Is(err, faults.KindValidation), name)
	}
}

func TestValidatePair(t *testing.T) {
	assert.NoError(t, ValidatePair(model.Pair{DeviceID: "dev", Category: "FileLog"}))
	assert.Error(t, ValidatePair(model.Pair{DeviceID: "dev_1", Category: "FileLog"}))
	assert.Error(t, ValidatePair(model.Pair{DeviceID: "dev", Category: ""}))
	assert.Error(t, ValidatePair(model.Pair{DeviceID: "../x", Category: "FileLog"}))
}

package companion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tracevault/internal/model"
)

const sumA = "7e2981e4829aab5f670b1f670031958bae2dd67d9f507a2e046bc3b2186fcc5a"

func TestWriteReadOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev_FileLog_hash.txt")

	require.NoError(t, Write(path, "first", 0))
	require.NoError(t, Write(path, sumA, 0o444))

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, sumA, got)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sumA+"\n", string(data), "companion must hold exactly one digest")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o444), info.Mode().Perm())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestParse(t *testing.T) {
	got, err := Parse([]byte("  " + sumA + "  \nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, sumA, got)

	_, err = Parse([]byte("\n"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(filepath.Join(t.TempDir(), "live"))
	require.NoError(t, err)
	p := model.Pair{DeviceID: "dev1", Category: "BluetoothLog"}

	ok, err := reg.Matches(p, sumA)
	require.NoError(t, err)
	assert.False(t, ok, "nothing published yet")

	require.NoError(t, reg.Publish(p, strings.ToUpper(sumA)))

	ok, err = reg.Matches(p, sumA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Matches(p, strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)

	live, found, err := reg.Live(p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sumA, live)
}

func TestRegistryRejectsPathTraversal(t *testing.T) {
	reg, err := NewRegistry(t.TempDir())
	require.NoError(t, err)
	_, err = reg.Matches(model.Pair{DeviceID: "../etc", Category: "FileLog"}, sumA)
	assert.Error(t, err)
}

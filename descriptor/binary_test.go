package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadBinaryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descs.bin")

	descs := []Descriptor{
		make(Descriptor, 8),
		make(Descriptor, 8),
	}
	for i := range descs[0] {
		descs[0][i] = byte(i)
		descs[1][i] = byte(i * 2)
	}

	require.NoError(t, WriteBinary(path, 8, descs))

	got, err := ReadBinary(path, 8)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, descs[0], got[0])
	assert.Equal(t, descs[1], got[1])
}

func TestReadBinaryTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "descs.bin")
	require.NoError(t, WriteBinary(path, 8, []Descriptor{make(Descriptor, 8)}))

	// Corrupt by truncating the file.
	require.NoError(t, os.Truncate(path, 6))

	_, err := ReadBinary(path, 8)
	require.Error(t, err)
}

package descriptor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleKeyFileText(n int) string {
	var sb strings.Builder
	sb.WriteString("2 128\n")
	for i := 0; i < 2; i++ {
		sb.WriteString("1.0 2.0 1.5 0.0\n")
		for j := 0; j < 128; j++ {
			if j > 0 && j%20 == 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("10 ")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestParseKeyFile(t *testing.T) {
	kf, err := parseKeyFile(strings.NewReader(sampleKeyFileText(2)))
	require.NoError(t, err)
	assert.Equal(t, 128, kf.Dim)
	assert.Len(t, kf.Keypoints, 2)
	assert.Len(t, kf.Descriptors, 2)
	assert.Equal(t, 1.5, kf.Keypoints[0].Scale)
	assert.Equal(t, byte(10), kf.Descriptors[0][0])
}

func TestParseKeyFileBadDim(t *testing.T) {
	_, err := parseKeyFile(strings.NewReader("1 64\n0 0 0 0\n"))
	require.Error(t, err)
}

func TestReadKeyFileGzipFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img1.key")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleKeyFileText(2)))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path+".gz", buf.Bytes(), 0o644))

	kf, err := ReadKeyFile(path)
	require.NoError(t, err)
	assert.Len(t, kf.Descriptors, 2)
}

func TestKeyFileFiltered(t *testing.T) {
	kf := &KeyFile{
		Dim: 1,
		Keypoints: []Keypoint{
			{Scale: 0.5}, {Scale: 2.0}, {Scale: 1.4},
		},
		Descriptors: []Descriptor{{1}, {2}, {3}},
	}
	got := kf.Filtered(1.4)
	require.Len(t, got, 2)
	assert.Equal(t, Descriptor{2}, got[0])
	assert.Equal(t, Descriptor{3}, got[1])

	assert.Equal(t, kf.Descriptors, kf.Filtered(0))
}

func TestReadListSkipsBlankAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.in")
	content := "# comment\n\nimg1.key\n5 img2.key\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	entries, err := ReadList(path)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "img1.key", entries[0].Path)
	assert.False(t, entries[0].HasID)
	assert.Equal(t, "img2.key", entries[1].Path)
	assert.True(t, entries[1].HasID)
	assert.Equal(t, 5, entries[1].ID)
}

package vocabtree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborimage/vocabtree/descriptor"
)

func TestWriteReadRoundTrip(t *testing.T) {
	tree := buildSimpleTree(t, DistanceDot)
	descs := []descriptor.Descriptor{filled(4, 0), filled(4, 1), filled(4, 7)}
	_, err := tree.AddImage(0, descs)
	require.NoError(t, err)
	require.NoError(t, tree.ComputeTFIDFWeights(1))
	require.NoError(t, tree.Normalize(0, 1))

	path := filepath.Join(t.TempDir(), "tree.bin")
	require.NoError(t, tree.Write(path))

	loaded, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, tree.BranchFactor, loaded.BranchFactor)
	assert.Equal(t, tree.Depth, loaded.Depth)
	assert.Equal(t, tree.Dim, loaded.Dim)
	assert.Equal(t, tree.DistanceType, loaded.DistanceType)
	assert.Equal(t, tree.State, loaded.State)
	assert.Equal(t, tree.NumImages, loaded.NumImages)
	require.Equal(t, len(tree.Nodes), len(loaded.Nodes))

	for i := range tree.Nodes {
		assert.Equal(t, tree.Nodes[i].Tag, loaded.Nodes[i].Tag)
		assert.Equal(t, tree.Nodes[i].Centroid, loaded.Nodes[i].Centroid)
		assert.Equal(t, tree.Nodes[i].Postings, loaded.Nodes[i].Postings)
	}

	before, err := tree.ScoreQuery(descs, true)
	require.NoError(t, err)
	after, err := loaded.ScoreQuery(descs, true)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReadRejectsCorruptedFile(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	path := filepath.Join(t.TempDir(), "tree.bin")
	require.NoError(t, tree.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[10] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = Read(path)
	assert.Error(t, err)
}

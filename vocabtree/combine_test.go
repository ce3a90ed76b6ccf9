package vocabtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborimage/vocabtree/descriptor"
)

func TestCombineMergesPostings(t *testing.T) {
	a := buildSimpleTree(t, DistanceMin)
	_, err := a.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)

	b := buildSimpleTree(t, DistanceMin)
	_, err = b.AddImage(0, []descriptor.Descriptor{filled(4, 7)})
	require.NoError(t, err)

	require.NoError(t, a.Combine(b))
	assert.Equal(t, 2, a.NumImages)

	var total int
	for _, n := range a.Nodes {
		if n.Tag == TagLeaf {
			total += len(n.Postings)
		}
	}
	assert.Equal(t, 2, total)
}

func TestCombineRejectsTopologyMismatch(t *testing.T) {
	a := buildSimpleTree(t, DistanceMin)
	var descs []descriptor.Descriptor
	for v := byte(0); v < 16; v++ {
		descs = append(descs, filled(4, v*16))
	}
	store, handles := storeOf(t, 4, descs)
	b, err := Build(4, 2, 2, 2, store, handles, BuildOptions{})
	require.NoError(t, err)

	err = a.Combine(b)
	assert.Error(t, err)
}

func TestCombineRejectsWhenNotPending(t *testing.T) {
	a := buildSimpleTree(t, DistanceMin)
	_, err := a.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)
	require.NoError(t, a.ComputeTFIDFWeights(1))

	b := buildSimpleTree(t, DistanceMin)
	err = a.Combine(b)
	assert.Error(t, err)
}

package vocabtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborimage/vocabtree/descriptor"
)

func filled(dim int, v byte) descriptor.Descriptor {
	d := make(descriptor.Descriptor, dim)
	for i := range d {
		d[i] = v
	}
	return d
}

// storeOf appends every descriptor to a fresh Store and returns it
// alongside a handle to each, in the same order.
func storeOf(t *testing.T, dim int, descs []descriptor.Descriptor) (*descriptor.Store, []descriptor.Handle) {
	t.Helper()
	store := descriptor.NewStore(dim)
	handles := make([]descriptor.Handle, len(descs))
	for i, d := range descs {
		h, err := store.Append(d)
		require.NoError(t, err)
		handles[i] = h
	}
	return store, handles
}

// scenario 1 from the testable-properties end-to-end list: 8 descriptors of
// dim=4 {(0,0,0,0)...(7,7,7,7)}, depth=1, bf=2, R=1 should produce two
// leaves, one holding {0-3} and the other {4-7}, and a new descriptor
// (3,3,3,3) should route to the first leaf.
func TestBuildTwoLeafSplit(t *testing.T) {
	var descs []descriptor.Descriptor
	for v := byte(0); v < 8; v++ {
		descs = append(descs, filled(4, v))
	}
	store, handles := storeOf(t, 4, descs)

	tree, err := Build(4, 1, 2, 1, store, handles, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, 3, tree.CountNodes()) // root + 2 leaves
	assert.Equal(t, 2, tree.CountLeaves())

	leafOf := func(d descriptor.Descriptor) int { return tree.route(d) }

	lowLeaf := leafOf(filled(4, 0))
	highLeaf := leafOf(filled(4, 7))
	assert.NotEqual(t, lowLeaf, highLeaf)

	for v := byte(0); v < 4; v++ {
		assert.Equal(t, lowLeaf, leafOf(filled(4, v)))
	}
	for v := byte(4); v < 8; v++ {
		assert.Equal(t, highLeaf, leafOf(filled(4, v)))
	}

	assert.Equal(t, lowLeaf, leafOf(filled(4, 3)))
}

func TestBuildRejectsTooFewDescriptors(t *testing.T) {
	store, handles := storeOf(t, 4, []descriptor.Descriptor{filled(4, 0), filled(4, 1)})
	_, err := Build(4, 1, 4, 1, store, handles, BuildOptions{})
	require.Error(t, err)
}

func TestBuildRoutingIsTotal(t *testing.T) {
	var descs []descriptor.Descriptor
	for v := byte(0); v < 16; v++ {
		descs = append(descs, filled(4, v*16))
	}
	store, handles := storeOf(t, 4, descs)
	tree, err := Build(4, 2, 2, 2, store, handles, BuildOptions{})
	require.NoError(t, err)

	for v := byte(0); v < 16; v++ {
		leaf := tree.route(filled(4, v*16))
		assert.Equal(t, TagLeaf, tree.Nodes[leaf].Tag)
	}
}

func TestBuildWithNilHandlesUsesWholeStore(t *testing.T) {
	var descs []descriptor.Descriptor
	for v := byte(0); v < 8; v++ {
		descs = append(descs, filled(4, v))
	}
	store, _ := storeOf(t, 4, descs)

	tree, err := Build(4, 1, 2, 1, store, nil, BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, tree.CountLeaves())
}

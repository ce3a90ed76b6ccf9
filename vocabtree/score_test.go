package vocabtree

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arborimage/vocabtree/descriptor"
)

func buildSimpleTree(t *testing.T, dtype DistanceType) *Tree {
	t.Helper()
	var descs []descriptor.Descriptor
	for v := byte(0); v < 8; v++ {
		descs = append(descs, filled(4, v))
	}
	store, handles := storeOf(t, 4, descs)
	tree, err := Build(4, 1, 2, 1, store, handles, BuildOptions{})
	require.NoError(t, err)
	tree.DistanceType = dtype
	return tree
}

func TestAddImageRejectsNonAscendingIDs(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	_, err := tree.AddImage(5, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)

	_, err = tree.AddImage(5, []descriptor.Descriptor{filled(4, 1)})
	assert.Error(t, err)

	_, err = tree.AddImage(4, []descriptor.Descriptor{filled(4, 1)})
	assert.Error(t, err)
}

func TestAddImageRejectsWhenNotPending(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)
	require.NoError(t, tree.ComputeTFIDFWeights(1))

	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 0)})
	assert.Error(t, err)
}

func TestComputeTFIDFWeightsIsOneShot(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)
	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 7)})
	require.NoError(t, err)

	require.NoError(t, tree.ComputeTFIDFWeights(2))
	assert.Equal(t, StateWeighted, tree.State)

	err = tree.ComputeTFIDFWeights(2)
	assert.Error(t, err)
}

// image 0 routes to the low leaf and images 1 and 2 to the high leaf, so the
// leaves have df 1 and 2; each leaf's weight must be ln(3/df), and 0 for a
// leaf that no image reaches.
func TestComputeTFIDFWeightsFormula(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	for id := uint32(0); id < 3; id++ {
		v := byte(0)
		if id == 1 {
			v = 7
		}
		if id == 2 {
			v = 7
		}
		_, err := tree.AddImage(id, []descriptor.Descriptor{filled(4, v)})
		require.NoError(t, err)
	}
	require.NoError(t, tree.ComputeTFIDFWeights(3))

	for _, n := range tree.Nodes {
		if n.Tag != TagLeaf {
			continue
		}
		df := len(n.Postings)
		if df == 0 {
			assert.Equal(t, float32(0), n.Weight)
			continue
		}
		want := float32(math.Log(3.0 / float64(df)))
		assert.InDelta(t, want, n.Weight, 1e-6)
	}
}

// scenario 3: DistanceMin normalization should leave each image's posting
// counts summing to 1 (L1 norm), per the post-Normalize invariant.
func TestNormalizeMinL1Invariant(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0), filled(4, 1), filled(4, 7)})
	require.NoError(t, err)
	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 2)})
	require.NoError(t, err)
	_, err = tree.AddImage(2, []descriptor.Descriptor{filled(4, 6)})
	require.NoError(t, err)

	require.NoError(t, tree.ComputeTFIDFWeights(3))
	require.NoError(t, tree.Normalize(0, 3))
	assert.Equal(t, StateNormalized, tree.State)

	sums := map[uint32]float64{}
	for _, n := range tree.Nodes {
		if n.Tag != TagLeaf {
			continue
		}
		for _, e := range n.Postings {
			sums[e.ImageID] += float64(e.Count)
		}
	}
	for id, sum := range sums {
		assert.InDeltaf(t, 1.0, sum, 1e-5, "image %d L1 sum", id)
	}
}

// scenario 3b: DistanceDot normalization should leave each image's posting
// counts with sum-of-squares 1 (L2 norm).
func TestNormalizeDotL2Invariant(t *testing.T) {
	tree := buildSimpleTree(t, DistanceDot)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0), filled(4, 1), filled(4, 7)})
	require.NoError(t, err)
	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 2)})
	require.NoError(t, err)
	_, err = tree.AddImage(2, []descriptor.Descriptor{filled(4, 6)})
	require.NoError(t, err)

	require.NoError(t, tree.ComputeTFIDFWeights(3))
	require.NoError(t, tree.Normalize(0, 3))

	sumsq := map[uint32]float64{}
	for _, n := range tree.Nodes {
		if n.Tag != TagLeaf {
			continue
		}
		for _, e := range n.Postings {
			sumsq[e.ImageID] += float64(e.Count) * float64(e.Count)
		}
	}
	for id, sq := range sumsq {
		assert.InDeltaf(t, 1.0, sq, 1e-5, "image %d L2 sum-of-squares", id)
	}
}

// scenario 4: identical database and query images under DistanceMin should
// score as their own self-similarity, i.e. a perfect match against itself.
// A second image is added because in a one-image database every leaf gets
// the TF-IDF weight ln(1/1) = 0, leaving nothing to score.
func TestScoreQuerySelfRetrievalMin(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	descs := []descriptor.Descriptor{filled(4, 0), filled(4, 1), filled(4, 6), filled(4, 7)}
	_, err := tree.AddImage(0, descs)
	require.NoError(t, err)
	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 7)})
	require.NoError(t, err)
	require.NoError(t, tree.ComputeTFIDFWeights(2))
	require.NoError(t, tree.Normalize(0, 2))

	scores, err := tree.ScoreQuery(descs, true)
	require.NoError(t, err)
	require.Contains(t, scores, uint32(0))
	assert.InDelta(t, 1.0, scores[0], 1e-5)
}

// scenario 5: two images whose descriptors route to disjoint leaf sets
// should score 0 against each other under DistanceDot (orthogonal vectors).
func TestScoreQueryOrthogonalImagesScoreZero(t *testing.T) {
	tree := buildSimpleTree(t, DistanceDot)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0), filled(4, 1)})
	require.NoError(t, err)
	_, err = tree.AddImage(1, []descriptor.Descriptor{filled(4, 6), filled(4, 7)})
	require.NoError(t, err)
	require.NoError(t, tree.ComputeTFIDFWeights(2))
	require.NoError(t, tree.Normalize(0, 2))

	scores, err := tree.ScoreQuery([]descriptor.Descriptor{filled(4, 6), filled(4, 7)}, true)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, scores[0], 1e-9)
	assert.InDelta(t, 1.0, scores[1], 1e-5)
}

func TestClearDatabaseResetsLifecycle(t *testing.T) {
	tree := buildSimpleTree(t, DistanceMin)
	_, err := tree.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	require.NoError(t, err)
	require.NoError(t, tree.ComputeTFIDFWeights(1))
	require.NoError(t, tree.Normalize(0, 1))

	tree.ClearDatabase()
	assert.Equal(t, StatePending, tree.State)
	assert.Equal(t, 0, tree.NumImages)
	assert.Equal(t, float64(0), tree.CountFeatures())

	_, err = tree.AddImage(0, []descriptor.Descriptor{filled(4, 0)})
	assert.NoError(t, err)
}

package vocabtree

import (
	"github.com/arborimage/vocabtree/cluster"
	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/internal/verr"
)

// BuildOptions tunes the clustering performed at each interior node during
// Build. The zero value selects the Clusterer package's own defaults.
type BuildOptions struct {
	VisitBudget int
	ErrBound    float64
	MaxRounds   int
}

// Build recursively partitions the descriptors named by handles — resolved
// against store, which keeps them valid for the duration of the call —
// into a hierarchical k-means vocabulary tree of the given depth and
// branching factor, using restarts independent clustering attempts at
// every interior node. The returned tree has populated centroids and
// empty posting lists (State Pending); nothing has been added to its
// database yet. A nil handles partitions every descriptor currently in
// store.
func Build(dim, depth, bf, restarts int, store *descriptor.Store, handles []descriptor.Handle, opts BuildOptions) (*Tree, error) {
	if dim <= 0 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Build", "dim must be positive")
	}
	if bf < 2 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Build", "branching factor must be at least 2")
	}
	if depth < 1 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Build", "depth must be at least 1")
	}
	if handles == nil {
		handles = store.Handles()
	}
	if len(handles) < bf {
		return nil, verr.Newf(verr.InvalidInput, "vocabtree.Build",
			"need at least bf=%d descriptors to form the root split, got %d", bf, len(handles))
	}
	if store.Dim() != dim {
		return nil, verr.Newf(verr.InvalidInput, "vocabtree.Build", "store dim %d does not match dim %d", store.Dim(), dim)
	}

	t := newTree(dim, depth, bf, DistanceMin)
	cl := &cluster.Clusterer{
		VisitBudget: opts.VisitBudget,
		ErrBound:    opts.ErrBound,
		MaxRounds:   opts.MaxRounds,
	}

	b := &builder{tree: t, store: store, cl: cl, bf: bf, depth: depth, restarts: restarts}
	root, err := b.buildInterior(handles, 0)
	if err != nil {
		return nil, err
	}
	if root != 0 {
		return nil, verr.New(verr.InvalidInput, "vocabtree.Build", "root node did not land at arena index 0")
	}
	return t, nil
}

type builder struct {
	tree     *Tree
	store    *descriptor.Store
	cl       *cluster.Clusterer
	bf       int
	depth    int
	restarts int
}

// buildInterior clusters the descriptors named by handles into b.bf groups
// and recursively builds a child (interior or leaf) for each non-empty
// group, appending nodes to the tree's arena in DFS pre-order as it goes.
// Precondition: len(handles) >= b.bf, enforced by Build at the root and by
// the recursion guard below at every other level.
func (b *builder) buildInterior(handles []descriptor.Handle, depthCurr int) (int, error) {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{}) // placeholder, fixed up below

	result, err := b.cl.Cluster(b.store, handles, b.bf, b.restarts)
	if err != nil {
		return 0, err
	}

	buckets := make([][]descriptor.Handle, b.bf)
	for i, a := range result.Assignment {
		buckets[a] = append(buckets[a], handles[i])
	}

	children := make([]int32, b.bf)
	for c := 0; c < b.bf; c++ {
		if len(buckets[c]) == 0 {
			children[c] = -1
			continue
		}
		canRecurse := depthCurr+1 < b.depth && len(buckets[c]) >= b.bf
		var childIdx int
		if canRecurse {
			childIdx, err = b.buildInterior(buckets[c], depthCurr+1)
		} else {
			childIdx = b.appendLeaf(result.Means[c])
		}
		if err != nil {
			return 0, err
		}
		children[c] = int32(childIdx)
	}

	centroid := quantize(b.meanOf(handles))
	b.tree.Nodes[idx] = Node{
		Tag:      TagInterior,
		Centroid: centroid,
		ID:       uint64(idx),
		Children: children,
	}
	return idx, nil
}

func (b *builder) appendLeaf(mean []float64) int {
	idx := len(b.tree.Nodes)
	b.tree.Nodes = append(b.tree.Nodes, Node{
		Tag:      TagLeaf,
		Centroid: quantize(mean),
		ID:       uint64(idx),
		Weight:   1.0,
	})
	return idx
}

// meanOf resolves each handle against the store and averages the
// resulting descriptors component-wise.
func (b *builder) meanOf(handles []descriptor.Handle) []float64 {
	if len(handles) == 0 {
		return nil
	}
	mean := make([]float64, b.store.Dim())
	for _, h := range handles {
		d := b.store.At(h)
		for i, v := range d {
			mean[i] += float64(v)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(handles))
	}
	return mean
}

// quantize rounds and clamps a float64 mean vector back to the byte range
// centroids are stored in, matching the source's use of raw descriptor
// bytes for both leaf and interior node centroids.
func quantize(mean []float64) []byte {
	out := make([]byte, len(mean))
	for i, v := range mean {
		r := v + 0.5
		switch {
		case r < 0:
			out[i] = 0
		case r > 255:
			out[i] = 255
		default:
			out[i] = byte(r)
		}
	}
	return out
}

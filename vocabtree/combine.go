package vocabtree

import (
	"github.com/arborimage/vocabtree/codec"
	"github.com/arborimage/vocabtree/internal/verr"
)

// centroidsInOrder collects every node's centroid bytes in arena
// (DFS pre-order) order, the input TopologyFingerprint hashes alongside
// the tree's shape parameters.
func (t *Tree) centroidsInOrder() [][]byte {
	out := make([][]byte, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = n.Centroid
	}
	return out
}

func (t *Tree) fingerprint() [32]byte {
	return codec.TopologyFingerprint(int32(t.BranchFactor), int32(t.Depth), int32(t.Dim), int32(t.DistanceType), t.centroidsInOrder())
}

// Combine verifies that other shares this tree's topology — same shape
// parameters and, node for node, the same centroids — and then appends
// other's posting lists into self under the matching node ids. The source
// assumes but never checks this; here the check is the whole point of
// allowing two independently-loaded trees to merge.
func (t *Tree) Combine(other *Tree) error {
	if t.State != StatePending || other.State != StatePending {
		return verr.New(verr.StateViolation, "vocabtree.Tree.Combine", "both trees must be in state pending to combine")
	}
	if len(t.Nodes) != len(other.Nodes) {
		return verr.Newf(verr.InvalidInput, "vocabtree.Tree.Combine", "node count mismatch: %d vs %d", len(t.Nodes), len(other.Nodes))
	}
	if t.fingerprint() != other.fingerprint() {
		return verr.New(verr.InvalidInput, "vocabtree.Tree.Combine", "topology fingerprint mismatch: trees were not built from the same clustering")
	}

	for i := range t.Nodes {
		if t.Nodes[i].Tag != TagLeaf {
			continue
		}
		t.Nodes[i].Postings = append(t.Nodes[i].Postings, other.Nodes[i].Postings...)
	}
	t.NumImages += other.NumImages
	return nil
}

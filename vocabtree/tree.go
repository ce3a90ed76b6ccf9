// Package vocabtree implements a hierarchical k-means vocabulary tree: a
// flat arena of interior and leaf nodes built by recursively clustering
// training descriptors, an inverted file of per-leaf posting lists used as
// a bag-of-visual-words index, and TF-IDF weighted, normalized similarity
// scoring against that index.
package vocabtree

import "github.com/arborimage/vocabtree/internal/verr"

// DistanceType selects how query and database bag-of-words vectors are
// combined into a similarity score.
type DistanceType int32

const (
	// DistanceDot scores as a dot product over L2-normalized vectors.
	DistanceDot DistanceType = 0
	// DistanceMin scores as histogram intersection (element-wise min)
	// over L1-normalized vectors.
	DistanceMin DistanceType = 1
)

// State tracks where a tree's database sits in its population lifecycle.
// Every tree starts Pending; AddImage is only legal in that state.
// ComputeTFIDFWeights moves Pending to Weighted exactly once, and Normalize
// moves Weighted to Normalized exactly once. ClearDatabase resets to
// Pending.
type State int

const (
	StatePending State = iota
	StateWeighted
	StateNormalized
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWeighted:
		return "weighted"
	case StateNormalized:
		return "normalized"
	default:
		return "unknown"
	}
}

// Tag identifies which variant a Node record holds. Using one tagged
// struct rather than an interface with virtual dispatch keeps the arena a
// single contiguous slice, indexable by node id, with no per-node
// allocation or pointer chasing during routing.
type Tag byte

const (
	TagInterior Tag = 0
	TagLeaf     Tag = 1
)

// PostingEntry is one (image, weighted count) pair in a leaf's inverted
// file.
type PostingEntry struct {
	ImageID uint32
	Count   float32
}

// Node is one record of the flat node arena. Centroid, Children, Weight,
// and Postings are only meaningful for the variant selected by Tag;
// Children is populated for TagInterior, Weight/Postings for TagLeaf.
type Node struct {
	Tag      Tag
	Centroid []byte // len == Tree.Dim, byte-quantized cluster mean
	ID       uint64 // DFS pre-order index; equals this node's slot in Tree.Nodes

	Children []int32 // len == Tree.BranchFactor; -1 marks an absent child

	Weight   float32
	Postings []PostingEntry
}

// Tree is a vocabulary tree: the node arena plus the database state built
// on top of it (posting lists, leaf weights, lifecycle state).
type Tree struct {
	BranchFactor int
	Depth        int
	Dim          int
	DistanceType DistanceType

	Nodes []Node // DFS pre-order; Nodes[0] is the root
	State State

	NumImages     int
	lastImageID   int64
	hasAddedImage bool
}

const noLastImageID = -1

func newTree(dim, depth, bf int, dtype DistanceType) *Tree {
	return &Tree{
		BranchFactor: bf,
		Depth:        depth,
		Dim:          dim,
		DistanceType: dtype,
		State:        StatePending,
		lastImageID:  noLastImageID,
	}
}

// CountNodes returns the total number of nodes (interior and leaf) in the
// tree.
func (t *Tree) CountNodes() int { return len(t.Nodes) }

// CountLeaves returns the number of leaf nodes (visual words) in the tree.
func (t *Tree) CountLeaves() int {
	n := 0
	for _, node := range t.Nodes {
		if node.Tag == TagLeaf {
			n++
		}
	}
	return n
}

// CountFeatures sums, over every leaf's posting list, the stored counts —
// the total weighted feature mass currently recorded in the database.
func (t *Tree) CountFeatures() float64 {
	var total float64
	for _, node := range t.Nodes {
		if node.Tag != TagLeaf {
			continue
		}
		for _, e := range node.Postings {
			total += float64(e.Count)
		}
	}
	return total
}

// ClearDatabase empties every posting list and returns the tree to
// StatePending, ready to accept AddImage calls again. Centroids and tree
// topology are untouched.
func (t *Tree) ClearDatabase() {
	for i := range t.Nodes {
		if t.Nodes[i].Tag == TagLeaf {
			t.Nodes[i].Postings = nil
		}
	}
	t.State = StatePending
	t.NumImages = 0
	t.lastImageID = noLastImageID
	t.hasAddedImage = false
}

// SetInteriorNodeWeight sets weight as a diagnostic marker on every
// interior node's Weight field. The standard scoring path always treats
// interior nodes as weight 0 (they carry no postings), so this has no
// effect on ScoreQuery; it exists for callers inspecting or exporting the
// tree.
func (t *Tree) SetInteriorNodeWeight(weight float32) {
	for i := range t.Nodes {
		if t.Nodes[i].Tag == TagInterior {
			t.Nodes[i].Weight = weight
		}
	}
}

// SetConstantLeafWeights resets every leaf's weight to 1.0. Stored posting
// counts and the lifecycle state are left unchanged, so counts already
// scaled by ComputeTFIDFWeights stay scaled. This is a diagnostic knob for
// callers that want routing to accumulate raw term frequencies.
func (t *Tree) SetConstantLeafWeights() {
	for i := range t.Nodes {
		if t.Nodes[i].Tag == TagLeaf {
			t.Nodes[i].Weight = 1.0
		}
	}
}

// Flatten is a documented no-op. Earlier vocabulary tree implementations
// built an owning recursive tree and only flattened it into an arena on
// load; here Build always constructs the arena representation directly, so
// there is nothing left to flatten. The method survives for callers
// migrating from that two-phase API.
func (t *Tree) Flatten() {}

func stateViolation(op string, have, want State) error {
	return verr.Newf(verr.StateViolation, op, "invalid state %s, expected %s", have, want)
}

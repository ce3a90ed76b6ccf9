package vocabtree

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/internal/verr"
)

// route descends from the root to the leaf a descriptor belongs to: at
// each interior node it picks the non-empty child with the smallest
// squared distance to d, breaking ties toward the lowest child slot index
// by only replacing the current best on a strictly smaller distance.
func (t *Tree) route(d descriptor.Descriptor) int {
	idx := 0
	for t.Nodes[idx].Tag == TagInterior {
		best := -1
		bestDist := math.Inf(1)
		for _, c := range t.Nodes[idx].Children {
			if c < 0 {
				continue
			}
			dist := squaredDistance(d, t.Nodes[c].Centroid)
			if dist < bestDist {
				bestDist = dist
				best = int(c)
			}
		}
		idx = best
	}
	return idx
}

func squaredDistance(a, b []byte) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return sum
}

// pushAndScore routes d to its leaf, accumulates the leaf's weight into
// scratch (indexed by node id, the redesign that replaces the source's
// node-resident m_score so concurrent queries are safe), and, if add is
// set, records imageID in the leaf's posting list.
func (t *Tree) pushAndScore(d descriptor.Descriptor, imageID uint32, add bool, scratch []float32) {
	leafIdx := t.route(d)
	leaf := &t.Nodes[leafIdx]
	scratch[leaf.ID] += leaf.Weight
	if add {
		t.appendPosting(leafIdx, imageID, leaf.Weight)
	}
}

// appendPosting implements the append-or-increment-last update: it assumes
// AddImage is called with strictly ascending image ids, so the most recent
// posting entry at a leaf is either for imageID already or belongs to a
// strictly smaller id.
func (t *Tree) appendPosting(leafIdx int, imageID uint32, weight float32) {
	postings := t.Nodes[leafIdx].Postings
	n := len(postings)
	if n > 0 && postings[n-1].ImageID == imageID {
		postings[n-1].Count += weight
	} else {
		postings = append(postings, PostingEntry{ImageID: imageID, Count: weight})
	}
	t.Nodes[leafIdx].Postings = postings
}

// magnitudeFromScratch computes the pre-normalization magnitude of a
// bag-of-words vector held in scratch (indexed by node id), using the
// norm matching the tree's DistanceType: L2 for DistanceDot, L1 for
// DistanceMin.
func (t *Tree) magnitudeFromScratch(scratch []float32) float64 {
	var sum float64
	for _, v := range scratch {
		if v == 0 {
			continue
		}
		c := float64(v)
		switch t.DistanceType {
		case DistanceDot:
			sum += c * c
		case DistanceMin:
			sum += c
		}
	}
	if t.DistanceType == DistanceDot {
		return math.Sqrt(sum)
	}
	return sum
}

// AddImage routes every descriptor of image imageID into the tree,
// recording postings, and returns the image's pre-normalization magnitude.
// Only legal while the tree is StatePending; image ids across calls must
// be strictly ascending, since posting-list updates rely on the
// append-or-increment-last rule. A zero-length descriptor set is a no-op
// that still enforces ordering and returns magnitude 0.
func (t *Tree) AddImage(imageID uint32, descs []descriptor.Descriptor) (float64, error) {
	if t.State != StatePending {
		return 0, stateViolation("vocabtree.Tree.AddImage", t.State, StatePending)
	}
	if t.hasAddedImage && int64(imageID) <= t.lastImageID {
		return 0, verr.Newf(verr.StateViolation, "vocabtree.Tree.AddImage",
			"image ids must be strictly ascending: got %d after %d", imageID, t.lastImageID)
	}
	t.lastImageID = int64(imageID)
	t.hasAddedImage = true
	t.NumImages++

	if len(descs) == 0 {
		return 0, nil
	}

	scratch := make([]float32, len(t.Nodes))
	for _, d := range descs {
		if len(d) != t.Dim {
			return 0, verr.Newf(verr.InvalidInput, "vocabtree.Tree.AddImage", "descriptor length %d does not match tree dim %d", len(d), t.Dim)
		}
		t.pushAndScore(d, imageID, true, scratch)
	}

	return t.magnitudeFromScratch(scratch), nil
}

// ComputeTFIDFWeights sets every leaf's weight to ln(N/df), where df is
// the number of posting entries (distinct images) at that leaf, 0 when
// df == 0, and multiplies every stored posting count by the new weight.
// This is a one-shot transition from StatePending to StateWeighted; calling
// it twice would double-apply the weight; the state machine rejects that.
func (t *Tree) ComputeTFIDFWeights(n int) error {
	if t.State != StatePending {
		return stateViolation("vocabtree.Tree.ComputeTFIDFWeights", t.State, StatePending)
	}
	for i := range t.Nodes {
		if t.Nodes[i].Tag != TagLeaf {
			continue
		}
		df := len(t.Nodes[i].Postings)
		var weight float32
		if df > 0 && n > 0 {
			weight = float32(math.Log(float64(n) / float64(df)))
		}
		t.Nodes[i].Weight = weight
		for j := range t.Nodes[i].Postings {
			t.Nodes[i].Postings[j].Count *= weight
		}
	}
	t.State = StateWeighted
	return nil
}

// Normalize divides every posting entry's count, for images in
// [firstID, firstID+count), by that image's magnitude (L2 norm for
// DistanceDot, L1 norm for DistanceMin), computed over the posting
// entries in that same range. This is a one-shot transition from
// StateWeighted to StateNormalized.
func (t *Tree) Normalize(firstID, count uint32) error {
	if t.State != StateWeighted {
		return stateViolation("vocabtree.Tree.Normalize", t.State, StateWeighted)
	}
	if count == 0 {
		t.State = StateNormalized
		return nil
	}

	mags := make([]float64, count)
	inRange := func(id uint32) (int, bool) {
		if id < firstID || id >= firstID+count {
			return 0, false
		}
		return int(id - firstID), true
	}

	for i := range t.Nodes {
		if t.Nodes[i].Tag != TagLeaf {
			continue
		}
		for _, e := range t.Nodes[i].Postings {
			off, ok := inRange(e.ImageID)
			if !ok {
				continue
			}
			c := float64(e.Count)
			switch t.DistanceType {
			case DistanceDot:
				mags[off] += c * c
			case DistanceMin:
				mags[off] += c
			}
		}
	}
	if t.DistanceType == DistanceDot {
		for i := range mags {
			mags[i] = math.Sqrt(mags[i])
		}
	}

	for i := range t.Nodes {
		if t.Nodes[i].Tag != TagLeaf {
			continue
		}
		for j := range t.Nodes[i].Postings {
			off, ok := inRange(t.Nodes[i].Postings[j].ImageID)
			if !ok || mags[off] == 0 {
				continue
			}
			t.Nodes[i].Postings[j].Count /= float32(mags[off])
		}
	}

	t.State = StateNormalized
	return nil
}

// ScoreQuery routes descs through the tree (without touching any posting
// list), builds a query bag-of-words vector, and scores it against every
// database image using the tree's DistanceType. Results are keyed by
// image id. Safe to call concurrently with other ScoreQuery calls against
// the same tree, since all per-call state lives in local scratch vectors
// rather than on the nodes.
func (t *Tree) ScoreQuery(descs []descriptor.Descriptor, normalize bool) (map[uint32]float64, error) {
	scratch := make([]float32, len(t.Nodes))
	for _, d := range descs {
		if len(d) != t.Dim {
			return nil, verr.Newf(verr.InvalidInput, "vocabtree.Tree.ScoreQuery", "descriptor length %d does not match tree dim %d", len(d), t.Dim)
		}
		t.pushAndScore(d, 0, false, scratch)
	}

	magInv := float32(1.0)
	if normalize {
		mag := t.magnitudeFromScratch(scratch)
		if mag != 0 {
			magInv = float32(1.0 / mag)
		}
	}

	q := make([]float32, len(t.Nodes))
	for i, v := range scratch {
		if v != 0 {
			q[i] = v * magInv
		}
	}

	return t.scoreAgainstPostings(q)
}

// scoreAgainstPostings combines q against every leaf's posting list,
// parallelized across leaves with non-zero query weight since each leaf's
// posting list is read-only during scoring.
func (t *Tree) scoreAgainstPostings(q []float32) (map[uint32]float64, error) {
	type leafRef struct {
		qval     float32
		postings []PostingEntry
	}
	var active []leafRef
	for i := range t.Nodes {
		if t.Nodes[i].Tag != TagLeaf {
			continue
		}
		if q[t.Nodes[i].ID] == 0 {
			continue
		}
		active = append(active, leafRef{qval: q[t.Nodes[i].ID], postings: t.Nodes[i].Postings})
	}

	workers := runtime.NumCPU()
	if workers > len(active) {
		workers = len(active)
	}
	if workers < 1 {
		workers = 1
	}

	partials := make([]map[uint32]float64, workers)
	chunk := (len(active) + workers - 1) / workers
	if chunk == 0 {
		chunk = 1
	}

	g := new(errgroup.Group)
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		if start >= len(active) {
			continue
		}
		end := start + chunk
		if end > len(active) {
			end = len(active)
		}
		g.Go(func() error {
			local := make(map[uint32]float64)
			for _, leaf := range active[start:end] {
				for _, e := range leaf.postings {
					switch t.DistanceType {
					case DistanceDot:
						local[e.ImageID] += float64(leaf.qval) * float64(e.Count)
					case DistanceMin:
						local[e.ImageID] += math.Min(float64(leaf.qval), float64(e.Count))
					}
				}
			}
			partials[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scores := make(map[uint32]float64)
	for _, p := range partials {
		for id, v := range p {
			scores[id] += v
		}
	}
	return scores, nil
}

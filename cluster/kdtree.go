package cluster

// kdTree is a static kd-tree over a fixed set of points (cluster centroids),
// queried with a bounded-work approximate nearest-neighbor search that
// descends the near side first and visits the far side only when it could
// hold a closer point.
// It is rebuilt once per k-means round from the current means and never
// mutated afterward, so concurrent queries against it are safe.
type kdTree struct {
	dim    int
	points [][]float64
	nodes  []kdNode
	root   int
}

type kdNode struct {
	idx         int // index into points
	axis        int
	left, right int // node index, -1 if absent
}

// defaultVisitBudget bounds the number of points examined during one
// nearest-neighbor search, mirroring the source's annMaxPtsVisit(512) cap.
const defaultVisitBudget = 512

func newKDTree(points [][]float64) *kdTree {
	dim := 0
	if len(points) > 0 {
		dim = len(points[0])
	}
	t := &kdTree{dim: dim, points: points}
	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
	}
	t.nodes = make([]kdNode, 0, len(points))
	t.root = t.build(idxs, 0)
	return t
}

func (t *kdTree) build(idxs []int, depth int) int {
	if len(idxs) == 0 {
		return -1
	}
	axis := depth % t.dim
	sortByAxis(idxs, t.points, axis)
	mid := len(idxs) / 2
	node := kdNode{idx: idxs[mid], axis: axis, left: -1, right: -1}
	nodeIdx := len(t.nodes)
	t.nodes = append(t.nodes, node)
	t.nodes[nodeIdx].left = t.build(idxs[:mid], depth+1)
	t.nodes[nodeIdx].right = t.build(idxs[mid+1:], depth+1)
	return nodeIdx
}

// sortByAxis sorts idxs in place by the points' value on a single axis,
// using an insertion sort.
func sortByAxis(idxs []int, points [][]float64, axis int) {
	// Plain insertion sort is fine here: bf is small (tens to low hundreds),
	// so this runs over at most a few hundred elements per node.
	for i := 1; i < len(idxs); i++ {
		j := i
		for j > 0 && points[idxs[j-1]][axis] > points[idxs[j]][axis] {
			idxs[j-1], idxs[j] = idxs[j], idxs[j-1]
			j--
		}
	}
}

// nearest returns the index (into t.points) of the approximate nearest
// neighbor to q and the squared distance to it, visiting at most
// visitBudget points. errBound of 0 performs an exact bounded search;
// a positive errBound allows early pruning once a candidate is within
// (1+errBound) of the current best bound.
func (t *kdTree) nearest(q []float64, visitBudget int, errBound float64) (best int, bestDist float64) {
	best = -1
	bestDist = mathInf
	visited := 0
	t.search(t.root, q, visitBudget, errBound, &best, &bestDist, &visited)
	return best, bestDist
}

const mathInf = 1.0e308

func (t *kdTree) search(node int, q []float64, budget int, errBound float64, best *int, bestDist *float64, visited *int) {
	if node == -1 || *visited >= budget {
		return
	}
	*visited++

	n := t.nodes[node]
	d := sqDist(q, t.points[n.idx])
	if d < *bestDist {
		*bestDist = d
		*best = n.idx
	}

	diff := q[n.axis] - t.points[n.idx][n.axis]
	near, far := n.left, n.right
	if diff > 0 {
		near, far = n.right, n.left
	}

	t.search(near, q, budget, errBound, best, bestDist, visited)

	// Only descend into the far subtree if it could plausibly contain a
	// closer point, scaled by the allowed error bound.
	planeDist := diff * diff
	if planeDist*(1+errBound) < *bestDist {
		t.search(far, q, budget, errBound, best, bestDist, visited)
	}
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

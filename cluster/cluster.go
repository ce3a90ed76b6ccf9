// Package cluster implements the k-means-with-restarts routine used by the
// tree builder to partition a node's descriptors into its children.
package cluster

import (
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/arborimage/vocabtree/descriptor"
	"github.com/arborimage/vocabtree/internal/verr"
)

// Result is the outcome of clustering one set of points.
type Result struct {
	Means      [][]float64 // k centroids, each of length dim
	Assignment []int       // len(points); index into Means, or -1 if never assigned
	Distortion float64     // sum of squared distances from points to their assigned mean
}

// Clusterer partitions a fixed set of points into k clusters via k-means
// with restarts. Apart from Rand, it holds only tunables, so one Clusterer
// value can be reused; with a non-nil Rand it must not be shared across
// goroutines, since *rand.Rand is not safe for concurrent use.
type Clusterer struct {
	// VisitBudget bounds how many kd-tree nodes a single nearest-mean query
	// may visit. Zero selects defaultVisitBudget.
	VisitBudget int
	// ErrBound loosens the kd-tree search's pruning, trading a small amount
	// of assignment accuracy for speed. Must be in [0, 0.1] per spec.
	ErrBound float64
	// MaxRounds caps Lloyd's-algorithm iterations within a single restart,
	// guarding against oscillation around the no-change fixed point.
	MaxRounds int
	// Rand supplies randomness for centroid seeding. When nil, each Cluster
	// call creates a fresh source with a fixed seed, so results are
	// deterministic; restarts within one call draw different seeds from it.
	Rand *rand.Rand
}

const defaultMaxRounds = 50

// Cluster runs restarts independent k-means attempts over the descriptors
// named by handles — resolved against store, which guarantees those
// descriptors stay valid for the duration of the call — targeting k
// clusters, and returns the attempt with the smallest distortion.
// Result.Assignment is indexed the same way as handles. len(handles) must
// be >= k.
func (c *Clusterer) Cluster(store *descriptor.Store, handles []descriptor.Handle, k int, restarts int) (Result, error) {
	if len(handles) < k {
		return Result{}, verr.Newf(verr.InvalidInput, "cluster.Cluster",
			"need at least k=%d points, got %d", k, len(handles))
	}
	if k <= 0 {
		return Result{}, verr.New(verr.InvalidInput, "cluster.Cluster", "k must be positive")
	}
	if restarts <= 0 {
		restarts = 1
	}

	points := make([][]float64, len(handles))
	for i, h := range handles {
		points[i] = toFloat64(store.At(h))
	}

	rng := c.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	var best Result
	haveBest := false

	for r := 0; r < restarts; r++ {
		res, err := c.runOnce(points, k, rng)
		if err != nil {
			return Result{}, err
		}
		if !haveBest || res.Distortion < best.Distortion {
			best = res
			haveBest = true
		}
	}

	return best, nil
}

func toFloat64(d descriptor.Descriptor) []float64 {
	out := make([]float64, len(d))
	for i, b := range d {
		out[i] = float64(b)
	}
	return out
}

func (c *Clusterer) runOnce(points [][]float64, k int, rng *rand.Rand) (Result, error) {
	dim := len(points[0])
	means := seedMeans(points, k, rng)
	assignment := make([]int, len(points))
	for i := range assignment {
		assignment[i] = -1
	}

	budget := c.VisitBudget
	if budget <= 0 {
		budget = defaultVisitBudget
	}
	maxRounds := c.MaxRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}

	var distortion float64
	for round := 0; round < maxRounds; round++ {
		tree := newKDTree(means)

		newAssignment := make([]int, len(points))
		copy(newAssignment, assignment)
		changed, roundDistortion, err := assignParallel(points, tree, budget, c.ErrBound, newAssignment)
		if err != nil {
			return Result{}, err
		}
		distortion = roundDistortion
		assignment = newAssignment

		recomputeMeans(points, assignment, means, dim, k)

		if changed == 0 {
			break
		}
	}

	return Result{Means: means, Assignment: assignment, Distortion: distortion}, nil
}

// seedMeans samples k points uniformly without replacement by taking the
// first k entries of a random permutation, and copies them so later mean updates don't alias
// the caller's point slices.
func seedMeans(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	idxs := rng.Perm(len(points))[:k]
	means := make([][]float64, k)
	for i, idx := range idxs {
		mean := make([]float64, len(points[idx]))
		copy(mean, points[idx])
		means[i] = mean
	}
	return means
}

// assignParallel assigns every point to its nearest mean using tree,
// fanning the work out across runtime.NumCPU() workers. It returns the
// number of points whose assignment changed and the total distortion.
func assignParallel(points [][]float64, tree *kdTree, budget int, errBound float64, out []int) (int, float64, error) {
	n := len(points)
	workers := runtime.NumCPU()
	if workers > n {
		workers = n
	}
	if workers < 1 {
		workers = 1
	}

	type partial struct {
		changed    int
		distortion float64
	}
	partials := make([]partial, workers)

	g := new(errgroup.Group)
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		w := w
		start := w * chunk
		end := start + chunk
		if start >= n {
			continue
		}
		if end > n {
			end = n
		}
		g.Go(func() error {
			var p partial
			for i := start; i < end; i++ {
				nn, dist := tree.nearest(points[i], budget, errBound)
				if nn < 0 {
					return verr.New(verr.ResourceExhausted, "cluster.assignParallel", "nearest-neighbor search visited no candidates")
				}
				if out[i] != nn {
					p.changed++
				}
				out[i] = nn
				p.distortion += dist
			}
			partials[w] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	var changed int
	var distortion float64
	for _, p := range partials {
		changed += p.changed
		distortion += p.distortion
	}
	return changed, distortion, nil
}

// recomputeMeans replaces each mean with the component-wise average of the
// points assigned to it. A cluster with no assigned points keeps its
// previous mean unchanged rather than being silently repositioned; it shows
// up as a zero entry in ClusterSizes and as an empty bucket in the tree
// builder.
func recomputeMeans(points [][]float64, assignment []int, means [][]float64, dim, k int) {
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}

	for i, a := range assignment {
		counts[a]++
		for d := 0; d < dim; d++ {
			sums[a][d] += points[i][d]
		}
	}

	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			continue
		}
		for d := 0; d < dim; d++ {
			means[i][d] = sums[i][d] / float64(counts[i])
		}
	}
}

// ClusterSizes returns, per cluster index, the number of points assigned to
// it. A zero entry means that cluster ended empty and the caller should
// leave the corresponding child slot absent.
func ClusterSizes(assignment []int, k int) []int {
	sizes := make([]int, k)
	for _, a := range assignment {
		if a >= 0 && a < k {
			sizes[a]++
		}
	}
	return sizes
}

package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKDTreeExactNearest(t *testing.T) {
	points := [][]float64{
		{0, 0},
		{10, 10},
		{5, 5},
		{1, 1},
	}
	tree := newKDTree(points)

	nn, dist := tree.nearest([]float64{0.5, 0.5}, 100, 0)
	assert.True(t, nn == 0 || nn == 3)
	assert.GreaterOrEqual(t, dist, 0.0)

	nn2, _ := tree.nearest([]float64{9, 9}, 100, 0)
	assert.Equal(t, 1, nn2)
}

func TestKDTreeBudgetLimitsVisits(t *testing.T) {
	points := make([][]float64, 100)
	for i := range points {
		points[i] = []float64{float64(i), float64(i)}
	}
	tree := newKDTree(points)
	// With a budget of 1 only the root is visited, but the search must still
	// return a valid (if possibly suboptimal) candidate rather than failing.
	nn, dist := tree.nearest([]float64{99, 99}, 1, 0)
	assert.GreaterOrEqual(t, nn, 0)
	assert.GreaterOrEqual(t, dist, 0.0)
}

package association

import (
	"math"
	"sort"

	"github.com/banshee-data/tracking-engine/internal/model"
)

// tieTolerance bounds how far a cost can sit from rowPotential[i]+
// colPotential[j] and still count as "tight" (on some optimal matching),
// absorbing the rounding a chain of floating-point subtractions through
// the shortest-augmenting-path search accumulates.
const tieTolerance = 1e-6

// breakAssignmentTies resolves genuine ambiguity in the optimal
// assignment itself, not merely its presentation order: when the cost
// matrix admits more than one minimum-cost matching, it picks the one
// that is lexicographically smallest by (track_id, cluster_index) (spec
// §4.4, "Ties broken by smaller track_id, smaller cluster_index").
//
// The dual potentials HungarianAssign's solver converges to certify
// optimality by complementary slackness: a pairing (i, j) can belong to
// SOME optimal matching iff cost[i][j] == rowPotential[i]+colPotential[j].
// Any perfect matching of the padded square problem built entirely from
// such "tight" pairings costs exactly the same as the one the solver
// returned (swapping along an alternating cycle of tight edges can't
// change the total), so choosing among them for index order is free.
//
// hasRowAmbiguity below makes this a single O(dim^2) scan whenever the
// cost matrix has no exact ties, which is true for essentially every
// real frame since Mahalanobis distances from independent floating-point
// computations almost never collide exactly; the combinatorial search
// only runs on the rare frame where they do.
func breakAssignmentTies(tracks []*model.Track, cost [][]float64, assignment []int, rowPotential, colPotential []float64) []int {
	n := len(cost)
	if n == 0 || rowPotential == nil {
		return assignment
	}
	m := len(cost[0])
	dim := n
	if m > dim {
		dim = m
	}

	square := padToSquare(cost, n, m)
	tight := make([][]bool, dim)
	for i := 0; i < dim; i++ {
		tight[i] = make([]bool, dim)
		for j := 0; j < dim; j++ {
			tight[i][j] = math.Abs(square[i][j]-rowPotential[i+1]-colPotential[j+1]) < tieTolerance
		}
	}

	if !hasRowAmbiguity(tight, n, m) {
		return assignment
	}

	rowOrder := lexicographicOrder(n, dim, func(a, b int) bool { return tracks[a].TrackID < tracks[b].TrackID })
	colOrder := lexicographicOrder(m, dim, func(a, b int) bool { return a < b })

	colUsed := make([]bool, dim)
	resolvedCol := make([]int, dim)
	for i := range resolvedCol {
		resolvedCol[i] = -1
	}

	for rank, row := range rowOrder {
		remaining := rowOrder[rank+1:]
		for _, col := range colOrder {
			if colUsed[col] || !tight[row][col] {
				continue
			}
			colUsed[col] = true
			if perfectMatchingExists(tight, remaining, colUsed, dim) {
				resolvedCol[row] = col
				break
			}
			colUsed[col] = false
		}
	}

	resolved := make([]int, n)
	for i := 0; i < n; i++ {
		if col := resolvedCol[i]; col >= 0 && col < m {
			resolved[i] = col
		} else {
			resolved[i] = -1
		}
	}
	return resolved
}

// hasRowAmbiguity reports whether any real row (index < n) has at least
// one tight real column (index < m) and more than one tight column
// overall. A row tight with only padding columns stays unmatched under
// every optimal matching regardless of which padding column it lands on,
// so that case is not ambiguity the caller needs to resolve.
func hasRowAmbiguity(tight [][]bool, n, m int) bool {
	for i := 0; i < n; i++ {
		realTight := 0
		totalTight := 0
		for j := range tight[i] {
			if tight[i][j] {
				totalTight++
				if j < m {
					realTight++
				}
			}
		}
		if realTight >= 1 && totalTight >= 2 {
			return true
		}
	}
	return false
}

// lexicographicOrder returns indices [0, dim) with the first `real`
// sorted by less, followed by the padding indices [real, dim) in
// ascending order. Padding indices have no externally visible identity,
// so any deterministic tiebreak among them is correct.
func lexicographicOrder(real, dim int, less func(a, b int) bool) []int {
	order := make([]int, dim)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order[:real], func(a, b int) bool { return less(order[a], order[b]) })
	return order
}

// perfectMatchingExists reports whether rows can be perfectly matched
// into the columns not already marked used, restricted to tight edges,
// via Kuhn's augmenting-path algorithm.
func perfectMatchingExists(tight [][]bool, rows []int, colUsed []bool, dim int) bool {
	matchedRow := make([]int, dim)
	for i := range matchedRow {
		matchedRow[i] = -1
	}
	for _, row := range rows {
		visited := make([]bool, dim)
		if !augmentTight(tight, row, visited, matchedRow, colUsed) {
			return false
		}
	}
	return true
}

func augmentTight(tight [][]bool, row int, visited []bool, matchedRow []int, colUsed []bool) bool {
	for col := 0; col < len(colUsed); col++ {
		if colUsed[col] || visited[col] || !tight[row][col] {
			continue
		}
		visited[col] = true
		if matchedRow[col] == -1 || augmentTight(tight, matchedRow[col], visited, matchedRow, colUsed) {
			matchedRow[col] = row
			return true
		}
	}
	return false
}

package association

import "math"

// hungarianInf stands in for infinity in the cost matrix: any cost at or
// above this value is treated as a forbidden (infeasible) pairing.
const hungarianInf = 1e18

// bigReduced is the sentinel "not yet reached" distance used while
// searching for an augmenting path; it must comfortably exceed any real
// reduced cost, including hungarianInf itself.
const bigReduced = math.MaxFloat64 / 4

// HungarianAssign solves the rectangular minimum-cost assignment problem
// for an n x m cost matrix in O(dim^3) time via the dual-potential
// (Jonker-Volgenant) shortest-augmenting-path method, the same family of
// algorithm the reference codebase uses (internal/lidar/hungarian.go) in
// place of a greedy nearest-neighbour matcher, to avoid track splitting
// when two measurements compete for the same track.
//
// Returns assignments[i] = column index assigned to row i, or -1 if row i
// is unassigned. Costs >= hungarianInf are never selected.
func HungarianAssign(cost [][]float64) []int {
	assignment, _, _ := solveWithPotentials(cost)
	return assignment
}

// solveWithPotentials is the shared entry point behind HungarianAssign: it
// also returns the solver's final dual potentials (1-indexed, sized
// dim+1), which Associate needs to recognize when the cost matrix admits
// more than one optimal matching and a tie-break rule must be applied.
func solveWithPotentials(cost [][]float64) (assignment []int, rowPotential, colPotential []float64) {
	n := len(cost)
	if n == 0 {
		return nil, nil, nil
	}
	m := len(cost[0])
	if m == 0 {
		return unassignedRows(n), nil, nil
	}

	square := padToSquare(cost, n, m)
	solver := newAssignmentSolver(square)
	for row := 1; row <= solver.dim; row++ {
		solver.extendMatching(row)
	}

	return solver.extractRowAssignment(cost, n, m), solver.rowPotential, solver.colPotential
}

func unassignedRows(n int) []int {
	result := make([]int, n)
	for i := range result {
		result[i] = -1
	}
	return result
}

// padToSquare embeds an n x m cost matrix into a dim x dim square one
// (dim = max(n, m)), filling the added cells with hungarianInf so they
// are never chosen over a real pairing.
func padToSquare(cost [][]float64, n, m int) [][]float64 {
	dim := n
	if m > dim {
		dim = m
	}
	square := make([][]float64, dim)
	for r := 0; r < dim; r++ {
		row := make([]float64, dim)
		for c := 0; c < dim; c++ {
			if r < n && c < m {
				row[c] = cost[r][c]
			} else {
				row[c] = hungarianInf
			}
		}
		square[r] = row
	}
	return square
}

// assignmentSolver tracks the dual row/column potentials and the
// partial matching while the shortest-augmenting-path search runs.
// Rows and columns are 1-indexed internally; index 0 is the "no row /
// no column" sentinel the path-tracing step unwinds back to.
type assignmentSolver struct {
	dim          int
	cost         [][]float64
	rowPotential []float64
	colPotential []float64
	colOwner     []int // colOwner[c] = row currently matched to column c (0 = unmatched)
	viaCol       []int // viaCol[c] = predecessor column on the cheapest path found so far
}

func newAssignmentSolver(square [][]float64) *assignmentSolver {
	dim := len(square)
	return &assignmentSolver{
		dim:          dim,
		cost:         square,
		rowPotential: make([]float64, dim+1),
		colPotential: make([]float64, dim+1),
		colOwner:     make([]int, dim+1),
		viaCol:       make([]int, dim+1),
	}
}

// extendMatching grows the matching to cover the given unmatched row,
// via a Dijkstra-style search over reduced costs: repeatedly settle the
// closest unvisited column, relax its neighbours, and reassign ownership
// along the discovered path once a free column is reached.
func (s *assignmentSolver) extendMatching(row int) {
	reachCost := make([]float64, s.dim+1)
	settled := make([]bool, s.dim+1)
	for c := 1; c <= s.dim; c++ {
		reachCost[c] = bigReduced
	}

	s.colOwner[0] = row
	frontier := 0

	for {
		settled[frontier] = true
		ownerRow := s.colOwner[frontier]
		closestCost := bigReduced
		closestCol := -1

		for c := 1; c <= s.dim; c++ {
			if settled[c] {
				continue
			}
			edgeCost := s.cost[ownerRow-1][c-1] - s.rowPotential[ownerRow] - s.colPotential[c]
			if edgeCost < reachCost[c] {
				reachCost[c] = edgeCost
				s.viaCol[c] = frontier
			}
			if reachCost[c] < closestCost {
				closestCost = reachCost[c]
				closestCol = c
			}
		}

		if closestCol < 0 {
			return
		}

		for c := 0; c <= s.dim; c++ {
			if settled[c] {
				s.rowPotential[s.colOwner[c]] += closestCost
				s.colPotential[c] -= closestCost
			} else {
				reachCost[c] -= closestCost
			}
		}

		frontier = closestCol
		if s.colOwner[frontier] == 0 {
			break
		}
	}

	for frontier != 0 {
		predecessor := s.viaCol[frontier]
		s.colOwner[frontier] = s.colOwner[predecessor]
		frontier = predecessor
	}
}

// extractRowAssignment reads the solved column ownership back into the
// caller's row-indexed, -1-for-unassigned result shape, rejecting any
// pairing that landed on a padded (infeasible) cell.
func (s *assignmentSolver) extractRowAssignment(originalCost [][]float64, n, m int) []int {
	colForRow := unassignedRows(s.dim)
	for c := 1; c <= s.dim; c++ {
		if owner := s.colOwner[c]; owner > 0 && owner <= s.dim {
			colForRow[owner-1] = c - 1
		}
	}

	result := make([]int, n)
	for i := 0; i < n; i++ {
		col := colForRow[i]
		if col < 0 || col >= m || originalCost[i][col] >= hungarianInf {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}

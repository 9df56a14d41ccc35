package association

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/tracker"
)

// Params configures gating and association (spec §6,
// algorithms.association.*).
type Params struct {
	ValidationGate float64 // probability mass of the chi-square gate, e.g. 0.99
	ClutterDensity float64 // added to the association-probability normalizer
}

// Pair is one resolved (track, cluster) association.
type Pair struct {
	TrackIndex    int
	ClusterIndex  int
	MahalanobisSq float64
	Probability   float64
}

// Result partitions a frame's tracks and clusters after gating and
// assignment (spec §4.4).
type Result struct {
	Pairs          []Pair
	UnmatchedTrack []int // indices into tracks with no feasible cluster
	UnmatchedClus  []int // indices into clusters with no feasible track (birth candidates)
}

// GateThreshold returns gate^2, the chi-square quantile at 3 degrees of
// freedom (position-only measurement) for the configured validation gate
// probability (spec §4.4, "Gating").
func GateThreshold(validationGate float64) float64 {
	if validationGate <= 0 || validationGate >= 1 {
		validationGate = 0.99
	}
	chi := distuv.ChiSquared{K: 3}
	return chi.Quantile(validationGate)
}

// Associate gates each (track, cluster) pair by Mahalanobis² against
// gate², solves the minimum-cost assignment over the feasible
// sub-bipartite with HungarianAssign, and computes the soft
// association-probability score for each resolved pair (spec §4.4).
func Associate(tracks []*model.Track, clusters []model.Cluster, p Params, tp tracker.Params) Result {
	gate2 := GateThreshold(p.ValidationGate)

	n := len(tracks)
	m := len(clusters)
	cost := make([][]float64, n)
	feasible := make([][]bool, n)
	for i := range cost {
		cost[i] = make([]float64, m)
		feasible[i] = make([]bool, m)
	}

	for i, t := range tracks {
		s := tracker.InnovationCov(t, false, 20, tp)
		for j, c := range clusters {
			y := mat.NewVecDense(3, []float64{
				c.CentroidX - t.X.AtVec(0),
				c.CentroidY - t.X.AtVec(1),
				c.CentroidZ - t.X.AtVec(2),
			})
			d2, err := tracker.MahalanobisSquared(y, s)
			if err != nil || d2 > gate2 {
				cost[i][j] = hungarianInf
				continue
			}
			cost[i][j] = d2
			feasible[i][j] = true
		}
	}

	assignment, rowPotential, colPotential := solveWithPotentials(cost)
	assignment = breakAssignmentTies(tracks, cost, assignment, rowPotential, colPotential)

	res := Result{}
	trackMatched := make([]bool, n)
	clusterMatched := make([]bool, m)

	for i, j := range assignment {
		if j < 0 || !feasible[i][j] {
			continue
		}
		trackMatched[i] = true
		clusterMatched[j] = true
		d2 := cost[i][j]
		res.Pairs = append(res.Pairs, Pair{
			TrackIndex:    i,
			ClusterIndex:  j,
			MahalanobisSq: d2,
			Probability:   associationProbability(i, d2, cost, feasible, p.ClutterDensity),
		})
	}

	// Presentation order only: the actual tie-break already happened in
	// breakAssignmentTies, before Pairs was built.
	sort.SliceStable(res.Pairs, func(a, b int) bool {
		ta, tb := tracks[res.Pairs[a].TrackIndex].TrackID, tracks[res.Pairs[b].TrackIndex].TrackID
		if ta != tb {
			return ta < tb
		}
		return res.Pairs[a].ClusterIndex < res.Pairs[b].ClusterIndex
	})

	for i := 0; i < n; i++ {
		if !trackMatched[i] {
			res.UnmatchedTrack = append(res.UnmatchedTrack, i)
		}
	}
	for j := 0; j < m; j++ {
		if !clusterMatched[j] {
			res.UnmatchedClus = append(res.UnmatchedClus, j)
		}
	}

	return res
}

// associationProbability computes p = exp(-0.5*d2) / normalizer for
// trackIdx's resolved pair, where normalizer sums exp(-0.5*d2) over every
// feasible cluster for that track plus a clutter density term (spec
// §4.4, "Association probability").
func associationProbability(trackIdx int, d2 float64, cost [][]float64, feasible [][]bool, clutterDensity float64) float64 {
	normalizer := clutterDensity
	for j, ok := range feasible[trackIdx] {
		if ok {
			normalizer += math.Exp(-0.5 * cost[trackIdx][j])
		}
	}
	if normalizer <= 0 {
		return 0
	}
	return math.Exp(-0.5*d2) / normalizer
}

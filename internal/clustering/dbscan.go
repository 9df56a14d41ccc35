// Package clustering groups a frame's detections into density-based
// clusters (spec §4.2), a DBSCAN variant over a weighted composite
// range/azimuth/velocity distance with either fixed or range-adaptive
// epsilon. The neighbor query is accelerated by a grid-based spatial
// index, the same discipline the reference codebase's DBSCAN clusterer
// uses (internal/lidar/clustering.go's SpatialIndex) to avoid an O(n^2)
// scan on dense frames.
package clustering

import (
	"math"
	"sort"

	"github.com/banshee-data/tracking-engine/internal/mathutil"
	"github.com/banshee-data/tracking-engine/internal/model"
)

// Params configures the clustering stage (spec §6,
// algorithms.clustering.*).
type Params struct {
	Epsilon               float64
	MinPoints             int
	RangeWeight           float64
	AzimuthWeight         float64
	VelocityWeight        float64
	UseAdaptiveEpsilon    bool
	AdaptiveEpsilonFactor float64
	MaxClusters           int
	SNRThreshold          float64
	PreprocessBySNR       bool
	SNRRef                float64
	SaturationCount       int
	MinConfidence         float64
}

// epsilonFor returns eps(r) = eps0 + k*r when adaptive epsilon is enabled,
// else the fixed Epsilon (spec §4.2).
func (p Params) epsilonFor(r float64) float64 {
	if !p.UseAdaptiveEpsilon {
		return p.Epsilon
	}
	return p.Epsilon + p.AdaptiveEpsilonFactor*r
}

// distance computes the weighted composite distance between two
// detections (spec §4.2):
//
//	d(a,b) = w_r*|range_a-range_b| + w_a*angle_diff(az_a,az_b)*mean_range + w_v*||v_a-v_b||
func (p Params) distance(a, b model.Detection) float64 {
	dRange := math.Abs(a.Range - b.Range)
	meanRange := (a.Range + b.Range) / 2
	dAzimuth := mathutil.AbsAngleDiff(a.Azimuth, b.Azimuth) * meanRange

	var dVel float64
	if a.HasVelocity && b.HasVelocity {
		dvx := a.VX - b.VX
		dvy := a.VY - b.VY
		dvz := a.VZ - b.VZ
		dVel = math.Sqrt(dvx*dvx + dvy*dvy + dvz*dvz)
	}

	return p.RangeWeight*dRange + p.AzimuthWeight*dAzimuth + p.VelocityWeight*dVel
}

// gridIndex accelerates epsilon-neighborhood queries by bucketing
// detections into cells sized to the largest feasible epsilon, mirroring
// the reference codebase's grid-based SpatialIndex.
type gridIndex struct {
	cellSize float64
	cells    map[[2]int64][]int
	dets     []model.Detection
}

func buildGridIndex(dets []model.Detection, cellSize float64) *gridIndex {
	if cellSize <= 0 {
		cellSize = 1
	}
	g := &gridIndex{cellSize: cellSize, cells: make(map[[2]int64][]int, len(dets)), dets: dets}
	for i, d := range dets {
		key := g.cellKey(d.X, d.Y)
		g.cells[key] = append(g.cells[key], i)
	}
	return g
}

func (g *gridIndex) cellKey(x, y float64) [2]int64 {
	return [2]int64{int64(math.Floor(x / g.cellSize)), int64(math.Floor(y / g.cellSize))}
}

// regionQuery returns the indices of all detections within eps of dets[idx]
// under the composite distance metric, scanning only the 3x3 neighborhood
// of grid cells (sufficient because cellSize >= the caller's max epsilon).
func (g *gridIndex) regionQuery(p Params, idx int) []int {
	d := g.dets[idx]
	cx, cy := g.cellKey(d.X, d.Y)[0], g.cellKey(d.X, d.Y)[1]
	eps := p.epsilonFor(d.Range)

	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, j := range g.cells[[2]int64{cx + dx, cy + dy}] {
				if p.distance(d, g.dets[j]) <= eps {
					out = append(out, j)
				}
			}
		}
	}
	return out
}

const (
	labelUnvisited = 0
	labelNoise     = -1
)

// Cluster runs the DBSCAN variant over one frame of detections
// (order-irrelevant input per spec §4.2) and returns the resulting
// clusters after quality filtering, hard-bound trimming, and deterministic
// sorting.
func Cluster(dets []model.Detection, p Params) []model.Cluster {
	if p.PreprocessBySNR {
		filtered := make([]model.Detection, 0, len(dets))
		for _, d := range dets {
			if d.SNRdB >= p.SNRThreshold {
				filtered = append(filtered, d)
			}
		}
		dets = filtered
	}
	if len(dets) == 0 {
		return nil
	}

	cellSize := p.epsilonFor(0)
	for _, d := range dets {
		if e := p.epsilonFor(d.Range); e > cellSize {
			cellSize = e
		}
	}
	idx := buildGridIndex(dets, cellSize)

	labels := make([]int, len(dets)) // 0=unvisited, -1=noise, >0 cluster id
	nextClusterID := 0

	for i := range dets {
		if labels[i] != labelUnvisited {
			continue
		}
		neighbors := idx.regionQuery(p, i)
		if len(neighbors) < p.MinPoints {
			labels[i] = labelNoise
			continue
		}

		nextClusterID++
		labels[i] = nextClusterID
		queue := append([]int{}, neighbors...)
		for qi := 0; qi < len(queue); qi++ {
			j := queue[qi]
			if labels[j] == labelNoise {
				labels[j] = nextClusterID
				continue
			}
			if labels[j] != labelUnvisited {
				continue // already claimed by this or an earlier cluster (deterministic tie-break)
			}
			labels[j] = nextClusterID
			jNeighbors := idx.regionQuery(p, j)
			if len(jNeighbors) >= p.MinPoints {
				queue = append(queue, jNeighbors...)
			}
		}
	}

	clustersByID := make(map[int][]int)
	for i, l := range labels {
		if l > 0 {
			clustersByID[l] = append(clustersByID[l], i)
		}
	}

	out := make([]model.Cluster, 0, len(clustersByID))
	frameLocalID := 0
	for id := 1; id <= nextClusterID; id++ {
		members := clustersByID[id]
		if len(members) < p.MinPoints {
			continue
		}
		c := buildCluster(dets, members, p)
		if len(c.Members) < p.MinPoints || c.Confidence < p.MinConfidence {
			continue
		}
		c.FrameLocalID = frameLocalID
		frameLocalID++
		out = append(out, c)
	}

	sortClustersDeterministically(out)

	if p.MaxClusters > 0 && len(out) > p.MaxClusters {
		byConfidence := append([]model.Cluster{}, out...)
		sort.SliceStable(byConfidence, func(i, j int) bool { return byConfidence[i].Confidence > byConfidence[j].Confidence })
		out = byConfidence[:p.MaxClusters]
		sortClustersDeterministically(out)
	}

	return out
}

func buildCluster(dets []model.Detection, memberIdx []int, p Params) model.Cluster {
	members := make([]model.Detection, len(memberIdx))
	var sumX, sumY, sumZ, sumSNR float64
	var sumVX, sumVY, sumVZ float64
	velCount := 0
	for i, mi := range memberIdx {
		d := dets[mi]
		members[i] = d
		sumX += d.X
		sumY += d.Y
		sumZ += d.Z
		sumSNR += d.SNRdB
		if d.HasVelocity {
			sumVX += d.VX
			sumVY += d.VY
			sumVZ += d.VZ
			velCount++
		}
	}
	n := float64(len(members))
	meanSNR := sumSNR / n

	confidence := mathutil.Clamp01(meanSNR/p.SNRRef) * mathutil.Clamp01(n/float64(p.SaturationCount))

	c := model.Cluster{
		Members:    members,
		CentroidX:  sumX / n,
		CentroidY:  sumY / n,
		CentroidZ:  sumZ / n,
		MeanSNRdB:  meanSNR,
		Confidence: confidence,
		Density:    n / epsilonVolume(p),
	}
	if velCount > 0 {
		c.CentroidVX = sumVX / float64(velCount)
		c.CentroidVY = sumVY / float64(velCount)
		c.CentroidVZ = sumVZ / float64(velCount)
		c.HasVelocity = true
	}
	return c
}

func epsilonVolume(p Params) float64 {
	r := p.Epsilon
	if r <= 0 {
		return 1
	}
	return (4.0 / 3.0) * math.Pi * r * r * r
}

// sortClustersDeterministically orders clusters by centroid (range, then
// azimuth), so repeated runs over the same frame produce byte-identical
// ordering regardless of Go map iteration order — the same discipline the
// reference codebase's DBSCANClusterer applies for golden-replay
// reproducibility.
func sortClustersDeterministically(clusters []model.Cluster) {
	sort.SliceStable(clusters, func(i, j int) bool {
		ri := math.Hypot(clusters[i].CentroidX, clusters[i].CentroidY)
		rj := math.Hypot(clusters[j].CentroidX, clusters[j].CentroidY)
		if ri != rj {
			return ri < rj
		}
		ai := math.Atan2(clusters[i].CentroidY, clusters[i].CentroidX)
		aj := math.Atan2(clusters[j].CentroidY, clusters[j].CentroidX)
		return ai < aj
	})
	for i := range clusters {
		clusters[i].FrameLocalID = i
	}
}

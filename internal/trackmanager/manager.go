// Package trackmanager owns the canonical track table and its lifecycle
// state machine (spec §4.5). All mutation is serialized through Manager;
// other components only ever see cloned Snapshots. Grounded on the
// reference codebase's Tracker.Update cycle (internal/lidar/l5tracks/
// tracking.go) for the confirm/coast/terminate transition shape, and on
// its track-table mutex discipline for the single-writer rule (spec §5,
// "Shared resources").
package trackmanager

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tracking-engine/internal/association"
	"github.com/banshee-data/tracking-engine/internal/mathutil"
	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/telemetry"
	"github.com/banshee-data/tracking-engine/internal/tracker"
)

// qualityGateScale is the Mahalanobis^2 value at which the quality score's
// innovation term is exactly 0.5; chosen near the middle of the
// association stage's typical 3-DoF gate (spec §4.4's chi-square gate
// sits at about 7.8-11.3 for validation_gate in [0.95, 0.99]).
const qualityGateScale = 9.0

// Params configures lifecycle and birth/cleanup policy (spec §6,
// algorithms.management.*).
type Params struct {
	ConfirmationThreshold    uint32
	DeletionThreshold        uint32 // TENTATIVE misses-to-terminate
	DeletionThresholdConfirmed uint32 // CONFIRMED misses-to-coast
	MaxCoastTimeSec          float64
	QualityThreshold         float64
	RetentionWindowSec       float64
	MaxTracks                int
	OperationalVolumeM       float64 // max range from origin for a birth candidate
}

// Manager is the single-writer track table (spec §4.5, §5).
type Manager struct {
	mu      sync.Mutex
	tracks  map[uint32]*model.Track
	nextID  uint32
	params  Params
	trackerParams tracker.Params
	stats   *telemetry.Stats
}

// New constructs an empty track table.
func New(params Params, trackerParams tracker.Params, stats *telemetry.Stats) *Manager {
	return &Manager{
		tracks:        make(map[uint32]*model.Track),
		nextID:        1,
		params:        params,
		trackerParams: trackerParams,
		stats:         stats,
	}
}

// ActiveTracks returns a pointer slice to all non-TERMINATED tracks,
// ordered by TrackID for determinism, for the caller to predict/associate
// against. The slice and its *model.Track pointers remain owned by the
// manager until the caller hands them back via ApplyFrame; this method
// does not clone (spec §4.5 distinguishes this from the read-only
// "Snapshots" query, which does clone).
func (m *Manager) ActiveTracks() []*model.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Track, 0, len(m.tracks))
	for _, t := range m.tracks {
		if t.State != model.TrackTerminated {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Snapshots returns an independent clone of every non-TERMINATED track,
// safe to hand to any reader (spec §4.5, "Snapshots").
func (m *Manager) Snapshots() []model.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Snapshot, 0, len(m.tracks))
	ids := make([]uint32, 0, len(m.tracks))
	for id, t := range m.tracks {
		if t.State != model.TrackTerminated {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out = append(out, m.tracks[id].ToSnapshot())
	}
	return out
}

// Predict advances every active track's state by dt (spec §4.3, called at
// the top of each frame cycle before association).
func (m *Manager) Predict(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tracks {
		if t.State == model.TrackTerminated {
			continue
		}
		tracker.Predict(t, dt, m.trackerParams)
	}
}

// ApplyFrame folds one frame's association result into the track table:
// matched tracks are updated and advance their lifecycle state, unmatched
// tracks register a miss, and unmatched clusters become birth candidates
// (spec §4.5's state-machine table). nowNanos is the frame's timestamp.
func (m *Manager) ApplyFrame(active []*model.Track, clusters []model.Cluster, res association.Result, nowNanos int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pair := range res.Pairs {
		t := active[pair.TrackIndex]
		c := clusters[pair.ClusterIndex]
		m.applyHit(t, c, pair.MahalanobisSq, nowNanos)
	}
	for _, idx := range res.UnmatchedTrack {
		m.applyMiss(active[idx], nowNanos)
	}
	for _, idx := range res.UnmatchedClus {
		m.tryBirth(clusters[idx], nowNanos)
	}
}

func (m *Manager) applyHit(t *model.Track, c model.Cluster, mahalanobisSq float64, nowNanos int64) {
	measPos := [3]float64{c.CentroidX, c.CentroidY, c.CentroidZ}
	measVel := [3]float64{c.CentroidVX, c.CentroidVY, c.CentroidVZ}
	if err := tracker.Update(t, measPos, measVel, c.HasVelocity, c.MeanSNRdB, m.trackerParams); err != nil {
		// Degenerate gate: the update was skipped, treat like a miss for
		// lifecycle purposes without double counting the gate event
		// tracker.Update already recorded (spec §4.3/§7, Degenerate).
		if m.stats != nil {
			m.stats.DegenerateUpdates.Add(1)
		}
		m.applyMiss(t, nowNanos)
		return
	}

	t.AppendHistory(c.Members[0])
	t.AppendTrajectory(model.TrackPoint{X: c.CentroidX, Y: c.CentroidY, Z: c.CentroidZ, TimestampNanos: nowNanos})
	t.AppendGateScore(mahalanobisSq)
	t.LastUpdateNanos = nowNanos
	t.HitCount++
	t.ConsecutiveMisses = 0
	t.Confidence = c.Confidence

	switch t.State {
	case model.TrackTentative:
		if t.HitCount >= m.params.ConfirmationThreshold {
			t.State = model.TrackConfirmed
			if m.stats != nil {
				m.stats.TracksConfirmed.Add(1)
			}
		}
	case model.TrackCoasting:
		t.State = model.TrackConfirmed
		t.CoastStartNanos = 0
	}

	t.QualityScore = m.qualityScore(t)
	if t.QualityScore < m.params.QualityThreshold && t.State != model.TrackConfirmed {
		m.terminate(t)
	}
}

func (m *Manager) applyMiss(t *model.Track, nowNanos int64) {
	t.ConsecutiveMisses++
	t.QualityScore = m.qualityScore(t)

	switch t.State {
	case model.TrackTentative:
		if t.ConsecutiveMisses >= m.params.DeletionThreshold {
			m.terminate(t)
		}
	case model.TrackConfirmed:
		if t.ConsecutiveMisses >= m.params.DeletionThresholdConfirmed {
			t.State = model.TrackCoasting
			t.CoastStartNanos = nowNanos
			if m.stats != nil {
				m.stats.TracksCoasted.Add(1)
			}
		}
	case model.TrackCoasting:
		elapsedSec := float64(nowNanos-t.CoastStartNanos) / 1e9
		if elapsedSec > m.params.MaxCoastTimeSec {
			m.terminate(t)
		}
	}

	if t.QualityScore < m.params.QualityThreshold && t.State != model.TrackTerminated && t.State != model.TrackConfirmed {
		m.terminate(t)
	}
}

func (m *Manager) terminate(t *model.Track) {
	if t.State == model.TrackTerminated {
		return
	}
	t.State = model.TrackTerminated
	if m.stats != nil {
		m.stats.TracksTerminated.Add(1)
	}
}

// tryBirth seeds a new TENTATIVE track from an unmatched cluster, subject
// to the operational volume and max_tracks cap (spec §4.5, "Birth
// policy").
func (m *Manager) tryBirth(c model.Cluster, nowNanos int64) {
	r := mathutil.Hypot3(c.CentroidX, c.CentroidY, c.CentroidZ)
	if r > m.params.OperationalVolumeM {
		return
	}

	activeCount := 0
	for _, t := range m.tracks {
		if t.State != model.TrackTerminated {
			activeCount++
		}
	}

	if m.params.MaxTracks > 0 && activeCount >= m.params.MaxTracks {
		if !m.evictLowestQualityTentative() {
			if m.stats != nil {
				m.stats.BirthsDropped.Add(1)
			}
			return
		}
	}

	id := m.nextID
	m.nextID++
	t := model.NewTrack(id, time.Unix(0, nowNanos))
	tracker.Init(t, c.CentroidX, c.CentroidY, c.CentroidZ, c.CentroidVX, c.CentroidVY, c.CentroidVZ, m.trackerParams)
	t.Confidence = c.Confidence
	t.QualityScore = m.qualityScore(t)
	m.tracks[id] = t
	if m.stats != nil {
		m.stats.TracksBorn.Add(1)
	}
}

func (m *Manager) evictLowestQualityTentative() bool {
	var worst *model.Track
	for _, t := range m.tracks {
		if t.State != model.TrackTentative {
			continue
		}
		if worst == nil || t.QualityScore < worst.QualityScore {
			worst = t
		}
	}
	if worst == nil {
		return false
	}
	m.terminate(worst)
	if m.stats != nil {
		m.stats.TracksEvicted.Add(1)
	}
	return true
}

// Cleanup removes TERMINATED tracks older than the retention window,
// relative to nowNanos, and returns the count removed (spec §4.5,
// "Cleanup").
func (m *Manager) Cleanup(nowNanos int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.tracks {
		if t.State != model.TrackTerminated {
			continue
		}
		ageSec := float64(nowNanos-t.LastUpdateNanos) / 1e9
		if ageSec > m.params.RetentionWindowSec {
			delete(m.tracks, id)
			removed++
		}
	}
	return removed
}

// qualityScore is a smooth function of hit_count, consecutive_misses, mean
// innovation magnitude over recent history, and covariance trace (spec
// §4.3), bounded to [0,1] and monotone non-decreasing in hit_count and
// non-increasing in consecutive_misses: the innovation and covariance
// terms depend only on the track's own estimator state, never on the
// hit/miss counters, so multiplying them into the hit/miss base term
// cannot reverse its monotonicity in either counter. A freshly-born track
// (zero hits, zero misses, no gate history, initial covariance) starts at
// 0.25 so it is not immediately culled by the quality floor before the
// state machine's deletion-threshold path gets a chance to run.
func (m *Manager) qualityScore(t *model.Track) float64 {
	missPenalty := float64(t.ConsecutiveMisses) / (float64(t.ConsecutiveMisses) + 8)
	hitBoost := float64(t.HitCount) / (float64(t.HitCount) + 3)
	base := (1 - missPenalty) * (0.5 + 0.5*hitBoost)

	innovationFactor := 1.0
	if n := len(t.RecentGateScores); n > 0 {
		var sum float64
		for _, d2 := range t.RecentGateScores {
			sum += d2
		}
		meanD2 := sum / float64(n)
		innovationFactor = qualityGateScale / (qualityGateScale + meanD2)
	}

	sigmaP2 := m.trackerParams.InitialUncertainty * m.trackerParams.InitialUncertainty
	traceScale := 63 * sigmaP2 // matches tracker.Init's initial P trace (sigmaV2=4*sigmaP2, sigmaA2=16*sigmaP2, 3 axes each)
	if traceScale <= 0 {
		traceScale = 1
	}
	traceFactor := traceScale / (traceScale + mat.Trace(t.P))

	score := base * innovationFactor * traceFactor
	if t.Degraded {
		score *= 0.5
	}
	return mathutil.Clamp01(score)
}

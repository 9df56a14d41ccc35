package model

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// TrackState is the lifecycle state of a Track (spec §4.5).
type TrackState int

const (
	TrackTentative TrackState = iota
	TrackConfirmed
	TrackCoasting
	TrackTerminated
)

func (s TrackState) String() string {
	switch s {
	case TrackTentative:
		return "TENTATIVE"
	case TrackConfirmed:
		return "CONFIRMED"
	case TrackCoasting:
		return "COASTING"
	case TrackTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// StateDim is the dimension of the tracker's state vector: 3D position,
// velocity, and acceleration (spec §4.3).
const StateDim = 9

// TrackHistoryCap bounds the number of recently-associated detections and
// trajectory samples retained per track (spec §3: "bounded history").
const TrackHistoryCap = 64

// Track is the persistent tracked entity. Its 9x9 covariance is owned
// exclusively by the track manager; all other components receive
// read-only Snapshot copies (spec §3, "Ownership").
type Track struct {
	TrackID uint32

	State TrackState

	// State mean: [px,py,pz, vx,vy,vz, ax,ay,az].
	X *mat.VecDense

	// P is the 9x9 state covariance. Always symmetric PSD (spec §3
	// invariant); maintained that way by Predict/Update in internal/tracker.
	P *mat.SymDense

	Confidence   float64
	QualityScore float64
	Degraded     bool

	CreatedAtNanos    int64
	LastUpdateNanos   int64

	HitCount          uint32
	ConsecutiveMisses uint32

	// CoastStartNanos is set when the track transitions into COASTING and
	// cleared on return to CONFIRMED; used for the coast-timeout edge.
	CoastStartNanos int64

	History     []Detection
	Trajectory  []TrackPoint

	// RecentGateScores holds the most recent Mahalanobis^2 values from
	// resolved associations, bounded to RecentGateScoresCap; their mean is
	// one of the inputs to the track manager's quality score (spec §4.3,
	// "a smooth function of ... mean innovation magnitude over history").
	RecentGateScores []float64

	// DegenerateGateEvents counts skipped updates due to singular S
	// (spec §4.3, "Update must not execute when S is singular").
	DegenerateGateEvents uint32
}

// RecentGateScoresCap bounds RecentGateScores so quality scoring reflects
// recent association quality, not the full track lifetime.
const RecentGateScoresCap = 8

// AppendGateScore records one resolved association's Mahalanobis^2,
// discarding the oldest entry once RecentGateScoresCap is exceeded.
func (t *Track) AppendGateScore(d2 float64) {
	t.RecentGateScores = append(t.RecentGateScores, d2)
	if len(t.RecentGateScores) > RecentGateScoresCap {
		t.RecentGateScores = t.RecentGateScores[len(t.RecentGateScores)-RecentGateScoresCap:]
	}
}

// TrackPoint is a single sampled position in a track's trajectory.
type TrackPoint struct {
	X, Y, Z   float64
	TimestampNanos int64
}

// NewTrack allocates a track with a zeroed 9-element state and a zeroed 9x9
// covariance; callers (track manager) populate X and P via tracker.Init.
func NewTrack(id uint32, now time.Time) *Track {
	return &Track{
		TrackID:         id,
		State:           TrackTentative,
		X:               mat.NewVecDense(StateDim, nil),
		P:               mat.NewSymDense(StateDim, nil),
		CreatedAtNanos:  now.UnixNano(),
		LastUpdateNanos: now.UnixNano(),
	}
}

// AppendHistory appends a detection to the bounded history, discarding the
// oldest entry once TrackHistoryCap is exceeded.
func (t *Track) AppendHistory(d Detection) {
	t.History = append(t.History, d)
	if len(t.History) > TrackHistoryCap {
		t.History = t.History[len(t.History)-TrackHistoryCap:]
	}
}

// AppendTrajectory appends a position sample to the bounded trajectory.
func (t *Track) AppendTrajectory(p TrackPoint) {
	t.Trajectory = append(t.Trajectory, p)
	if len(t.Trajectory) > TrackHistoryCap {
		t.Trajectory = t.Trajectory[len(t.Trajectory)-TrackHistoryCap:]
	}
}

// Snapshot is a read-only, fully independent copy of a Track, safe to hand
// to any other component without risking a live reference back into the
// track manager's table (spec §3, "Ownership").
type Snapshot struct {
	TrackID           uint32
	State             TrackState
	Position          [3]float64
	Velocity          [3]float64
	Acceleration      [3]float64
	CovarianceDiag    [9]float64
	Confidence        float64
	QualityScore      float64
	LastUpdateNanos   int64
	HitCount          uint32
	ConsecutiveMisses uint32
}

// ToSnapshot clones the observable parts of t into an independent value.
func (t *Track) ToSnapshot() Snapshot {
	s := Snapshot{
		TrackID:           t.TrackID,
		State:             t.State,
		Confidence:        t.Confidence,
		QualityScore:      t.QualityScore,
		LastUpdateNanos:   t.LastUpdateNanos,
		HitCount:          t.HitCount,
		ConsecutiveMisses: t.ConsecutiveMisses,
	}
	for i := 0; i < 3; i++ {
		s.Position[i] = t.X.AtVec(i)
		s.Velocity[i] = t.X.AtVec(3 + i)
		s.Acceleration[i] = t.X.AtVec(6 + i)
	}
	for i := 0; i < StateDim; i++ {
		s.CovarianceDiag[i] = t.P.At(i, i)
	}
	return s
}

// TrackRecord is the wire-stable record format published at egress
// (spec §6).
type TrackRecord struct {
	TrackID           uint32
	State             TrackState
	Position          [3]float64
	Velocity          [3]float64
	Acceleration      [3]float64
	CovarianceDiag    [9]float64
	Confidence        float64
	QualityScore      float64
	LastUpdateNanos   int64
	HitCount          uint32
	ConsecutiveMisses uint32
}

// ToRecord converts a Snapshot into the wire-stable TrackRecord. They are
// structurally identical today; the conversion exists so the wire format
// can diverge from the in-process snapshot shape without breaking callers.
func (s Snapshot) ToRecord() TrackRecord {
	return TrackRecord{
		TrackID:           s.TrackID,
		State:             s.State,
		Position:          s.Position,
		Velocity:          s.Velocity,
		Acceleration:      s.Acceleration,
		CovarianceDiag:    s.CovarianceDiag,
		Confidence:        s.Confidence,
		QualityScore:      s.QualityScore,
		LastUpdateNanos:   s.LastUpdateNanos,
		HitCount:          s.HitCount,
		ConsecutiveMisses: s.ConsecutiveMisses,
	}
}

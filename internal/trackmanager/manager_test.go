package trackmanager

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking-engine/internal/association"
	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/telemetry"
	"github.com/banshee-data/tracking-engine/internal/tracker"
)

func testParams() Params {
	return Params{
		ConfirmationThreshold:      3,
		DeletionThreshold:          3,
		DeletionThresholdConfirmed: 8,
		MaxCoastTimeSec:            10,
		QualityThreshold:           0.01,
		RetentionWindowSec:         30,
		MaxTracks:                  5,
		OperationalVolumeM:         100000,
	}
}

func testTrackerParams() tracker.Params {
	return tracker.Params{InitialUncertainty: 5, MeasurementNoise: 4, ProcessNoise: 1, MaxDt: 1}
}

func oneMemberCluster(x, y, z float64) model.Cluster {
	return model.Cluster{
		Members:    []model.Detection{{X: x, Y: y, Z: z}},
		CentroidX:  x,
		CentroidY:  y,
		CentroidZ:  z,
		Confidence: 0.8,
	}
}

func TestBirthFromUnmatchedCluster(t *testing.T) {
	m := New(testParams(), testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(10, 0, 0)
	res := association.Result{UnmatchedClus: []int{0}}
	m.ApplyFrame(nil, []model.Cluster{c}, res, 1)

	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, model.TrackTentative, snaps[0].State)
}

func TestBirthRejectedOutsideOperationalVolume(t *testing.T) {
	p := testParams()
	p.OperationalVolumeM = 100
	m := New(p, testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(1_000_000, 0, 0)
	res := association.Result{UnmatchedClus: []int{0}}
	m.ApplyFrame(nil, []model.Cluster{c}, res, 1)

	require.Empty(t, m.Snapshots())
}

func TestConfirmationAfterThreeHits(t *testing.T) {
	m := New(testParams(), testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{c}, association.Result{UnmatchedClus: []int{0}}, 1)

	for i := 0; i < 3; i++ {
		active := m.ActiveTracks()
		res := association.Result{Pairs: []association.Pair{{TrackIndex: 0, ClusterIndex: 0}}}
		m.ApplyFrame(active, []model.Cluster{c}, res, int64(i+2))
	}

	snaps := m.Snapshots()
	require.Len(t, snaps, 1)
	require.Equal(t, model.TrackConfirmed, snaps[0].State)
	require.Equal(t, uint32(3), snaps[0].HitCount)
}

func TestTentativeTerminatesAfterDeletionThreshold(t *testing.T) {
	m := New(testParams(), testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{c}, association.Result{UnmatchedClus: []int{0}}, 1)

	for i := 0; i < 3; i++ {
		active := m.ActiveTracks()
		res := association.Result{UnmatchedTrack: []int{0}}
		m.ApplyFrame(active, nil, res, int64(i+2))
	}

	require.Empty(t, m.Snapshots(), "track must be TERMINATED and excluded from snapshots")
}

func TestConfirmedCoastsThenTerminatesOnTimeout(t *testing.T) {
	m := New(testParams(), testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{c}, association.Result{UnmatchedClus: []int{0}}, 1)
	for i := 0; i < 3; i++ {
		active := m.ActiveTracks()
		res := association.Result{Pairs: []association.Pair{{TrackIndex: 0, ClusterIndex: 0}}}
		m.ApplyFrame(active, []model.Cluster{c}, res, int64(i+2))
	}
	require.Equal(t, model.TrackConfirmed, m.Snapshots()[0].State)

	nowNanos := int64(10)
	for i := 0; i < 8; i++ {
		active := m.ActiveTracks()
		m.ApplyFrame(active, nil, association.Result{UnmatchedTrack: []int{0}}, nowNanos)
		nowNanos += int64(1e9) // 1 second per missed frame
	}
	require.Equal(t, model.TrackCoasting, m.Snapshots()[0].State)

	// Exceed max_coast_time_sec (10s).
	active := m.ActiveTracks()
	m.ApplyFrame(active, nil, association.Result{UnmatchedTrack: []int{0}}, nowNanos+int64(15e9))

	require.Empty(t, m.Snapshots())
}

func TestMaxTracksEvictsLowestQualityTentative(t *testing.T) {
	p := testParams()
	p.MaxTracks = 1
	m := New(p, testTrackerParams(), &telemetry.Stats{})

	first := oneMemberCluster(10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{first}, association.Result{UnmatchedClus: []int{0}}, 1)
	require.Len(t, m.Snapshots(), 1)

	second := oneMemberCluster(-10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{second}, association.Result{UnmatchedClus: []int{0}}, 2)

	snaps := m.Snapshots()
	require.Len(t, snaps, 1, "birth cap must not be exceeded")
}

func TestCleanupRemovesOldTerminatedTracks(t *testing.T) {
	m := New(testParams(), testTrackerParams(), &telemetry.Stats{})
	c := oneMemberCluster(10, 0, 0)
	m.ApplyFrame(nil, []model.Cluster{c}, association.Result{UnmatchedClus: []int{0}}, 1)

	for i := 0; i < 3; i++ {
		active := m.ActiveTracks()
		m.ApplyFrame(active, nil, association.Result{UnmatchedTrack: []int{0}}, int64(i+2))
	}
	require.Empty(t, m.Snapshots())

	removed := m.Cleanup(int64(60e9))
	require.Equal(t, 1, removed)
}

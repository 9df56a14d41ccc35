package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectionValidRejectsOutOfBoundsFields(t *testing.T) {
	base := Detection{Range: 100, Azimuth: 0, Elevation: 0}
	require.True(t, base.Valid())

	negRange := base
	negRange.Range = -1
	require.False(t, negRange.Valid())

	badAzimuth := base
	badAzimuth.Azimuth = 4
	require.False(t, badAzimuth.Valid())

	badElevation := base
	badElevation.Elevation = 2
	require.False(t, badElevation.Valid())
}

func TestToSnapshotClonesStateIndependently(t *testing.T) {
	tr := NewTrack(1, time.Unix(0, 0))
	tr.X.SetVec(0, 10)
	tr.X.SetVec(3, 5)
	tr.P.SetSym(0, 0, 2)
	tr.HitCount = 4

	snap := tr.ToSnapshot()
	require.Equal(t, uint32(1), snap.TrackID)
	require.Equal(t, 10.0, snap.Position[0])
	require.Equal(t, 5.0, snap.Velocity[0])
	require.Equal(t, 2.0, snap.CovarianceDiag[0])
	require.Equal(t, uint32(4), snap.HitCount)

	tr.X.SetVec(0, 999)
	require.Equal(t, 10.0, snap.Position[0], "snapshot must not alias the live track state")
}

func TestAppendHistoryBoundsAtCapacity(t *testing.T) {
	tr := NewTrack(1, time.Unix(0, 0))
	for i := 0; i < TrackHistoryCap+10; i++ {
		tr.AppendHistory(Detection{BeamID: uint16(i)})
	}
	require.Len(t, tr.History, TrackHistoryCap)
	require.Equal(t, uint16(10), tr.History[0].BeamID)
}

func TestSnapshotToRecordPreservesFields(t *testing.T) {
	tr := NewTrack(7, time.Unix(0, 0))
	tr.State = TrackConfirmed
	tr.Confidence = 0.8
	snap := tr.ToSnapshot()
	rec := snap.ToRecord()
	require.Equal(t, snap.TrackID, rec.TrackID)
	require.Equal(t, snap.State, rec.State)
	require.Equal(t, snap.Confidence, rec.Confidence)
}

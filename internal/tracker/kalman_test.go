package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/tracking-engine/internal/model"
)

func defaultParams() Params {
	return Params{ProcessNoise: 1, MeasurementNoise: 4, InitialUncertainty: 5, MaxDt: 1}
}

func TestPredictConstantVelocityAdvancesPosition(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 10, 0, 0, p)

	Predict(tr, 1.0, p)

	require.InDelta(t, 10, tr.X.AtVec(0), 1e-9)
	require.InDelta(t, 10, tr.X.AtVec(3), 1e-9)
	require.False(t, tr.Degraded)
}

func TestPredictClampsOutOfRangeDtAndFlagsDegraded(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 1, 0, 0, p)

	Predict(tr, 100, p) // far beyond MaxDt=1

	require.True(t, tr.Degraded)
	require.True(t, IsFinite(tr))
}

func TestPredictPreservesPSDCovariance(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 0, 0, 0, p)

	for i := 0; i < 20; i++ {
		Predict(tr, 0.1, p)
	}

	for i := 0; i < model.StateDim; i++ {
		require.GreaterOrEqual(t, tr.P.At(i, i), 0.0, "diagonal variance must stay non-negative")
	}
}

func TestUpdateReducesPositionUncertainty(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 0, 0, 0, p)
	before := tr.P.At(0, 0)

	err := Update(tr, [3]float64{1, 0, 0}, [3]float64{}, false, 20, p)
	require.NoError(t, err)
	require.Less(t, tr.P.At(0, 0), before, "a measurement update must shrink position variance")
	require.InDelta(t, 1, tr.X.AtVec(0), 0.5)
}

func TestUpdateWithVelocityMeasurement(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 0, 0, 0, p)

	err := Update(tr, [3]float64{1, 0, 0}, [3]float64{5, 0, 0}, true, 20, p)
	require.NoError(t, err)
	require.Greater(t, tr.X.AtVec(3), 0.0, "velocity state should move toward the measured velocity")
}

func TestUpdateSingularInnovationFlagsDegraded(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := Params{ProcessNoise: 1, MeasurementNoise: 0, InitialUncertainty: 0, MaxDt: 1}
	Init(tr, 0, 0, 0, 0, 0, 0, p)

	before := tr.DegenerateGateEvents
	err := Update(tr, [3]float64{1, 0, 0}, [3]float64{}, false, 20, p)

	require.ErrorIs(t, err, ErrSingularInnovation)
	require.True(t, tr.Degraded)
	require.Equal(t, before+1, tr.DegenerateGateEvents)
}

func TestMahalanobisSquaredZeroForExactMatch(t *testing.T) {
	tr := model.NewTrack(1, time.Unix(0, 0))
	p := defaultParams()
	Init(tr, 0, 0, 0, 0, 0, 0, p)

	s := InnovationCov(tr, false, 20, p)
	y := mat.NewVecDense(3, nil)
	d2, err := MahalanobisSquared(y, s)
	require.NoError(t, err)
	require.InDelta(t, 0, d2, 1e-9)
}

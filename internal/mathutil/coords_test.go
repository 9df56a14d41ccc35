package mathutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripCoordinate(t *testing.T) {
	cases := []struct {
		r, az, el float64
	}{
		{10000, 0, 0},
		{500, math.Pi / 4, 0.2},
		{1, -math.Pi / 2, -0.5},
		{99999, math.Pi - 0.001, 1.5},
	}
	for _, c := range cases {
		x, y, z := SphericalToCartesian(c.r, c.az, c.el)
		r2, az2, el2 := CartesianToSpherical(x, y, z)
		require.InDelta(t, c.r, r2, 1e-6)
		require.InDelta(t, c.az, az2, 1e-6)
		require.InDelta(t, c.el, el2, 1e-6)
	}
}

func TestAngleDiffWraparound(t *testing.T) {
	require.InDelta(t, 0.1, AngleDiff(math.Pi+0.05, -math.Pi+0.05-0.1), 1e-9)
	require.InDelta(t, 0.2, AngleDiff(-math.Pi+0.1, math.Pi-0.1), 1e-9)
	require.Equal(t, 0.0, AngleDiff(1.0, 1.0))
}

func TestClamp01(t *testing.T) {
	require.Equal(t, 0.0, Clamp01(-1))
	require.Equal(t, 1.0, Clamp01(2))
	require.Equal(t, 0.5, Clamp01(0.5))
}

func TestPoseIdentity(t *testing.T) {
	p := Identity()
	x, y, z := p.Apply(1, 2, 3)
	require.Equal(t, 1.0, x)
	require.Equal(t, 2.0, y)
	require.Equal(t, 3.0, z)
}

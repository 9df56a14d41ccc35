package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickAdvancesTargetPosition(t *testing.T) {
	g := New(Params{Targets: []Target{{X: 0, Y: 0, Z: 0, VX: 10, VY: 0, VZ: 0}}})
	dets := g.Tick(1.0)
	require.Len(t, dets, 1)
	require.InDelta(t, 10, dets[0].X, 1e-9)
}

func TestTickIsDeterministicForAFixedSeed(t *testing.T) {
	p := Params{Targets: []Target{{X: 0, Y: 0, Z: 0, VX: 5, VY: 0, VZ: 0}}, NoiseStdDevM: 3, Seed: 7}
	g1 := New(p)
	g2 := New(p)

	for i := 0; i < 5; i++ {
		d1 := g1.Tick(0.1)
		d2 := g2.Tick(0.1)
		require.Equal(t, d1, d2)
	}
}

func TestClutterCountPerTick(t *testing.T) {
	g := New(Params{ClutterPerTick: 50, ClutterVolumeM: 1000, Seed: 3})
	dets := g.Tick(0.1)
	require.Len(t, dets, 50)
}

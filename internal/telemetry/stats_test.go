package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnapshotReflectsConcurrentIncrements(t *testing.T) {
	s := &Stats{}
	const n = 50
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		go func() {
			s.FramesDecoded.Add(1)
			s.TracksBorn.Add(1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}

	snap := s.Snapshot()
	require.Equal(t, uint64(n), snap.FramesDecoded)
	require.Equal(t, uint64(n), snap.TracksBorn)
	require.Zero(t, snap.TracksTerminated)
}

package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking-engine/internal/association"
	"github.com/banshee-data/tracking-engine/internal/config"
	"github.com/banshee-data/tracking-engine/internal/decoder"
	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/scenario"
	"github.com/banshee-data/tracking-engine/internal/telemetry"
	"github.com/banshee-data/tracking-engine/internal/tracker"
	"github.com/banshee-data/tracking-engine/internal/trackmanager"
)

type recordingSink struct {
	mu     sync.Mutex
	frames []FrameOutput
}

func (r *recordingSink) Publish(f FrameOutput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return nil
}

func (r *recordingSink) last() (FrameOutput, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return FrameOutput{}, false
	}
	return r.frames[len(r.frames)-1], true
}

func buildOrchestrator(sink Sink) (*Orchestrator, *telemetry.Stats) {
	cfg := config.Empty()
	// The scenario generator emits one detection per target per tick, so a
	// cluster must be allowed to form from a single detection.
	minPoints := 1
	cfg.Clustering.MinPoints = &minPoints
	stats := &telemetry.Stats{}
	tp := tracker.Params{ProcessNoise: 1, MeasurementNoise: 25, InitialUncertainty: 50, MaxDt: 1}
	mp := trackmanager.Params{
		ConfirmationThreshold:      3,
		DeletionThreshold:          3,
		DeletionThresholdConfirmed: 8,
		MaxCoastTimeSec:            10,
		QualityThreshold:           0.01,
		RetentionWindowSec:         30,
		MaxTracks:                  10,
		OperationalVolumeM:         1_000_000,
	}
	manager := trackmanager.New(mp, tp, stats)
	orch := New(cfg, decoder.Decode, manager, tp, sink, stats)
	return orch, stats
}

func TestSingleTargetConfirmsWithinFewFrames(t *testing.T) {
	sink := &recordingSink{}
	orch, _ := buildOrchestrator(sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.Run(ctx)
	defer orch.Stop()

	gen := scenario.New(scenario.Params{
		Targets:      []scenario.Target{{X: 10000, Y: 0, Z: 1000, VX: 100, VY: 50, VZ: 0}},
		NoiseStdDevM: 2,
		Seed:         1,
	})

	dt := 0.1
	var nowNanos int64
	for i := 0; i < 20; i++ {
		dets := gen.Tick(dt)
		buf := decoder.Encode(dets)
		nowNanos += int64(dt * 1e9)
		require.True(t, orch.Ingest(RawFrame{Buf: buf, TimestampNanos: nowNanos}))
	}

	require.Eventually(t, func() bool {
		f, ok := sink.last()
		return ok && anyConfirmed(f)
	}, 2*time.Second, 10*time.Millisecond, "expected a confirmed track within 20 frames")
}

func anyConfirmed(f FrameOutput) bool {
	for _, s := range f.Tracks {
		if s.State == model.TrackConfirmed {
			return true
		}
	}
	return false
}

func TestOrchestratorStopReturnsWithinTimeout(t *testing.T) {
	orch, _ := buildOrchestrator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	orch.params.ShutdownTimeout = 2 * time.Second
	orch.Run(ctx)

	gen := scenario.New(scenario.Params{Targets: []scenario.Target{{X: 0, Y: 0, Z: 0, VX: 1, VY: 0, VZ: 0}}, Seed: 2})
	for i := 0; i < 5; i++ {
		buf := decoder.Encode(gen.Tick(0.1))
		orch.Ingest(RawFrame{Buf: buf, TimestampNanos: int64(i)})
	}

	done := make(chan struct{})
	go func() {
		orch.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return within the expected bound")
	}
	require.False(t, orch.Ingest(RawFrame{}), "Ingest must reject work after Stop")
}

func TestIngestTWSDropsOldestFrameOnBackpressureTimeout(t *testing.T) {
	orch, stats := buildOrchestrator(nil)
	orch.mode = config.ModeTWS
	orch.rawCh = make(chan RawFrame, 1)
	orch.params.BackpressureTimeout = 10 * time.Millisecond

	require.True(t, orch.Ingest(RawFrame{TimestampNanos: 1}))
	require.True(t, orch.Ingest(RawFrame{TimestampNanos: 2}),
		"TWS must drop the oldest queued frame and accept the new one rather than reject it")

	require.Equal(t, uint64(1), stats.BackpressureDrops.Load())
	frame := <-orch.rawCh
	require.Equal(t, int64(2), frame.TimestampNanos, "the surviving frame must be the newest one")
}

func TestIngestBeamRequestBlocksAndCountsWhenFull(t *testing.T) {
	orch, stats := buildOrchestrator(nil)
	orch.mode = config.ModeBeamRequest
	orch.rawCh = make(chan RawFrame, 1)

	require.True(t, orch.Ingest(RawFrame{TimestampNanos: 1}))

	done := make(chan struct{})
	go func() {
		require.True(t, orch.Ingest(RawFrame{TimestampNanos: 2}))
		close(done)
	}()

	require.Never(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 10*time.Millisecond, "BEAM_REQUEST must block, not drop, while the channel is full")

	<-orch.rawCh // drain the channel to unblock the pending Ingest
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked Ingest did not complete after capacity freed up")
	}
	require.Equal(t, uint64(1), stats.BackpressureBlocks.Load())
}

func TestTrackStageMarksFatalOnNonFiniteTrackState(t *testing.T) {
	orch, stats := buildOrchestrator(nil)

	c := model.Cluster{
		Members:    []model.Detection{{X: 10}},
		CentroidX:  10,
		Confidence: 0.8,
	}
	orch.manager.ApplyFrame(nil, []model.Cluster{c}, association.Result{UnmatchedClus: []int{0}}, 1)

	active := orch.manager.ActiveTracks()
	require.Len(t, active, 1)
	active[0].X.SetVec(0, math.NaN())

	orch.processFrame(clusterFrame{timestampNanos: 2, prevNanos: 1})

	require.False(t, orch.Healthy(), "a non-finite track state must flip Healthy false")
	require.Equal(t, uint64(1), stats.StageFatalCount.Load())
}

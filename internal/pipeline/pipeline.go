// Package pipeline wires the decode -> cluster -> track stages into a
// concurrent, bounded, cooperatively-shutdownable worker graph (spec §4.6,
// §5). The lifecycle and shutdown shape — a cancellable context, a
// sync.WaitGroup per worker, a bounded shutdown wait — is grounded on the
// reference codebase's own top-level goroutine orchestration in main.go
// (the serial-monitor/HTTP-server/subscribe goroutines joined via
// signal.NotifyContext + sync.WaitGroup).
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/tracking-engine/internal/association"
	"github.com/banshee-data/tracking-engine/internal/clustering"
	"github.com/banshee-data/tracking-engine/internal/config"
	"github.com/banshee-data/tracking-engine/internal/model"
	"github.com/banshee-data/tracking-engine/internal/telemetry"
	"github.com/banshee-data/tracking-engine/internal/tracker"
	"github.com/banshee-data/tracking-engine/internal/trackmanager"
)

// RawFrame is one opaque, timestamped buffer arriving from the sensor
// adapter, decoded by the decode stage (spec §4.1).
type RawFrame struct {
	Buf            []byte
	TimestampNanos int64
}

// Sink receives every frame's resolved track snapshots. Implementations
// (a persistence sink, a network publisher) must not block indefinitely —
// the track stage sends to it on the bottleneck path.
type Sink interface {
	Publish(frame FrameOutput) error
}

// FrameOutput is what the track stage hands downstream once a frame's
// predict/associate/apply cycle completes (spec §4.6, "whole-frame atomic
// states").
type FrameOutput struct {
	TimestampNanos int64
	Tracks         []model.Snapshot
}

// Decoder decodes one raw frame into detections (spec §4.1).
type Decoder func(buf []byte, timestampNanos int64) ([]model.Detection, error)

// Params configures channel capacities and shutdown timing (spec §5,
// "Cancellation").
type Params struct {
	ChannelCapacity int
	ShutdownTimeout time.Duration
	HealthInterval  time.Duration

	// BackpressureTimeout bounds how long Ingest waits for channel
	// capacity before applying the tracking-mode backpressure policy
	// (spec §7, Backpressure).
	BackpressureTimeout time.Duration
}

// Orchestrator owns the stage workers, their bounded channels, the health
// monitor, and cooperative shutdown (spec §4.6).
type Orchestrator struct {
	params        Params
	decode        Decoder
	mode          config.TrackingMode
	cluster       clustering.Params
	assoc         association.Params
	trackerParams tracker.Params
	manager       *trackmanager.Manager
	sink          Sink
	stats         *telemetry.Stats

	healthy atomic.Bool
	stopped atomic.Bool

	rawCh     chan RawFrame
	detCh     chan detFrame
	clusterCh chan clusterFrame

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type detFrame struct {
	dets           []model.Detection
	timestampNanos int64
}

type clusterFrame struct {
	clusters       []model.Cluster
	timestampNanos int64
	prevNanos      int64
}

// New constructs an Orchestrator wired from a TuningConfig and a track
// manager the caller has already built (spec §4.6, "Instantiates stages,
// channels, and workers").
func New(cfg *config.TuningConfig, decode Decoder, manager *trackmanager.Manager, trackerParams tracker.Params, sink Sink, stats *telemetry.Stats) *Orchestrator {
	cap := 64
	o := &Orchestrator{
		params: Params{
			ChannelCapacity:     cap,
			ShutdownTimeout:     30 * time.Second,
			HealthInterval:      1 * time.Second,
			BackpressureTimeout: 200 * time.Millisecond,
		},
		decode:        decode,
		mode:          cfg.GetTrackingMode(),
		trackerParams: trackerParams,
		cluster: clustering.Params{
			Epsilon:               cfg.GetEpsilon(),
			MinPoints:             cfg.GetMinPoints(),
			RangeWeight:           cfg.GetRangeWeight(),
			AzimuthWeight:         cfg.GetAzimuthWeight(),
			VelocityWeight:        cfg.GetVelocityWeight(),
			UseAdaptiveEpsilon:    cfg.GetUseAdaptiveEpsilon(),
			AdaptiveEpsilonFactor: cfg.GetAdaptiveEpsilonFactor(),
			MaxClusters:           cfg.GetMaxClusters(),
			SNRThreshold:          cfg.GetSNRThreshold(),
			PreprocessBySNR:       cfg.GetPreprocessBySNR(),
			SNRRef:                cfg.GetSNRRef(),
			SaturationCount:       cfg.GetSaturationCount(),
			MinConfidence:         cfg.GetMinConfidence(),
		},
		assoc: association.Params{
			ValidationGate: cfg.GetValidationGate(),
			ClutterDensity: cfg.GetClutterDensity(),
		},
		manager: manager,
		sink:    sink,
		stats:   stats,
	}
	o.healthy.Store(true)
	o.rawCh = make(chan RawFrame, o.params.ChannelCapacity)
	o.detCh = make(chan detFrame, o.params.ChannelCapacity)
	o.clusterCh = make(chan clusterFrame, o.params.ChannelCapacity)
	return o
}

// Ingest enqueues a raw frame, applying the configured tracking mode's
// backpressure policy when the decode stage's input channel is full
// (spec §7, Backpressure). BEAM_REQUEST blocks until capacity frees up,
// recording a BackpressureBlocks stat if the send did not land
// immediately. TWS instead waits up to BackpressureTimeout, then drops
// the oldest queued frame to make room for the new one rather than
// stall the sensor-facing caller. Returns false if the orchestrator has
// stopped accepting work, or if TWS could not make room for the frame.
func (o *Orchestrator) Ingest(frame RawFrame) bool {
	if o.stopped.Load() {
		return false
	}
	if o.mode == config.ModeBeamRequest {
		select {
		case o.rawCh <- frame:
			return true
		default:
		}
		if o.stats != nil {
			o.stats.BackpressureBlocks.Add(1)
		}
		o.rawCh <- frame
		return true
	}

	select {
	case o.rawCh <- frame:
		return true
	case <-time.After(o.params.BackpressureTimeout):
	}
	if o.stats != nil {
		o.stats.BackpressureDrops.Add(1)
	}
	select {
	case <-o.rawCh: // drop the oldest queued frame to make room
	default:
	}
	select {
	case o.rawCh <- frame:
		return true
	default:
		return false
	}
}

// Healthy reports whether every stage is still running without a fatal
// error (spec §4.6, "health").
func (o *Orchestrator) Healthy() bool {
	return o.healthy.Load()
}

// Run starts all stage workers and the health monitor; it returns
// immediately. Call Stop to shut down.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go o.decodeStage(runCtx)
	o.wg.Add(1)
	go o.clusterStage(runCtx)
	o.wg.Add(1)
	go o.trackStage(runCtx)
	o.wg.Add(1)
	go o.healthMonitor(runCtx)
}

// Stop initiates cooperative shutdown: the stop flag is flipped first (new
// Ingest calls are rejected), then the run context is cancelled and Stop
// waits up to ShutdownTimeout for every worker to return. Each stage
// returns at its next select once the context is cancelled, so frames
// still queued in the stage channels are discarded, not processed.
func (o *Orchestrator) Stop() {
	if o.stopped.Swap(true) {
		return
	}
	if o.cancel != nil {
		o.cancel()
	}
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(o.params.ShutdownTimeout):
		if o.stats != nil {
			o.stats.ShutdownTimeouts.Add(1)
		}
	}
}

// markFatal flips Healthy to false and initiates shutdown (spec §4.6/§7,
// StageFatal). Stop runs in its own goroutine: markFatal is always called
// from inside a stage worker, and Stop blocks on that same worker's
// sync.WaitGroup entry, so calling it inline here would have the worker
// wait on its own exit.
func (o *Orchestrator) markFatal() {
	o.healthy.Store(false)
	if o.stats != nil {
		o.stats.StageFatalCount.Add(1)
	}
	go o.Stop()
}

func (o *Orchestrator) decodeStage(ctx context.Context) {
	defer o.wg.Done()
	defer close(o.detCh)
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-o.rawCh:
			if !ok {
				return
			}
			dets, err := o.decode(raw.Buf, raw.TimestampNanos)
			if err != nil {
				if o.stats != nil {
					o.stats.DecodeMalformed.Add(1)
				}
				if len(dets) == 0 {
					// Nothing recoverable in this frame; drop it and move on.
					continue
				}
			}
			if o.stats != nil {
				o.stats.FramesDecoded.Add(1)
			}
			select {
			case o.detCh <- detFrame{dets: dets, timestampNanos: raw.TimestampNanos}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (o *Orchestrator) clusterStage(ctx context.Context) {
	defer o.wg.Done()
	defer close(o.clusterCh)
	var prevNanos int64
	for {
		select {
		case <-ctx.Done():
			return
		case df, ok := <-o.detCh:
			if !ok {
				return
			}
			clusters := clustering.Cluster(df.dets, o.cluster)
			if o.stats != nil {
				o.stats.ClustersFormed.Add(uint64(len(clusters)))
				o.stats.DetectionsNoise.Add(uint64(len(df.dets) - countClustered(clusters)))
			}
			out := clusterFrame{clusters: clusters, timestampNanos: df.timestampNanos, prevNanos: prevNanos}
			prevNanos = df.timestampNanos
			select {
			case o.clusterCh <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}

func countClustered(clusters []model.Cluster) int {
	n := 0
	for _, c := range clusters {
		n += len(c.Members)
	}
	return n
}

func (o *Orchestrator) trackStage(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cf, ok := <-o.clusterCh:
			if !ok {
				return
			}
			o.processFrame(cf)
		}
	}
}

func (o *Orchestrator) processFrame(cf clusterFrame) {
	dt := 0.0
	if cf.prevNanos > 0 {
		dt = float64(cf.timestampNanos-cf.prevNanos) / 1e9
	}
	o.manager.Predict(dt)

	active := o.manager.ActiveTracks()
	res := association.Associate(active, cf.clusters, o.assoc, o.trackerParams)
	if o.stats != nil {
		o.stats.Associations.Add(uint64(len(res.Pairs)))
	}
	o.manager.ApplyFrame(active, cf.clusters, res, cf.timestampNanos)
	o.manager.Cleanup(cf.timestampNanos)

	for _, t := range active {
		if !tracker.IsFinite(t) {
			// A NaN/Inf state or covariance is an internal invariant
			// violation the estimator's own guards could not repair, not a
			// recoverable per-frame error (spec §4.6/§7, StageFatal): the
			// track table can no longer be trusted, so flip health false and
			// shut down rather than keep publishing corrupted tracks.
			o.markFatal()
			return
		}
	}

	if o.sink == nil {
		return
	}
	out := FrameOutput{TimestampNanos: cf.timestampNanos, Tracks: o.manager.Snapshots()}
	if err := o.sink.Publish(out); err != nil {
		// Sink failures are recoverable: the track table is the source of
		// truth, a dropped publish does not corrupt state. The failure is
		// counted under BackpressureDrops, not logged, and the stage
		// continues.
		if o.stats != nil {
			o.stats.BackpressureDrops.Add(1)
		}
	}
}

func (o *Orchestrator) healthMonitor(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.params.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.healthy.Load() {
				return
			}
		}
	}
}

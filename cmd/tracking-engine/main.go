// Command tracking-engine runs the radar multi-target tracking pipeline
// as a standalone process: read frames from a UDP ingress adapter, a
// replay capture, or (in --scenario mode) a synthetic generator, decode,
// cluster, associate, track, and publish resolved tracks to any
// combination of a sqlite store and the reference stdout/jsonl egress
// adapters. Wiring and the signal-driven shutdown sequence are grounded
// on the reference codebase's own main.go (signal.NotifyContext +
// sync.WaitGroup + bounded server.Shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/tracking-engine/internal/config"
	"github.com/banshee-data/tracking-engine/internal/decoder"
	"github.com/banshee-data/tracking-engine/internal/egress"
	"github.com/banshee-data/tracking-engine/internal/ingress"
	"github.com/banshee-data/tracking-engine/internal/pipeline"
	"github.com/banshee-data/tracking-engine/internal/scenario"
	"github.com/banshee-data/tracking-engine/internal/storage/sqlite"
	"github.com/banshee-data/tracking-engine/internal/telemetry"
	"github.com/banshee-data/tracking-engine/internal/tracker"
	"github.com/banshee-data/tracking-engine/internal/trackmanager"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a tuning config JSON file (defaults are used if omitted)")
	dbPath := flag.String("db", "", "path to a SQLite database file for track persistence (disabled if omitted)")
	logLevel := flag.String("log-level", "ops", "minimum log stream to enable: ops, diag, or trace")
	validateOnly := flag.Bool("validate", false, "load and validate the config, then exit")
	runScenario := flag.Bool("scenario", false, "inject a synthetic scenario instead of reading a live sensor feed")
	scenarioDuration := flag.Duration("scenario-duration", 30*time.Second, "how long to run the synthetic scenario")
	udpAddr := flag.String("udp-addr", "", "listen address for the reference UDP ingress adapter (disabled if omitted)")
	replayPath := flag.String("replay", "", "path to a length-prefixed frame capture to replay through the reference reader ingress adapter (disabled if omitted)")
	egressMode := flag.String("egress", "", "reference egress adapter to enable in addition to --db: stdout, jsonl, or both (disabled if omitted)")
	egressPath := flag.String("egress-path", "", "file path for the jsonl egress adapter (required if --egress includes jsonl)")
	flag.Parse()

	setupLogging(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		telemetry.Opsf("config error: %v", err)
		return 1
	}
	if *validateOnly {
		fmt.Println("config OK")
		return 0
	}

	stats := &telemetry.Stats{}
	trackerParams := tracker.Params{
		ProcessNoise:       cfg.GetProcessNoise(),
		MeasurementNoise:   cfg.GetMeasurementNoise(),
		InitialUncertainty: cfg.GetInitialUncertaintyPos(),
		MaxDt:              cfg.GetMaxDt(),
	}
	managerParams := trackmanager.Params{
		ConfirmationThreshold:      uint32(cfg.GetConfirmationThreshold()),
		DeletionThreshold:          uint32(cfg.GetDeletionThreshold()),
		DeletionThresholdConfirmed: uint32(cfg.GetDeletionThresholdConfirmed()),
		MaxCoastTimeSec:            cfg.GetMaxCoastTimeSec(),
		QualityThreshold:           cfg.GetQualityThreshold(),
		RetentionWindowSec:         cfg.GetRetentionWindowSec(),
		MaxTracks:                  cfg.GetMaxTracks(),
		OperationalVolumeM:         cfg.GetOperationalVolumeM(),
	}
	manager := trackmanager.New(managerParams, trackerParams, stats)

	var sinks []pipeline.Sink
	if *dbPath != "" {
		store, err := sqlite.Open(*dbPath)
		if err != nil {
			telemetry.Opsf("failed to open sqlite store: %v", err)
			return 1
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	if *egressMode == "stdout" || *egressMode == "both" {
		sinks = append(sinks, egress.NewStdoutSink(os.Stdout))
	}
	if *egressMode == "jsonl" || *egressMode == "both" {
		if *egressPath == "" {
			telemetry.Opsf("--egress %s requires --egress-path", *egressMode)
			return 1
		}
		jsonlSink, err := egress.OpenJSONLinesSink(*egressPath)
		if err != nil {
			telemetry.Opsf("failed to open jsonl egress sink: %v", err)
			return 1
		}
		defer jsonlSink.Close()
		sinks = append(sinks, jsonlSink)
	}
	sink := pipeline.Sink(egress.NewMultiSink(sinks...))

	orch := pipeline.New(cfg, decoder.Decode, manager, trackerParams, sink, stats)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Run(ctx)
	telemetry.Opsf("tracking engine started")

	var ingressAdapter ingress.Adapter
	switch {
	case *udpAddr != "":
		a := ingress.NewUDPAdapter(*udpAddr, 0, func(buf []byte, timestampNanos int64) {
			orch.Ingest(pipeline.RawFrame{Buf: buf, TimestampNanos: timestampNanos})
		})
		ingressAdapter = a
		go func() {
			if err := a.Start(ctx); err != nil && ctx.Err() == nil {
				telemetry.Opsf("udp ingress adapter stopped: %v", err)
			}
		}()
	case *replayPath != "":
		f, err := os.Open(*replayPath)
		if err != nil {
			telemetry.Opsf("failed to open replay capture: %v", err)
			return 1
		}
		defer f.Close()
		hz := cfg.GetUpdateRateHz()
		if hz <= 0 {
			hz = 10
		}
		pace := time.Duration(float64(time.Second) / hz)
		a := ingress.NewReaderAdapter(f, pace, func(buf []byte, timestampNanos int64) {
			orch.Ingest(pipeline.RawFrame{Buf: buf, TimestampNanos: timestampNanos})
		})
		ingressAdapter = a
		go func() {
			if err := a.Start(ctx); err != nil && ctx.Err() == nil {
				telemetry.Opsf("replay ingress adapter stopped: %v", err)
			}
		}()
	}

	if *runScenario {
		go runSyntheticScenario(ctx, orch, cfg, *scenarioDuration)
	}

	<-ctx.Done()
	telemetry.Opsf("shutdown signal received, stopping orchestrator")
	if ingressAdapter != nil {
		_ = ingressAdapter.Stop()
	}
	orch.Stop()

	telemetry.Opsf("final stats: %+v", stats.Snapshot())
	if !orch.Healthy() {
		return 1
	}
	return 0
}

// runSyntheticScenario feeds the orchestrator a deterministic two-target
// crossing scenario at the configured update rate until ctx is cancelled
// or duration elapses (spec §6 "--scenario"; spec §8 scenario 3).
func runSyntheticScenario(ctx context.Context, orch *pipeline.Orchestrator, cfg *config.TuningConfig, duration time.Duration) {
	hz := cfg.GetUpdateRateHz()
	if hz <= 0 {
		hz = 10
	}
	dt := 1.0 / hz
	gen := scenario.New(scenario.Params{
		Targets: []scenario.Target{
			{X: -30000, Y: 0, Z: 2000, VX: 200, VY: 0, VZ: 0},
			{X: 30000, Y: 0, Z: 2500, VX: -180, VY: 0, VZ: 0},
		},
		NoiseStdDevM: 5,
		Seed:         42,
	})

	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	var nowNanos int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				return
			}
			dets := gen.Tick(dt)
			buf := decoder.Encode(dets)
			nowNanos += int64(dt * 1e9)
			if !orch.Ingest(pipeline.RawFrame{Buf: buf, TimestampNanos: nowNanos}) {
				return
			}
		}
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.Empty(), nil
	}
	return config.Load(path)
}

func setupLogging(level string) {
	switch level {
	case "trace":
		telemetry.SetLogWriters(os.Stderr, os.Stderr, os.Stderr)
	case "diag":
		telemetry.SetLogWriters(os.Stderr, os.Stderr, nil)
	default:
		telemetry.SetLogWriters(os.Stderr, nil, nil)
	}
}

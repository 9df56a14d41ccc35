package telemetry

import "sync/atomic"

// Stats holds monotonically-increasing counters for every recoverable error
// kind and pipeline event the engine reports on. Reads may be slightly
// stale relative to concurrent writers; that is an accepted tradeoff for
// lock-free counters on the hot path.
type Stats struct {
	FramesDecoded       atomic.Uint64
	DecodeMalformed     atomic.Uint64
	ClustersFormed      atomic.Uint64
	DetectionsNoise     atomic.Uint64
	Associations        atomic.Uint64
	DegenerateUpdates   atomic.Uint64
	TracksBorn          atomic.Uint64
	TracksConfirmed     atomic.Uint64
	TracksCoasted       atomic.Uint64
	TracksTerminated    atomic.Uint64
	TracksEvicted       atomic.Uint64
	BirthsDropped       atomic.Uint64
	BackpressureDrops   atomic.Uint64
	BackpressureBlocks  atomic.Uint64
	StageFatalCount     atomic.Uint64
	ShutdownTimeouts    atomic.Uint64
}

// Snapshot is a point-in-time, plain-value copy of Stats suitable for JSON
// marshalling or comparison in tests.
type Snapshot struct {
	FramesDecoded      uint64 `json:"frames_decoded"`
	DecodeMalformed    uint64 `json:"decode_malformed"`
	ClustersFormed     uint64 `json:"clusters_formed"`
	DetectionsNoise    uint64 `json:"detections_noise"`
	Associations       uint64 `json:"associations"`
	DegenerateUpdates  uint64 `json:"degenerate_updates"`
	TracksBorn         uint64 `json:"tracks_born"`
	TracksConfirmed    uint64 `json:"tracks_confirmed"`
	TracksCoasted      uint64 `json:"tracks_coasted"`
	TracksTerminated   uint64 `json:"tracks_terminated"`
	TracksEvicted      uint64 `json:"tracks_evicted"`
	BirthsDropped      uint64 `json:"births_dropped"`
	BackpressureDrops  uint64 `json:"backpressure_drops"`
	BackpressureBlocks uint64 `json:"backpressure_blocks"`
	StageFatalCount    uint64 `json:"stage_fatal_count"`
	ShutdownTimeouts   uint64 `json:"shutdown_timeouts"`
}

// Snapshot returns a consistent-enough plain-value copy of the counters.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		FramesDecoded:      s.FramesDecoded.Load(),
		DecodeMalformed:    s.DecodeMalformed.Load(),
		ClustersFormed:     s.ClustersFormed.Load(),
		DetectionsNoise:    s.DetectionsNoise.Load(),
		Associations:       s.Associations.Load(),
		DegenerateUpdates:  s.DegenerateUpdates.Load(),
		TracksBorn:         s.TracksBorn.Load(),
		TracksConfirmed:    s.TracksConfirmed.Load(),
		TracksCoasted:      s.TracksCoasted.Load(),
		TracksTerminated:   s.TracksTerminated.Load(),
		TracksEvicted:      s.TracksEvicted.Load(),
		BirthsDropped:      s.BirthsDropped.Load(),
		BackpressureDrops:  s.BackpressureDrops.Load(),
		BackpressureBlocks: s.BackpressureBlocks.Load(),
		StageFatalCount:    s.StageFatalCount.Load(),
		ShutdownTimeouts:   s.ShutdownTimeouts.Load(),
	}
}

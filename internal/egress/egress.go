// Package egress provides reference implementations of the egress
// contract (spec §6): pluggable adapters that receive the orchestrator's
// per-frame track output at the pipeline rate. The core only defines the
// record shapes (pipeline.FrameOutput / model.Snapshot); these adapters
// are collaborators outside the core, wired only at cmd/tracking-engine
// for development-time observability.
package egress

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/tracking-engine/internal/pipeline"
)

// record is the JSON shape written by JSONLinesSink and StdoutSink, one
// object per track per frame so each line stands alone (spec §6, "Track
// record format").
type record struct {
	TimestampNanos    int64      `json:"timestamp_nanos"`
	TrackID           uint32     `json:"track_id"`
	State             string     `json:"state"`
	Position          [3]float64 `json:"position"`
	Velocity          [3]float64 `json:"velocity"`
	Acceleration      [3]float64 `json:"acceleration"`
	Confidence        float64    `json:"confidence"`
	QualityScore      float64    `json:"quality_score"`
	HitCount          uint32     `json:"hit_count"`
	ConsecutiveMisses uint32     `json:"consecutive_misses"`
}

func toRecords(frame pipeline.FrameOutput) []record {
	out := make([]record, len(frame.Tracks))
	for i, t := range frame.Tracks {
		out[i] = record{
			TimestampNanos:    frame.TimestampNanos,
			TrackID:           t.TrackID,
			State:             t.State.String(),
			Position:          t.Position,
			Velocity:          t.Velocity,
			Acceleration:      t.Acceleration,
			Confidence:        t.Confidence,
			QualityScore:      t.QualityScore,
			HitCount:          t.HitCount,
			ConsecutiveMisses: t.ConsecutiveMisses,
		}
	}
	return out
}

// JSONLinesSink is the reference JSON-lines file egress adapter (spec
// §6): one JSON object per line, one line per track per frame.
type JSONLinesSink struct {
	f *os.File
	w *bufio.Writer
}

// OpenJSONLinesSink creates or truncates the file at path and returns a
// pipeline.Sink that appends one JSON line per track per published frame.
func OpenJSONLinesSink(path string) (*JSONLinesSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create jsonlines egress file: %w", err)
	}
	return &JSONLinesSink{f: f, w: bufio.NewWriter(f)}, nil
}

var _ pipeline.Sink = (*JSONLinesSink)(nil)

// Publish writes one JSON line per track in frame.
func (s *JSONLinesSink) Publish(frame pipeline.FrameOutput) error {
	enc := json.NewEncoder(s.w)
	for _, r := range toRecords(frame) {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode track record: %w", err)
		}
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *JSONLinesSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// StdoutSink is the reference stdout egress adapter (spec §6): the same
// JSON-lines record shape, written to an arbitrary io.Writer (os.Stdout
// at the CLI call site) for quick inspection during development.
type StdoutSink struct {
	w   io.Writer
	enc *json.Encoder
}

// NewStdoutSink wraps w (typically os.Stdout) as a pipeline.Sink.
func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w, enc: json.NewEncoder(w)}
}

var _ pipeline.Sink = (*StdoutSink)(nil)

// Publish writes one JSON line per track in frame to the wrapped writer.
func (s *StdoutSink) Publish(frame pipeline.FrameOutput) error {
	for _, r := range toRecords(frame) {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("encode track record: %w", err)
		}
	}
	return nil
}

// MultiSink fans a single frame out to every wrapped sink, continuing on
// to the rest even if one fails, and returns the first error encountered
// (spec §6, "Adapters are pluggable").
type MultiSink struct {
	sinks []pipeline.Sink
}

// NewMultiSink combines sinks into one pipeline.Sink. Nil sinks are
// skipped, so callers can pass optionally-configured adapters directly.
func NewMultiSink(sinks ...pipeline.Sink) *MultiSink {
	filtered := make([]pipeline.Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

var _ pipeline.Sink = (*MultiSink)(nil)

// Publish calls Publish on every wrapped sink, returning the first error.
func (m *MultiSink) Publish(frame pipeline.FrameOutput) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Publish(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

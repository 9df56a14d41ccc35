// Package engineerr defines the tracking engine's error-kind taxonomy
// (spec §7). Each kind is a sentinel value comparable with errors.Is;
// call sites wrap it with fmt.Errorf("...: %w", ErrX) to attach context.
package engineerr

import "errors"

// Sentinel error kinds. ConfigInvalid is fatal at init. DecodeMalformed,
// Degenerate, Backpressure, and CapacityExceeded are recoverable: the
// pipeline counts them in telemetry.Stats and keeps running, without
// logging them. StageFatal and ShutdownTimeout terminate the pipeline.
var (
	ErrConfigInvalid     = errors.New("config invalid")
	ErrDecodeMalformed   = errors.New("decode malformed")
	ErrDegenerate        = errors.New("degenerate numerical state")
	ErrBackpressure      = errors.New("backpressure")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrStageFatal        = errors.New("stage fatal")
	ErrShutdownTimeout   = errors.New("shutdown timeout")
)

// Recoverable reports whether err (or any error it wraps) is one of the
// kinds the orchestrator tolerates without initiating shutdown.
func Recoverable(err error) bool {
	switch {
	case errors.Is(err, ErrDecodeMalformed),
		errors.Is(err, ErrDegenerate),
		errors.Is(err, ErrBackpressure),
		errors.Is(err, ErrCapacityExceeded):
		return true
	default:
		return false
	}
}

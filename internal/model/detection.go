// Package model defines the data types shared across every pipeline
// stage: Detection (decoder output), Cluster (clustering output), and
// Track (the persistent tracked entity) — spec §3.
package model

import "github.com/google/uuid"

// Detection is an immutable measurement produced by the decoder. Position
// and velocity are in the sensor's Cartesian frame (meters, meters/sec).
type Detection struct {
	ID uuid.UUID

	X, Y, Z       float64
	VX, VY, VZ    float64
	HasVelocity   bool

	Range     float64 // meters, >= 0
	Azimuth   float64 // radians, in [-pi, pi]
	Elevation float64 // radians, in [-pi/2, pi/2]

	SNRdB float64
	RCSm2 float64
	BeamID uint16

	// TimestampNanos is the monotonic arrival time of the frame this
	// detection belongs to (unix nanoseconds). Non-decreasing within one
	// decoder output.
	TimestampNanos int64
}

// Valid reports whether the detection satisfies the data-model invariants
// from spec §3 (range/azimuth/elevation bounds).
func (d Detection) Valid() bool {
	const halfPi = 1.5707963267948966
	const pi = 3.141592653589793
	if d.Range < 0 {
		return false
	}
	if d.Azimuth < -pi || d.Azimuth > pi {
		return false
	}
	if d.Elevation < -halfPi || d.Elevation > halfPi {
		return false
	}
	return true
}

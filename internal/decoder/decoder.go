// Package decoder turns an opaque per-frame byte buffer into a slice of
// detections (spec §4.1). It is a pure function of its input: no I/O, no
// internal mutable state beyond what a caller explicitly threads through.
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/banshee-data/tracking-engine/internal/engineerr"
	"github.com/banshee-data/tracking-engine/internal/mathutil"
	"github.com/banshee-data/tracking-engine/internal/model"
)

// Frame wire format: a 4-byte magic, a 4-byte little-endian record count,
// then that many fixed recordSize-byte records. This is this
// implementation's concrete choice of "opaque byte buffer" (spec §4.1 and
// §6 ingress contract leave the wire format to the decoder), modeled in
// spirit on the reference codebase's fixed-layout Pandar40P UDP packet
// (magic preamble + fixed-size data blocks).
const (
	magic      uint32 = 0x52445345 // "RDSE"
	headerSize        = 8
	recordSize        = 28
)

// Record layout within recordSize bytes, all little-endian:
//
//	range_m             float32  [0:4]
//	azimuth_rad         float32  [4:8]
//	elevation_rad       float32  [8:12]
//	radial_velocity_mps float32  [12:16]
//	snr_db              float32  [16:20]
//	rcs_m2              float32  [20:24]
//	beam_id             uint16   [24:26]
//	reserved            uint16   [26:28]

// Decode parses buf into detections, stamping every detection with
// timestampNanos (the frame's arrival time, per spec §4.1). On malformed
// input it returns the valid prefix of detections together with a
// wrapped engineerr.ErrDecodeMalformed describing how many trailing bytes
// were dropped; it never panics and never returns a nil slice alongside a
// nil error for an empty, well-formed, zero-record frame.
func Decode(buf []byte, timestampNanos int64) ([]model.Detection, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: frame shorter than header (%d bytes)", engineerr.ErrDecodeMalformed, len(buf))
	}
	gotMagic := binary.LittleEndian.Uint32(buf[0:4])
	if gotMagic != magic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", engineerr.ErrDecodeMalformed, gotMagic)
	}
	count := binary.LittleEndian.Uint32(buf[4:8])
	declared := count

	body := buf[headerSize:]
	maxRecords := uint32(len(body) / recordSize)
	truncated := count > maxRecords
	if truncated {
		count = maxRecords
	}

	dets := make([]model.Detection, 0, count)
	for i := uint32(0); i < count; i++ {
		off := int(i) * recordSize
		rec := body[off : off+recordSize]

		rng := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4])))
		az := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8])))
		el := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12])))
		vr := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16])))
		snr := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[16:20])))
		rcs := float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[20:24])))
		beamID := binary.LittleEndian.Uint16(rec[24:26])

		x, y, z := mathutil.SphericalToCartesian(rng, az, el)

		d := model.Detection{
			ID:             uuid.New(),
			X:              x,
			Y:              y,
			Z:              z,
			Range:          rng,
			Azimuth:        az,
			Elevation:      el,
			SNRdB:          snr,
			RCSm2:          rcs,
			BeamID:         beamID,
			TimestampNanos: timestampNanos,
		}
		if vr != 0 && rng > 0 {
			// Radial velocity projects along the line of sight; decompose
			// onto the Cartesian axes using the same unit vector as position.
			d.VX = vr * (x / rng)
			d.VY = vr * (y / rng)
			d.VZ = vr * (z / rng)
			d.HasVelocity = true
		}

		if !d.Valid() {
			continue
		}
		dets = append(dets, d)
	}

	if truncated {
		droppedBytes := len(body) - int(maxRecords)*recordSize
		return dets, fmt.Errorf("%w: declared %d records but only %d fit in buffer, dropped %d trailing bytes",
			engineerr.ErrDecodeMalformed, declared, maxRecords, droppedBytes)
	}
	return dets, nil
}

// Encode serializes detections back into the wire frame format. It is
// provided for tests and the scenario generator, not used by the pipeline
// itself (the decoder's contract is one-directional per spec §4.1).
func Encode(dets []model.Detection) []byte {
	buf := make([]byte, headerSize+len(dets)*recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(dets)))
	for i, d := range dets {
		off := headerSize + i*recordSize
		rec := buf[off : off+recordSize]
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(float32(d.Range)))
		binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(float32(d.Azimuth)))
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(d.Elevation)))
		var vr float32
		if d.HasVelocity && d.Range > 0 {
			vr = float32((d.VX*d.X + d.VY*d.Y + d.VZ*d.Z) / d.Range)
		}
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(vr))
		binary.LittleEndian.PutUint32(rec[16:20], math.Float32bits(float32(d.SNRdB)))
		binary.LittleEndian.PutUint32(rec[20:24], math.Float32bits(float32(d.RCSm2)))
		binary.LittleEndian.PutUint16(rec[24:26], d.BeamID)
	}
	return buf
}

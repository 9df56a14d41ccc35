package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking-engine/internal/engineerr"
	"github.com/banshee-data/tracking-engine/internal/model"
)

func TestDecodeRoundTrip(t *testing.T) {
	dets := []model.Detection{
		{Range: 1000, Azimuth: 0.1, Elevation: 0.02, SNRdB: 15, RCSm2: 2.5, BeamID: 3},
		{Range: 2500, Azimuth: -0.5, Elevation: -0.1, SNRdB: 8, RCSm2: 1.1, BeamID: 7},
	}
	buf := Encode(dets)

	got, err := Decode(buf, 42)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.InDelta(t, 1000, got[0].Range, 1e-3)
	require.InDelta(t, 0.1, got[0].Azimuth, 1e-5)
	require.Equal(t, uint16(3), got[0].BeamID)
	require.Equal(t, int64(42), got[0].TimestampNanos)
}

func TestDecodeEmptyFrame(t *testing.T) {
	buf := Encode(nil)
	got, err := Decode(buf, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeBadMagic(t *testing.T) {
	buf := Encode(nil)
	binary.LittleEndian.PutUint32(buf[0:4], 0xdeadbeef)
	_, err := Decode(buf, 1)
	require.ErrorIs(t, err, engineerr.ErrDecodeMalformed)
}

func TestDecodeTooShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3}, 1)
	require.ErrorIs(t, err, engineerr.ErrDecodeMalformed)
}

func TestDecodeTruncatedTrailingBytes(t *testing.T) {
	dets := []model.Detection{
		{Range: 500, Azimuth: 0, Elevation: 0, SNRdB: 10},
		{Range: 600, Azimuth: 0.1, Elevation: 0, SNRdB: 10},
	}
	buf := Encode(dets)
	// Declare more records than actually fit and also chop off part of the
	// second record to exercise the truncated-trailing-bytes path.
	truncated := buf[:headerSize+recordSize+recordSize/2]
	binary.LittleEndian.PutUint32(truncated[4:8], 2)

	got, err := Decode(truncated, 7)
	require.Error(t, err)
	require.ErrorIs(t, err, engineerr.ErrDecodeMalformed)
	require.Len(t, got, 1, "valid prefix must still be returned")
}

func TestDecodeDropsInvalidDetections(t *testing.T) {
	dets := []model.Detection{
		{Range: -1, Azimuth: 0, Elevation: 0}, // invalid: negative range
		{Range: 10, Azimuth: 0, Elevation: 0},
	}
	buf := Encode(dets)
	got, err := Decode(buf, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

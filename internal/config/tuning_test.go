package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tracking-engine/internal/engineerr"
)

func TestEmptyConfigAccessorsReturnDocumentedDefaults(t *testing.T) {
	c := Empty()
	require.Equal(t, ModeTWS, c.GetTrackingMode())
	require.Equal(t, 100, c.GetMaxTracks())
	require.Equal(t, 0.99, c.GetValidationGate())
	require.Equal(t, 0.01, c.GetClutterDensity())
}

func TestLoadMergesPartialDocumentOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"system": {"max_tracks": 50},
		"algorithms_association": {"validation_gate": 0.95}
	}`), 0o600))

	got, err := Load(path)
	require.NoError(t, err)

	want := Empty()
	want.System.MaxTracks = intPtr(50)
	want.Association.ValidationGate = float64Ptr(0.95)

	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("loaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.txt")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, engineerr.ErrConfigInvalid)
}

func TestValidateRejectsOutOfRangeValidationGate(t *testing.T) {
	c := Empty()
	c.Association.ValidationGate = float64Ptr(1.5)
	require.ErrorIs(t, c.Validate(), engineerr.ErrConfigInvalid)
}

func TestValidateRejectsUnknownTrackingMode(t *testing.T) {
	c := Empty()
	mode := "NOT_A_MODE"
	c.System.TrackingMode = &mode
	require.ErrorIs(t, c.Validate(), engineerr.ErrConfigInvalid)
}

func intPtr(v int) *int             { return &v }
func float64Ptr(v float64) *float64 { return &v }

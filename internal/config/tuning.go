// Package config loads and validates the tracking engine's tuning
// configuration — the single read-only configuration object constructed
// once at startup and passed by reference into every stage (spec §9,
// "no ambient singletons").
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/tracking-engine/internal/engineerr"
)

// TrackingMode selects how the pipeline reacts to downstream backpressure
// (spec §6, §7).
type TrackingMode string

const (
	ModeTWS         TrackingMode = "TWS"
	ModeBeamRequest TrackingMode = "BEAM_REQUEST"
)

// TuningConfig is the root configuration for the engine. Pointer fields
// mean a partial JSON document leaves the corresponding default untouched;
// Get* accessor methods supply the default whenever a field is nil. This
// mirrors the reference codebase's own tuning-config schema, where the
// same JSON shape serves both startup configuration and a runtime-update
// API.
type TuningConfig struct {
	System struct {
		TrackingMode  *string  `json:"tracking_mode,omitempty"`
		MaxTracks     *int     `json:"max_tracks,omitempty"`
		UpdateRateHz  *float64 `json:"update_rate_hz,omitempty"`
	} `json:"system"`

	Clustering struct {
		Epsilon               *float64 `json:"epsilon,omitempty"`
		MinPoints             *int     `json:"min_points,omitempty"`
		RangeWeight           *float64 `json:"range_weight,omitempty"`
		AzimuthWeight         *float64 `json:"azimuth_weight,omitempty"`
		VelocityWeight        *float64 `json:"velocity_weight,omitempty"`
		UseAdaptiveEpsilon    *bool    `json:"use_adaptive_epsilon,omitempty"`
		AdaptiveEpsilonFactor *float64 `json:"adaptive_epsilon_factor,omitempty"`
		MaxClusters           *int     `json:"max_clusters,omitempty"`
		SNRThreshold          *float64 `json:"snr_threshold,omitempty"`
		SNRRef                *float64 `json:"snr_ref,omitempty"`
		SaturationCount       *int     `json:"saturation_count,omitempty"`
		MinConfidence         *float64 `json:"min_confidence,omitempty"`
		PreprocessBySNR       *bool    `json:"preprocess_by_snr,omitempty"`
	} `json:"algorithms_clustering"`

	Association struct {
		GatingThreshold *float64 `json:"gating_threshold,omitempty"`
		ValidationGate  *float64 `json:"validation_gate,omitempty"`
		ClutterDensity  *float64 `json:"clutter_density,omitempty"`
	} `json:"algorithms_association"`

	Tracking struct {
		ProcessNoise      *float64 `json:"process_noise,omitempty"`
		MeasurementNoise  *float64 `json:"measurement_noise,omitempty"`
		InitialUncertainty *float64 `json:"initial_uncertainty,omitempty"`
		MaxDt             *float64 `json:"max_dt,omitempty"`
	} `json:"algorithms_tracking"`

	Management struct {
		ConfirmationThreshold *int     `json:"confirmation_threshold,omitempty"`
		DeletionThreshold     *int     `json:"deletion_threshold,omitempty"`
		DeletionThresholdConfirmed *int `json:"deletion_threshold_confirmed,omitempty"`
		MaxCoastTimeSec       *float64 `json:"max_coast_time_sec,omitempty"`
		QualityThreshold      *float64 `json:"quality_threshold,omitempty"`
		RetentionWindowSec    *float64 `json:"retention_window_sec,omitempty"`
		OperationalVolumeM    *float64 `json:"operational_volume_m,omitempty"`
	} `json:"algorithms_management"`
}

// Empty returns a TuningConfig with every field nil; callers get pure
// defaults from the Get* accessors until a JSON document is merged in.
func Empty() *TuningConfig { return &TuningConfig{} }

// Load reads and validates a TuningConfig from a JSON file. Fields absent
// from the file retain their defaults, so partial configs are safe.
func Load(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("%w: config file must have .json extension, got %q", engineerr.ErrConfigInvalid, ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: stat config file: %v", engineerr.ErrConfigInvalid, err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%w: config file too large: %d bytes (max %d)", engineerr.ErrConfigInvalid, info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read config file: %v", engineerr.ErrConfigInvalid, err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config JSON: %v", engineerr.ErrConfigInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configured values that have a valid range, refusing to
// start on anything out of bounds (spec §7: ConfigInvalid is fatal at
// init).
func (c *TuningConfig) Validate() error {
	if m := c.System.TrackingMode; m != nil {
		if TrackingMode(*m) != ModeTWS && TrackingMode(*m) != ModeBeamRequest {
			return fmt.Errorf("%w: system.tracking_mode must be TWS or BEAM_REQUEST, got %q", engineerr.ErrConfigInvalid, *m)
		}
	}
	if v := c.System.MaxTracks; v != nil && *v <= 0 {
		return fmt.Errorf("%w: system.max_tracks must be positive, got %d", engineerr.ErrConfigInvalid, *v)
	}
	if v := c.Clustering.MinPoints; v != nil && *v < 1 {
		return fmt.Errorf("%w: clustering.min_points must be >= 1, got %d", engineerr.ErrConfigInvalid, *v)
	}
	if v := c.Association.ValidationGate; v != nil && (*v <= 0 || *v >= 1) {
		return fmt.Errorf("%w: association.validation_gate must be in (0,1), got %f", engineerr.ErrConfigInvalid, *v)
	}
	if v := c.Tracking.MaxDt; v != nil && *v <= 0 {
		return fmt.Errorf("%w: tracking.max_dt must be positive, got %f", engineerr.ErrConfigInvalid, *v)
	}
	return nil
}

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// System accessors.

func (c *TuningConfig) GetTrackingMode() TrackingMode {
	return TrackingMode(orDefault(c.System.TrackingMode, string(ModeTWS)))
}
func (c *TuningConfig) GetMaxTracks() int            { return orDefault(c.System.MaxTracks, 100) }
func (c *TuningConfig) GetUpdateRateHz() float64     { return orDefault(c.System.UpdateRateHz, 10.0) }

// Clustering accessors.

func (c *TuningConfig) GetEpsilon() float64       { return orDefault(c.Clustering.Epsilon, 50.0) }
func (c *TuningConfig) GetMinPoints() int         { return orDefault(c.Clustering.MinPoints, 3) }
func (c *TuningConfig) GetRangeWeight() float64   { return orDefault(c.Clustering.RangeWeight, 1.0) }
func (c *TuningConfig) GetAzimuthWeight() float64 { return orDefault(c.Clustering.AzimuthWeight, 1.0) }
func (c *TuningConfig) GetVelocityWeight() float64 {
	return orDefault(c.Clustering.VelocityWeight, 0.5)
}
func (c *TuningConfig) GetUseAdaptiveEpsilon() bool {
	return orDefault(c.Clustering.UseAdaptiveEpsilon, true)
}
func (c *TuningConfig) GetAdaptiveEpsilonFactor() float64 {
	return orDefault(c.Clustering.AdaptiveEpsilonFactor, 0.002)
}
func (c *TuningConfig) GetMaxClusters() int { return orDefault(c.Clustering.MaxClusters, 200) }
func (c *TuningConfig) GetSNRThreshold() float64 {
	return orDefault(c.Clustering.SNRThreshold, 5.0)
}
func (c *TuningConfig) GetSNRRef() float64 { return orDefault(c.Clustering.SNRRef, 20.0) }
func (c *TuningConfig) GetSaturationCount() int {
	return orDefault(c.Clustering.SaturationCount, 10)
}
func (c *TuningConfig) GetMinConfidence() float64 {
	return orDefault(c.Clustering.MinConfidence, 0.1)
}
func (c *TuningConfig) GetPreprocessBySNR() bool {
	return orDefault(c.Clustering.PreprocessBySNR, true)
}

// Association accessors.

func (c *TuningConfig) GetValidationGate() float64 {
	return orDefault(c.Association.ValidationGate, 0.99)
}
func (c *TuningConfig) GetClutterDensity() float64 {
	return orDefault(c.Association.ClutterDensity, 0.01)
}

// Tracking accessors.

func (c *TuningConfig) GetProcessNoise() float64 {
	return orDefault(c.Tracking.ProcessNoise, 1.0)
}
func (c *TuningConfig) GetMeasurementNoise() float64 {
	return orDefault(c.Tracking.MeasurementNoise, 25.0)
}
func (c *TuningConfig) GetInitialUncertaintyPos() float64 {
	return orDefault(c.Tracking.InitialUncertainty, 100.0)
}
func (c *TuningConfig) GetMaxDt() float64 { return orDefault(c.Tracking.MaxDt, 1.0) }

// Management accessors.

func (c *TuningConfig) GetConfirmationThreshold() int {
	return orDefault(c.Management.ConfirmationThreshold, 3)
}
func (c *TuningConfig) GetDeletionThreshold() int {
	return orDefault(c.Management.DeletionThreshold, 3)
}
func (c *TuningConfig) GetDeletionThresholdConfirmed() int {
	return orDefault(c.Management.DeletionThresholdConfirmed, 8)
}
func (c *TuningConfig) GetMaxCoastTimeSec() float64 {
	return orDefault(c.Management.MaxCoastTimeSec, 10.0)
}
func (c *TuningConfig) GetQualityThreshold() float64 {
	return orDefault(c.Management.QualityThreshold, 0.05)
}
func (c *TuningConfig) GetRetentionWindowSec() float64 {
	return orDefault(c.Management.RetentionWindowSec, 30.0)
}
func (c *TuningConfig) GetOperationalVolumeM() float64 {
	return orDefault(c.Management.OperationalVolumeM, 100000.0)
}

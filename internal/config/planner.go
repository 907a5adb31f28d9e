package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/velocity.planner/internal/units"
)

// DefaultConfigPath is the path to the canonical planner defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/planner.defaults.json"

// Lateral sign modes for the Frenet transform.
const (
	SignModeReferencePoint = "reference_point"
	SignModeCrossProduct   = "cross_product"
)

// PlannerConfig represents the root configuration for the planner.
// The schema matches the /api/config endpoint so the same document
// can be used for both startup configuration and inspection.
type PlannerConfig struct {
	// Velocity ramp
	MaxSpeed  *float64 `json:"max_speed,omitempty" yaml:"max_speed,omitempty"`
	SpeedStep *float64 `json:"speed_step,omitempty" yaml:"speed_step,omitempty"`

	// Lane decision
	LaneChangeSpeedFactor *float64 `json:"lane_change_speed_factor,omitempty" yaml:"lane_change_speed_factor,omitempty"`
	EmergencySpeedRatio   *float64 `json:"emergency_speed_ratio,omitempty" yaml:"emergency_speed_ratio,omitempty"`
	ForwardSafetyDistance *float64 `json:"forward_safety_distance,omitempty" yaml:"forward_safety_distance,omitempty"`
	BackwardSafetyFactor  *float64 `json:"backward_safety_factor,omitempty" yaml:"backward_safety_factor,omitempty"`

	// Lanes
	LaneCount         *int     `json:"lane_count,omitempty" yaml:"lane_count,omitempty"`
	InitialLane       *int     `json:"initial_lane,omitempty" yaml:"initial_lane,omitempty"`
	LaneWidth         *float64 `json:"lane_width,omitempty" yaml:"lane_width,omitempty"`
	LaneBandHalfWidth *float64 `json:"lane_band_half_width,omitempty" yaml:"lane_band_half_width,omitempty"`

	// Trajectory
	HorizonPoints  *int     `json:"horizon_points,omitempty" yaml:"horizon_points,omitempty"`
	CyclePeriod    *string  `json:"cycle_period,omitempty" yaml:"cycle_period,omitempty"` // duration string like "20ms"
	MinTrustedTail *int     `json:"min_trusted_tail,omitempty" yaml:"min_trusted_tail,omitempty"`
	AnchorSpacing  *float64 `json:"anchor_spacing,omitempty" yaml:"anchor_spacing,omitempty"`

	// HorizonDistance is the look-ahead x used to space new path points.
	HorizonDistance *float64 `json:"horizon_distance,omitempty" yaml:"horizon_distance,omitempty"`

	// Speed units reported by telemetry. SpeedUnitFactor is the number of
	// speed units per metre/second; when unset it is derived from SpeedUnit.
	SpeedUnit       *string  `json:"speed_unit,omitempty" yaml:"speed_unit,omitempty"`
	SpeedUnitFactor *float64 `json:"speed_unit_factor,omitempty" yaml:"speed_unit_factor,omitempty"`

	// Track geometry
	TrackLength      *float64 `json:"track_length,omitempty" yaml:"track_length,omitempty"`
	MinSegmentLength *float64 `json:"min_segment_length,omitempty" yaml:"min_segment_length,omitempty"`
	LateralSignMode  *string  `json:"lateral_sign_mode,omitempty" yaml:"lateral_sign_mode,omitempty"`
	SignReferenceX   *float64 `json:"sign_reference_x,omitempty" yaml:"sign_reference_x,omitempty"`
	SignReferenceY   *float64 `json:"sign_reference_y,omitempty" yaml:"sign_reference_y,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyPlannerConfig returns a PlannerConfig with all fields set to nil.
// Use LoadPlannerConfig to load actual values from the defaults file.
func EmptyPlannerConfig() *PlannerConfig {
	return &PlannerConfig{}
}

// LoadPlannerConfig loads a PlannerConfig from a JSON or YAML file.
// The file is validated to ensure it has a known extension and is under the
// max file size. Fields omitted from the file fall back to the Get* defaults,
// so partial configs are safe.
func LoadPlannerConfig(path string) (*PlannerConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyPlannerConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the config at path. An empty path loads
// DefaultConfigPath when it exists and falls back to the built-in Get*
// defaults otherwise.
func LoadOrDefault(path string) (*PlannerConfig, error) {
	return loadOrDefault(path, DefaultConfigPath)
}

func loadOrDefault(path, defaultsPath string) (*PlannerConfig, error) {
	if path != "" {
		return LoadPlannerConfig(path)
	}
	if _, err := os.Stat(defaultsPath); err != nil {
		if os.IsNotExist(err) {
			return EmptyPlannerConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat defaults file: %w", err)
	}
	return LoadPlannerConfig(defaultsPath)
}

// MustLoadDefaultConfig loads the canonical planner defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *PlannerConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/plan-plot/
	}
	for _, path := range candidates {
		if cfg, err := LoadPlannerConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *PlannerConfig) Validate() error {
	if c.MaxSpeed != nil && *c.MaxSpeed <= 0 {
		return fmt.Errorf("max_speed must be positive, got %f", *c.MaxSpeed)
	}
	if c.SpeedStep != nil && *c.SpeedStep <= 0 {
		return fmt.Errorf("speed_step must be positive, got %f", *c.SpeedStep)
	}
	if c.LaneChangeSpeedFactor != nil {
		if *c.LaneChangeSpeedFactor <= 0 || *c.LaneChangeSpeedFactor > 1 {
			return fmt.Errorf("lane_change_speed_factor must be in (0, 1], got %f", *c.LaneChangeSpeedFactor)
		}
	}
	if c.EmergencySpeedRatio != nil {
		if *c.EmergencySpeedRatio < 0 || *c.EmergencySpeedRatio > 1 {
			return fmt.Errorf("emergency_speed_ratio must be between 0 and 1, got %f", *c.EmergencySpeedRatio)
		}
	}
	if c.ForwardSafetyDistance != nil && *c.ForwardSafetyDistance <= 0 {
		return fmt.Errorf("forward_safety_distance must be positive, got %f", *c.ForwardSafetyDistance)
	}
	if c.BackwardSafetyFactor != nil && *c.BackwardSafetyFactor < 0 {
		return fmt.Errorf("backward_safety_factor must be non-negative, got %f", *c.BackwardSafetyFactor)
	}
	if c.LaneCount != nil && *c.LaneCount < 1 {
		return fmt.Errorf("lane_count must be at least 1, got %d", *c.LaneCount)
	}
	if c.InitialLane != nil {
		if *c.InitialLane < 0 || *c.InitialLane >= c.GetLaneCount() {
			return fmt.Errorf("initial_lane %d outside [0, %d)", *c.InitialLane, c.GetLaneCount())
		}
	}
	if c.LaneWidth != nil && *c.LaneWidth <= 0 {
		return fmt.Errorf("lane_width must be positive, got %f", *c.LaneWidth)
	}
	if c.LaneBandHalfWidth != nil && *c.LaneBandHalfWidth <= 0 {
		return fmt.Errorf("lane_band_half_width must be positive, got %f", *c.LaneBandHalfWidth)
	}
	if c.HorizonPoints != nil && *c.HorizonPoints < 1 {
		return fmt.Errorf("horizon_points must be at least 1, got %d", *c.HorizonPoints)
	}
	if c.CyclePeriod != nil && *c.CyclePeriod != "" {
		d, err := time.ParseDuration(*c.CyclePeriod)
		if err != nil {
			return fmt.Errorf("invalid cycle_period '%s': %w", *c.CyclePeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("cycle_period must be positive, got %s", d)
		}
	}
	if c.MinTrustedTail != nil && *c.MinTrustedTail < 2 {
		return fmt.Errorf("min_trusted_tail must be at least 2, got %d", *c.MinTrustedTail)
	}
	if c.AnchorSpacing != nil && *c.AnchorSpacing <= 0 {
		return fmt.Errorf("anchor_spacing must be positive, got %f", *c.AnchorSpacing)
	}
	if c.HorizonDistance != nil && *c.HorizonDistance <= 0 {
		return fmt.Errorf("horizon_distance must be positive, got %f", *c.HorizonDistance)
	}
	if c.SpeedUnit != nil && !units.IsValid(*c.SpeedUnit) {
		return fmt.Errorf("speed_unit must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnit)
	}
	if c.SpeedUnitFactor != nil && *c.SpeedUnitFactor <= 0 {
		return fmt.Errorf("speed_unit_factor must be positive, got %f", *c.SpeedUnitFactor)
	}
	if c.TrackLength != nil && *c.TrackLength < 0 {
		return fmt.Errorf("track_length must be non-negative, got %f", *c.TrackLength)
	}
	if c.MinSegmentLength != nil && *c.MinSegmentLength <= 0 {
		return fmt.Errorf("min_segment_length must be positive, got %f", *c.MinSegmentLength)
	}
	if c.LateralSignMode != nil {
		switch *c.LateralSignMode {
		case SignModeReferencePoint, SignModeCrossProduct:
		default:
			return fmt.Errorf("lateral_sign_mode must be %q or %q, got %q",
				SignModeReferencePoint, SignModeCrossProduct, *c.LateralSignMode)
		}
	}
	return nil
}

// GetMaxSpeed returns the max_speed value or the default.
func (c *PlannerConfig) GetMaxSpeed() float64 {
	if c.MaxSpeed == nil {
		return 49.5
	}
	return *c.MaxSpeed
}

// GetSpeedStep returns the speed_step value or the default.
func (c *PlannerConfig) GetSpeedStep() float64 {
	if c.SpeedStep == nil {
		return 0.336
	}
	return *c.SpeedStep
}

// GetLaneChangeSpeedFactor returns the lane_change_speed_factor value or the default.
func (c *PlannerConfig) GetLaneChangeSpeedFactor() float64 {
	if c.LaneChangeSpeedFactor == nil {
		return 0.85
	}
	return *c.LaneChangeSpeedFactor
}

// GetEmergencySpeedRatio returns the emergency_speed_ratio value or the default.
func (c *PlannerConfig) GetEmergencySpeedRatio() float64 {
	if c.EmergencySpeedRatio == nil {
		return 0.33
	}
	return *c.EmergencySpeedRatio
}

// GetForwardSafetyDistance returns the forward_safety_distance value or the default.
func (c *PlannerConfig) GetForwardSafetyDistance() float64 {
	if c.ForwardSafetyDistance == nil {
		return 30.0
	}
	return *c.ForwardSafetyDistance
}

// GetBackwardSafetyFactor returns the backward_safety_factor value or the default.
func (c *PlannerConfig) GetBackwardSafetyFactor() float64 {
	if c.BackwardSafetyFactor == nil {
		return 0.33
	}
	return *c.BackwardSafetyFactor
}

// GetLaneCount returns the lane_count value or the default.
func (c *PlannerConfig) GetLaneCount() int {
	if c.LaneCount == nil {
		return 3
	}
	return *c.LaneCount
}

// GetInitialLane returns the initial_lane value or the default.
func (c *PlannerConfig) GetInitialLane() int {
	if c.InitialLane == nil {
		return 1
	}
	return *c.InitialLane
}

// GetLaneWidth returns the lane_width value or the default.
func (c *PlannerConfig) GetLaneWidth() float64 {
	if c.LaneWidth == nil {
		return 4.0
	}
	return *c.LaneWidth
}

// GetLaneBandHalfWidth returns the lane_band_half_width value or the default.
func (c *PlannerConfig) GetLaneBandHalfWidth() float64 {
	if c.LaneBandHalfWidth == nil {
		return 2.0
	}
	return *c.LaneBandHalfWidth
}

// GetHorizonPoints returns the horizon_points value or the default.
func (c *PlannerConfig) GetHorizonPoints() int {
	if c.HorizonPoints == nil {
		return 50
	}
	return *c.HorizonPoints
}

// GetCyclePeriod parses and returns the CyclePeriod as a time.Duration.
func (c *PlannerConfig) GetCyclePeriod() time.Duration {
	if c.CyclePeriod == nil || *c.CyclePeriod == "" {
		return 20 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.CyclePeriod)
	if err != nil {
		return 20 * time.Millisecond // default on parse error
	}
	return d
}

// GetMinTrustedTail returns the min_trusted_tail value or the default.
func (c *PlannerConfig) GetMinTrustedTail() int {
	if c.MinTrustedTail == nil {
		return 2
	}
	return *c.MinTrustedTail
}

// GetAnchorSpacing returns the anchor_spacing value or the default.
func (c *PlannerConfig) GetAnchorSpacing() float64 {
	if c.AnchorSpacing == nil {
		return 30.0
	}
	return *c.AnchorSpacing
}

// GetHorizonDistance returns the horizon_distance value or the default.
func (c *PlannerConfig) GetHorizonDistance() float64 {
	if c.HorizonDistance == nil {
		return 30.0
	}
	return *c.HorizonDistance
}

// GetSpeedUnit returns the speed_unit value or the default.
func (c *PlannerConfig) GetSpeedUnit() string {
	if c.SpeedUnit == nil {
		return units.MPH
	}
	return *c.SpeedUnit
}

// GetSpeedUnitFactor returns the number of speed units per metre/second.
// An explicit speed_unit_factor wins over the conversion implied by speed_unit.
func (c *PlannerConfig) GetSpeedUnitFactor() float64 {
	if c.SpeedUnitFactor != nil {
		return *c.SpeedUnitFactor
	}
	return units.ConvertSpeed(1.0, c.GetSpeedUnit())
}

// GetTrackLength returns the track_length value or the default.
// Zero means the loop length is derived from the waypoint table.
func (c *PlannerConfig) GetTrackLength() float64 {
	if c.TrackLength == nil {
		return 0
	}
	return *c.TrackLength
}

// GetMinSegmentLength returns the min_segment_length value or the default.
func (c *PlannerConfig) GetMinSegmentLength() float64 {
	if c.MinSegmentLength == nil {
		return 1e-6
	}
	return *c.MinSegmentLength
}

// GetLateralSignMode returns the lateral_sign_mode value or the default.
func (c *PlannerConfig) GetLateralSignMode() string {
	if c.LateralSignMode == nil {
		return SignModeReferencePoint
	}
	return *c.LateralSignMode
}

// GetSignReference returns the interior reference point used for the
// lateral sign of Frenet d.
func (c *PlannerConfig) GetSignReference() (x, y float64) {
	x, y = 1000.0, 2000.0
	if c.SignReferenceX != nil {
		x = *c.SignReferenceX
	}
	if c.SignReferenceY != nil {
		y = *c.SignReferenceY
	}
	return x, y
}

// Resolved returns a copy of c with every field set to its effective value,
// for display on /api/config.
func (c *PlannerConfig) Resolved() *PlannerConfig {
	refX, refY := c.GetSignReference()
	period := c.GetCyclePeriod().String()
	return &PlannerConfig{
		MaxSpeed:              ptrFloat64(c.GetMaxSpeed()),
		SpeedStep:             ptrFloat64(c.GetSpeedStep()),
		LaneChangeSpeedFactor: ptrFloat64(c.GetLaneChangeSpeedFactor()),
		EmergencySpeedRatio:   ptrFloat64(c.GetEmergencySpeedRatio()),
		ForwardSafetyDistance: ptrFloat64(c.GetForwardSafetyDistance()),
		BackwardSafetyFactor:  ptrFloat64(c.GetBackwardSafetyFactor()),
		LaneCount:             ptrInt(c.GetLaneCount()),
		InitialLane:           ptrInt(c.GetInitialLane()),
		LaneWidth:             ptrFloat64(c.GetLaneWidth()),
		LaneBandHalfWidth:     ptrFloat64(c.GetLaneBandHalfWidth()),
		HorizonPoints:         ptrInt(c.GetHorizonPoints()),
		CyclePeriod:           &period,
		MinTrustedTail:        ptrInt(c.GetMinTrustedTail()),
		AnchorSpacing:         ptrFloat64(c.GetAnchorSpacing()),
		HorizonDistance:       ptrFloat64(c.GetHorizonDistance()),
		SpeedUnit:             ptrString(c.GetSpeedUnit()),
		SpeedUnitFactor:       ptrFloat64(c.GetSpeedUnitFactor()),
		TrackLength:           ptrFloat64(c.GetTrackLength()),
		MinSegmentLength:      ptrFloat64(c.GetMinSegmentLength()),
		LateralSignMode:       ptrString(c.GetLateralSignMode()),
		SignReferenceX:        ptrFloat64(refX),
		SignReferenceY:        ptrFloat64(refY),
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmptyPlannerConfigDefaults(t *testing.T) {
	cfg := EmptyPlannerConfig()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"max speed", cfg.GetMaxSpeed(), 49.5},
		{"speed step", cfg.GetSpeedStep(), 0.336},
		{"lane change factor", cfg.GetLaneChangeSpeedFactor(), 0.85},
		{"emergency ratio", cfg.GetEmergencySpeedRatio(), 0.33},
		{"forward safety", cfg.GetForwardSafetyDistance(), 30.0},
		{"backward factor", cfg.GetBackwardSafetyFactor(), 0.33},
		{"lane width", cfg.GetLaneWidth(), 4.0},
		{"band half width", cfg.GetLaneBandHalfWidth(), 2.0},
		{"anchor spacing", cfg.GetAnchorSpacing(), 30.0},
		{"track length", cfg.GetTrackLength(), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %f, want %f", tt.got, tt.want)
			}
		})
	}

	if cfg.GetHorizonPoints() != 50 {
		t.Errorf("GetHorizonPoints() = %d, want 50", cfg.GetHorizonPoints())
	}
	if cfg.GetLaneCount() != 3 || cfg.GetInitialLane() != 1 {
		t.Errorf("lanes = %d/%d, want 3/1", cfg.GetLaneCount(), cfg.GetInitialLane())
	}
	if cfg.GetCyclePeriod() != 20*time.Millisecond {
		t.Errorf("GetCyclePeriod() = %v, want 20ms", cfg.GetCyclePeriod())
	}
	if cfg.GetMinTrustedTail() != 2 {
		t.Errorf("GetMinTrustedTail() = %d, want 2", cfg.GetMinTrustedTail())
	}
	if cfg.GetLateralSignMode() != SignModeReferencePoint {
		t.Errorf("GetLateralSignMode() = %q", cfg.GetLateralSignMode())
	}
	if x, y := cfg.GetSignReference(); x != 1000 || y != 2000 {
		t.Errorf("GetSignReference() = (%f, %f), want (1000, 2000)", x, y)
	}
}

func TestGetSpeedUnitFactor(t *testing.T) {
	cfg := EmptyPlannerConfig()
	if got := cfg.GetSpeedUnitFactor(); got < 2.236 || got > 2.237 {
		t.Errorf("derived mph factor = %f, want ~2.2369", got)
	}

	cfg.SpeedUnit = ptrString("mps")
	if got := cfg.GetSpeedUnitFactor(); got != 1.0 {
		t.Errorf("mps factor = %f, want 1", got)
	}

	cfg.SpeedUnitFactor = ptrFloat64(2.24)
	if got := cfg.GetSpeedUnitFactor(); got != 2.24 {
		t.Errorf("explicit factor = %f, want 2.24", got)
	}
}

func TestLoadPlannerConfigJSON(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "planner.json")

	testJSON := `{
  "max_speed": 40.0,
  "horizon_points": 30,
  "cycle_period": "50ms"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPlannerConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetMaxSpeed() != 40.0 {
		t.Errorf("GetMaxSpeed() = %f, want 40", cfg.GetMaxSpeed())
	}
	if cfg.GetHorizonPoints() != 30 {
		t.Errorf("GetHorizonPoints() = %d, want 30", cfg.GetHorizonPoints())
	}
	if cfg.GetCyclePeriod() != 50*time.Millisecond {
		t.Errorf("GetCyclePeriod() = %v, want 50ms", cfg.GetCyclePeriod())
	}
	// Omitted fields keep their defaults
	if cfg.GetSpeedStep() != 0.336 {
		t.Errorf("GetSpeedStep() = %f, want default 0.336", cfg.GetSpeedStep())
	}
}

func TestLoadPlannerConfigYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "planner.yaml")

	testYAML := "lane_count: 4\ninitial_lane: 2\nspeed_unit: kmph\n"
	if err := os.WriteFile(configPath, []byte(testYAML), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadPlannerConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GetLaneCount() != 4 || cfg.GetInitialLane() != 2 {
		t.Errorf("lanes = %d/%d, want 4/2", cfg.GetLaneCount(), cfg.GetInitialLane())
	}
	if cfg.GetSpeedUnitFactor() != 3.6 {
		t.Errorf("kmph factor = %f, want 3.6", cfg.GetSpeedUnitFactor())
	}
}

func TestLoadPlannerConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"wrong extension", "planner.txt", `{}`},
		{"bad json", "bad.json", `{"max_speed": `},
		{"bad yaml", "bad.yaml", "max_speed: [1, 2\n"},
		{"negative speed", "neg.json", `{"max_speed": -1}`},
		{"bad period", "period.json", `{"cycle_period": "soon"}`},
		{"unknown unit", "unit.json", `{"speed_unit": "knots"}`},
		{"initial lane out of range", "lane.json", `{"lane_count": 2, "initial_lane": 2}`},
		{"short trusted tail", "tail.json", `{"min_trusted_tail": 1}`},
		{"unknown sign mode", "sign.json", `{"lateral_sign_mode": "guess"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.filename)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			if _, err := LoadPlannerConfig(path); err == nil {
				t.Errorf("LoadPlannerConfig(%s) succeeded, want error", tt.filename)
			}
		})
	}

	if _, err := LoadPlannerConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetSpeedUnitFactor() != 2.24 {
		t.Errorf("default speed_unit_factor = %f, want 2.24", cfg.GetSpeedUnitFactor())
	}
	if cfg.GetTrackLength() != 6945.554 {
		t.Errorf("default track_length = %f, want 6945.554", cfg.GetTrackLength())
	}
}

func TestLoadOrDefault(t *testing.T) {
	tmpDir := t.TempDir()
	defaults := filepath.Join(tmpDir, "planner.defaults.json")

	cfg, err := loadOrDefault("", defaults)
	if err != nil {
		t.Fatalf("loadOrDefault without defaults file failed: %v", err)
	}
	if cfg.GetTrackLength() != 0 {
		t.Errorf("track_length = %f, want 0 (derived from the map)", cfg.GetTrackLength())
	}

	if err := os.WriteFile(defaults, []byte(`{"track_length": 6945.554}`), 0o644); err != nil {
		t.Fatalf("Failed to write defaults: %v", err)
	}
	cfg, err = loadOrDefault("", defaults)
	if err != nil {
		t.Fatalf("loadOrDefault with defaults file failed: %v", err)
	}
	if cfg.GetTrackLength() != 6945.554 {
		t.Errorf("track_length = %f, want 6945.554 from the defaults file", cfg.GetTrackLength())
	}

	explicit := filepath.Join(tmpDir, "planner.yaml")
	if err := os.WriteFile(explicit, []byte("max_speed: 40\n"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err = loadOrDefault(explicit, defaults)
	if err != nil {
		t.Fatalf("loadOrDefault(%q) failed: %v", explicit, err)
	}
	if cfg.GetMaxSpeed() != 40 || cfg.GetTrackLength() != 0 {
		t.Errorf("explicit config = %f/%f, want 40/0", cfg.GetMaxSpeed(), cfg.GetTrackLength())
	}
}

func TestResolvedFillsEveryField(t *testing.T) {
	cfg := EmptyPlannerConfig()
	cfg.MaxSpeed = ptrFloat64(30)

	r := cfg.Resolved()
	if err := r.Validate(); err != nil {
		t.Fatalf("resolved config is invalid: %v", err)
	}
	if *r.MaxSpeed != 30 {
		t.Errorf("MaxSpeed = %f, want 30", *r.MaxSpeed)
	}
	if *r.CyclePeriod != "20ms" {
		t.Errorf("CyclePeriod = %q, want 20ms", *r.CyclePeriod)
	}
	if *r.SignReferenceX != 1000 || *r.SignReferenceY != 2000 {
		t.Errorf("sign reference = (%f, %f)", *r.SignReferenceX, *r.SignReferenceY)
	}
	if r.GetSpeedUnitFactor() != cfg.GetSpeedUnitFactor() {
		t.Error("resolved speed unit factor differs")
	}
}

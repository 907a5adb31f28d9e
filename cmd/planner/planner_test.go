package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/banshee-data/velocity.planner/internal/db"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/track"
)

// TestFlagDefaults verifies the command line defaults.
func TestFlagDefaults(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"listen", *listen, ":4567"},
		{"grpc-listen", *grpcListen, ":4568"},
		{"map", *mapPath, "data/highway_map.csv"},
		{"config", *configPath, ""},
		{"db", *dbPath, "planner.db"},
		{"plot-dir", *plotDir, ""},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("-%s default = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
	if *debugMode {
		t.Error("-debug should default to false")
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") failed: %v", err)
	}
	if cfg.GetMaxSpeed() != 49.5 {
		t.Errorf("default max speed = %f", cfg.GetMaxSpeed())
	}

	path := filepath.Join(t.TempDir(), "planner.yaml")
	if err := os.WriteFile(path, []byte("max_speed: 40\nlane_count: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig(%q) failed: %v", path, err)
	}
	if cfg.GetMaxSpeed() != 40 || cfg.GetLaneCount() != 4 {
		t.Errorf("loaded config = %f/%d, want 40/4", cfg.GetMaxSpeed(), cfg.GetLaneCount())
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func testTrack(t *testing.T) *track.Map {
	t.Helper()
	m, err := track.Load(strings.NewReader("0 0 0 0 -1\n5000 0 5000 0 -1\n"), track.DefaultOptions())
	if err != nil {
		t.Fatalf("track.Load failed: %v", err)
	}
	return m
}

// TestAppServesSimulatorAndAPI drives one planning cycle through the
// websocket endpoint and checks that every observer saw it.
func TestAppServesSimulatorAndAPI(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	database, err := db.NewDB(filepath.Join(t.TempDir(), "planner.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer database.Close()

	cfg, _ := loadConfig("")
	a := newApp(cfg, testTrack(t), database)
	defer a.feed.Close()
	mux, err := a.mux()
	if err != nil {
		t.Fatalf("mux failed: %v", err)
	}
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/socket.io/?EIO=4&transport=websocket", nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.CloseNow()

	frame := `42["telemetry",{"x":100,"y":-6,"s":100,"d":6,"yaw":0,"speed":0,` +
		`"previous_path_x":[],"previous_path_y":[],"end_path_s":0,"end_path_d":0,"sensor_fusion":[]}]`
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, reply, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.HasPrefix(string(reply), `42["control",`) {
		t.Fatalf("unexpected reply %q", reply)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	// observers run before the reply is written
	expected := `
# HELP planner_cycles_total Total number of successful planning cycles by maneuver
# TYPE planner_cycles_total counter
planner_cycles_total{maneuver="keep_lane"} 1
`
	if err := testutil.GatherAndCompare(a.registry, strings.NewReader(expected), "planner_cycles_total"); err != nil {
		t.Error(err)
	}
	sessions := a.plotter.Sessions()
	if len(sessions) != 1 || a.plotter.SampleCount(sessions[0]) != 1 {
		t.Fatalf("plotter recorded %v", sessions)
	}

	resp, err := http.Get(srv.URL + "/api/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var recs []db.SessionRecord
	if err := json.NewDecoder(resp.Body).Decode(&recs); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != sessions[0] || recs[0].Cycles != 1 {
		t.Errorf("sessions = %+v", recs)
	}
}

func TestAppWithoutDatabase(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	cfg, _ := loadConfig("")
	a := newApp(cfg, testTrack(t), nil)
	defer a.feed.Close()
	mux, err := a.mux()
	if err != nil {
		t.Fatalf("mux failed: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("sessions = %d %q, want 200 []", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cycles?session=x", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("cycles status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics status = %d", rec.Code)
	}
}

// Command plan-plot drives the planner in closed loop without the simulator
// and writes a PNG of the travelled path.
//
// Usage:
//
//	go run ./cmd/tools/plan-plot [flags]
//
// Flags:
//
//	-map          Waypoint table (default: data/highway_map.csv)
//	-config       Planner config file (default: config/planner.defaults.json when present)
//	-cycles       Planning cycles to run (default: 500)
//	-consume      Path points driven per cycle (default: 5)
//	-start-s      Start position along the track (default: 0)
//	-agent-lane   Lane of a slow agent ahead, -1 for none (default: -1)
//	-agent-gap    Distance of the agent ahead of the start (default: 40)
//	-agent-speed  Agent speed in m/s (default: 10)
//	-out          Output directory (default: .)
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/velocity.planner/internal/config"
	"github.com/banshee-data/velocity.planner/internal/drive"
	"github.com/banshee-data/velocity.planner/internal/monitor"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/track"
)

func main() {
	mapPath := flag.String("map", "data/highway_map.csv", "Waypoint table of the track")
	configPath := flag.String("config", "", "Planner config file")
	cycles := flag.Int("cycles", 500, "Planning cycles to run")
	consume := flag.Int("consume", 5, "Path points driven per cycle")
	startS := flag.Float64("start-s", 0, "Start position along the track")
	agentLane := flag.Int("agent-lane", -1, "Lane of a slow agent ahead (-1 for none)")
	agentGap := flag.Float64("agent-gap", 40, "Distance of the agent ahead of the start")
	agentSpeed := flag.Float64("agent-speed", 10, "Agent speed in m/s")
	outDir := flag.String("out", ".", "Output directory")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log := monitoring.InitLogger("plan-plot", os.Stderr, *debug)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load planner config")
	}
	m, err := track.LoadFile(*mapPath, planner.TrackOptions(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load track")
	}

	lanes := planner.LanesFromConfig(cfg)
	plotter := monitor.NewPathPlotter(m, lanes, 0)
	p := planner.New(cfg, m, planner.WithObserver(plotter))

	run := drive.Config{
		StartS:     *startS,
		StartLane:  cfg.GetInitialLane(),
		Cycles:     *cycles,
		Consume:    *consume,
		UnitFactor: cfg.GetSpeedUnitFactor(),
	}
	if *agentLane >= 0 {
		run.Agents = []drive.Agent{{ID: 1, Lane: *agentLane, S: *startS + *agentGap, Speed: *agentSpeed}}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := drive.Run(ctx, p, run)
	if err != nil {
		log.Error().Err(err).Int("cycles", sum.Cycles).Msg("run stopped early")
	}

	n, err := plotter.SavePNG(*outDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to write plot")
	}
	log.Info().
		Str("session", sum.SessionID).
		Int("cycles", sum.Cycles).
		Float64("distance_m", sum.Distance).
		Int("lane_changes", sum.LaneChanges).
		Int("final_lane", sum.FinalLane).
		Float64("final_d", sum.FinalD).
		Float64("max_speed", sum.MaxSpeed).
		Int("plots", n).
		Str("out", *outDir).
		Msg("run complete")
}

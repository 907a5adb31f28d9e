package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/banshee-data/velocity.planner/internal/api"
	"github.com/banshee-data/velocity.planner/internal/config"
	"github.com/banshee-data/velocity.planner/internal/cyclefeed"
	"github.com/banshee-data/velocity.planner/internal/db"
	"github.com/banshee-data/velocity.planner/internal/metrics"
	"github.com/banshee-data/velocity.planner/internal/monitor"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/rpc"
	"github.com/banshee-data/velocity.planner/internal/simulator"
	"github.com/banshee-data/velocity.planner/internal/track"
)

var (
	listen     = flag.String("listen", ":4567", "Listen address for the simulator, API and debug routes")
	grpcListen = flag.String("grpc-listen", ":4568", "Listen address for the gRPC health service (empty disables)")
	mapPath    = flag.String("map", "data/highway_map.csv", "Waypoint table of the track")
	configPath = flag.String("config", "", "Planner config file (.json, .yaml or .yml); "+config.DefaultConfigPath+" or built-in defaults when empty")
	dbPath     = flag.String("db", "planner.db", "SQLite database for session history (empty disables recording)")
	plotDir    = flag.String("plot-dir", "", "Write one path plot per session into this directory on shutdown")
	debugMode  = flag.Bool("debug", false, "Enable debug logging of every cycle")
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `planner - highway path planner for the driving simulator

Usage:
  planner [flags]                 run the planner
  planner [flags] migrate <cmd>   manage the session database schema
  planner help                    show this help

Flags:
`)
	flag.PrintDefaults()
}

// Main
func main() {
	flag.Usage = printUsage
	flag.Parse()
	log := monitoring.InitLogger("planner", nil, *debugMode)

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "migrate":
			if err := db.RunMigrateCommand(os.Stdout, flag.Args()[1:], *dbPath); err != nil {
				log.Fatal().Err(err).Msg("migrate failed")
			}
			return
		case "help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", flag.Arg(0))
			printUsage()
			os.Exit(1)
		}
	}

	if *listen == "" {
		log.Fatal().Msg("Listen address is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load planner config")
	}
	m, err := track.LoadFile(*mapPath, planner.TrackOptions(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load track")
	}
	log.Info().Int("waypoints", m.Len()).Float64("length", m.Length()).Msg("track loaded")

	var database *db.DB
	if *dbPath != "" {
		database, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close()
	}

	app := newApp(cfg, m, database)
	defer app.feed.Close()

	var health *rpc.HealthServer
	if *grpcListen != "" {
		health = rpc.NewHealthServer()
		if err := health.Start(*grpcListen); err != nil {
			log.Fatal().Err(err).Msg("failed to start gRPC health server")
		}
		defer health.Stop()
	}

	// Create a wait group for the HTTP server routine
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux, err := app.mux()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to mount routes")
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("failed to start server")
			}
		}()
		monitoring.Logf("planner listening on %s", *listen)
		if health != nil {
			health.SetServing(true)
		}

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		monitoring.Logf("shutting down HTTP server...")
		if health != nil {
			health.SetServing(false)
		}

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			monitoring.Logf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				monitoring.Logf("HTTP server force close error: %v", err)
			}
		}

		monitoring.Logf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if *plotDir != "" {
		n, err := app.plotter.SavePNG(*plotDir)
		if err != nil {
			monitoring.Logf("failed to save path plots: %v", err)
		} else {
			monitoring.Logf("wrote %d path plots to %s", n, *plotDir)
		}
	}
	monitoring.Logf("Graceful shutdown complete")
}

// loadConfig reads the planner config at path. An empty path uses
// config/planner.defaults.json when present, else the built-in defaults.
func loadConfig(path string) (*config.PlannerConfig, error) {
	return config.LoadOrDefault(path)
}

// app is the wired planner process.
type app struct {
	cfg      *config.PlannerConfig
	planner  *planner.Planner
	db       *db.DB
	registry *prometheus.Registry
	feed     *cyclefeed.Feed
	plotter  *monitor.PathPlotter
}

// newApp builds the planner and its observers. database may be nil, in
// which case nothing is recorded and the history endpoints are empty.
func newApp(cfg *config.PlannerConfig, m *track.Map, database *db.DB) *app {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		db:       database,
		registry: reg,
		feed:     cyclefeed.New(),
	}
	a.plotter = monitor.NewPathPlotter(m, planner.LanesFromConfig(cfg), 0)

	observers := planner.Observers{metrics.NewRecorder(reg), a.feed, a.plotter}
	if database != nil {
		observers = append(observers, database)
	}
	a.planner = planner.New(cfg, m, planner.WithObserver(observers))
	return a
}

// mux mounts the simulator endpoint, the API and the debug routes.
func (a *app) mux() (*http.ServeMux, error) {
	var store api.Store = emptyStore{}
	if a.db != nil {
		store = a.db
	}

	mux := api.NewServer(store, a.cfg, a.registry).ServeMux()
	if a.db != nil {
		if err := a.db.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	a.feed.AttachAdminRoutes(mux)
	a.plotter.AttachAdminRoutes(mux)
	monitor.NewChartHandler(store).AttachAdminRoutes(mux)

	// the simulator connects to the root path
	mux.Handle("/", simulator.NewHandler(a.planner))
	return mux, nil
}

// emptyStore serves the history endpoints when recording is disabled.
type emptyStore struct{}

func (emptyStore) Sessions(int) ([]db.SessionRecord, error) { return nil, nil }

func (emptyStore) RecentCycles(string, int) ([]planner.CycleReport, error) { return nil, nil }

// Package api serves the read-only JSON API over recorded planner sessions,
// the effective configuration and the Prometheus metrics.
package api

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/velocity.planner/internal/config"
	"github.com/banshee-data/velocity.planner/internal/db"
	"github.com/banshee-data/velocity.planner/internal/httputil"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultSessionLimit = 50
	defaultCycleLimit   = 200
	maxLimit            = 10000
)

// Store is the recorded history the API reads from.
type Store interface {
	Sessions(limit int) ([]db.SessionRecord, error)
	RecentCycles(sessionID string, limit int) ([]planner.CycleReport, error)
}

type Server struct {
	store    Store
	cfg      *config.PlannerConfig
	gatherer prometheus.Gatherer
}

// NewServer returns an API server. A nil gatherer leaves /metrics unmounted.
func NewServer(store Store, cfg *config.PlannerConfig, gatherer prometheus.Gatherer) *Server {
	return &Server{
		store:    store,
		cfg:      cfg,
		gatherer: gatherer,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/cycles", s.listCycles)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.cfg.Resolved())
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit, ok := parseLimit(w, r, defaultSessionLimit)
	if !ok {
		return
	}
	sessions, err := s.store.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve sessions: "+err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.SessionRecord{}
	}
	httputil.WriteJSONOK(w, sessions)
}

// listCycles returns the most recent cycles of a session, oldest first.
// Query params:
//   - session (required)
//   - limit (optional; default 200)
//   - units (optional) speed unit for speed and target_speed
func (s *Server) listCycles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		httputil.BadRequest(w, "Missing 'session' parameter")
		return
	}
	limit, ok := parseLimit(w, r, defaultCycleLimit)
	if !ok {
		return
	}
	target := s.cfg.GetSpeedUnit()
	if u := r.URL.Query().Get("units"); u != "" {
		if !units.IsValid(u) {
			httputil.BadRequest(w, "Invalid 'units' parameter, must be one of "+units.GetValidUnitsString())
			return
		}
		target = u
	}

	cycles, err := s.store.RecentCycles(sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve cycles: "+err.Error())
		return
	}
	if len(cycles) == 0 {
		httputil.NotFound(w, "No cycles recorded for session")
		return
	}

	from := s.cfg.GetSpeedUnit()
	for i := range cycles {
		cycles[i].Speed = units.Convert(cycles[i].Speed, from, target)
		cycles[i].TargetSpeed = units.Convert(cycles[i].TargetSpeed, from, target)
	}
	httputil.WriteJSONOK(w, struct {
		Session string                `json:"session"`
		Units   string                `json:"units"`
		Cycles  []planner.CycleReport `json:"cycles"`
	}{sessionID, target, cycles})
}

// parseLimit reads the limit query parameter. It writes a 400 response and
// returns false when the value is invalid.
func parseLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	n, err := httputil.QueryInt(r, "limit", def, 1, maxLimit)
	if err != nil {
		httputil.BadRequest(w, "Invalid 'limit' parameter")
		return 0, false
	}
	return n, true
}

package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/velocity.planner/internal/httputil"
	"github.com/banshee-data/velocity.planner/internal/planner"
)

// defaultChartCycles is the number of cycles charted when no limit is given.
const defaultChartCycles = 500

// CycleSource provides recorded cycles of a session in ascending order.
type CycleSource interface {
	RecentCycles(sessionID string, limit int) ([]planner.CycleReport, error)
}

// ChartHandler renders speed and lane charts of recorded sessions.
type ChartHandler struct {
	source CycleSource
}

// NewChartHandler returns a handler reading cycles from source.
func NewChartHandler(source CycleSource) *ChartHandler {
	return &ChartHandler{source: source}
}

// AttachAdminRoutes mounts the chart at /debug/speed-chart?session=ID.
func (h *ChartHandler) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.Handle("speed-chart", "Speed and lane chart of a session", h)
}

// ServeHTTP renders the charts of one session.
// Query params:
//   - session (required)
//   - limit (optional; default 500) number of most recent cycles
func (h *ChartHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		httputil.BadRequest(w, "missing session parameter")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", defaultChartCycles, 1, 50000)
	if err != nil {
		limit = defaultChartCycles
	}

	cycles, err := h.source.RecentCycles(sessionID, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to load cycles: %v", err))
		return
	}
	if len(cycles) == 0 {
		httputil.NotFound(w, "no cycles recorded for session")
		return
	}

	var buf bytes.Buffer
	if err := RenderSessionCharts(&buf, sessionID, cycles); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// RenderSessionCharts writes an HTML page with the speed and lane history of
// cycles.
func RenderSessionCharts(buf *bytes.Buffer, sessionID string, cycles []planner.CycleReport) error {
	x := make([]string, len(cycles))
	target := make([]opts.LineData, len(cycles))
	measured := make([]opts.LineData, len(cycles))
	lanes := make([]opts.LineData, len(cycles))
	latency := make([]opts.LineData, len(cycles))
	for i, c := range cycles {
		x[i] = strconv.FormatUint(c.Cycle, 10)
		target[i] = opts.LineData{Value: c.TargetSpeed}
		measured[i] = opts.LineData{Value: c.Speed}
		lanes[i] = opts.LineData{Value: c.Lane}
		latency[i] = opts.LineData{Value: float64(c.Latency.Microseconds()) / 1000}
	}

	speed := charts.NewLine()
	speed.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Planner Session", Theme: "dark", Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed", Subtitle: fmt.Sprintf("session=%s cycles=%d", sessionID, len(cycles))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Cycle", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Speed", NameLocation: "middle", NameGap: 30}),
	)
	speed.SetXAxis(x).
		AddSeries("target", target).
		AddSeries("measured", measured)

	lane := charts.NewLine()
	lane.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1200px", Height: "260px"}),
		charts.WithTitleOpts(opts.Title{Title: "Lane"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Cycle", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Lane", Min: 0}),
	)
	lane.SetXAxis(x).AddSeries("lane", lanes)

	cost := charts.NewLine()
	cost.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "1200px", Height: "260px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle latency (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Cycle", NameLocation: "middle", NameGap: 25}),
	)
	cost.SetXAxis(x).AddSeries("latency", latency)

	page := components.NewPage()
	page.SetPageTitle("Planner Session " + sessionID)
	page.AddCharts(speed, lane, cost)
	return page.Render(buf)
}

// Package monitor renders debugging views of planner sessions: PNG path
// plots built with gonum/plot and HTML speed charts built with go-echarts.
package monitor

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/httputil"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/track"
)

// ErrUnknownSession is returned when no cycles were recorded for a session.
var ErrUnknownSession = errors.New("no cycles recorded for session")

// laneSampleStep is the s spacing of the sampled lane markings, in metres.
const laneSampleStep = 2.0

// DefaultMaxSamples bounds the ego trace kept per session.
const DefaultMaxSamples = 3000

// trace is the recorded history of one session.
type trace struct {
	egoX, egoY []float64
	egoS       []float64
	lanes      []int
	pathX      []float64
	pathY      []float64
	cycles     uint64
}

// PathPlotter records ego positions and planned paths per session and draws
// them over the lane markings of the track.
type PathPlotter struct {
	mu         sync.Mutex
	track      *track.Map
	lanes      decision.Lanes
	maxSamples int
	traces     map[string]*trace
}

// NewPathPlotter returns a plotter over m. maxSamples <= 0 selects
// DefaultMaxSamples.
func NewPathPlotter(m *track.Map, lanes decision.Lanes, maxSamples int) *PathPlotter {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &PathPlotter{
		track:      m,
		lanes:      lanes,
		maxSamples: maxSamples,
		traces:     make(map[string]*trace),
	}
}

// ObserveSession implements planner.Observer.
func (pp *PathPlotter) ObserveSession(s *planner.Session, _ string) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if _, ok := pp.traces[s.ID]; !ok {
		pp.traces[s.ID] = &trace{}
	}
}

// ObserveCycle implements planner.Observer.
func (pp *PathPlotter) ObserveCycle(r planner.CycleReport) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	tr, ok := pp.traces[r.SessionID]
	if !ok {
		tr = &trace{}
		pp.traces[r.SessionID] = tr
	}
	tr.egoX = append(tr.egoX, r.X)
	tr.egoY = append(tr.egoY, r.Y)
	tr.egoS = append(tr.egoS, r.S)
	tr.lanes = append(tr.lanes, r.Lane)
	if drop := len(tr.egoX) - pp.maxSamples; drop > 0 {
		tr.egoX = tr.egoX[drop:]
		tr.egoY = tr.egoY[drop:]
		tr.egoS = tr.egoS[drop:]
		tr.lanes = tr.lanes[drop:]
	}
	tr.pathX = append(tr.pathX[:0], r.PathX...)
	tr.pathY = append(tr.pathY[:0], r.PathY...)
	tr.cycles++
}

// Sessions returns the recorded session IDs in sorted order.
func (pp *PathPlotter) Sessions() []string {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	ids := make([]string, 0, len(pp.traces))
	for id := range pp.traces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SampleCount returns the number of ego samples held for a session.
func (pp *PathPlotter) SampleCount(sessionID string) int {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	if tr, ok := pp.traces[sessionID]; ok {
		return len(tr.egoX)
	}
	return 0
}

// snapshot copies a trace so plotting can happen without the lock.
func (pp *PathPlotter) snapshot(sessionID string) (trace, error) {
	pp.mu.Lock()
	defer pp.mu.Unlock()
	tr, ok := pp.traces[sessionID]
	if !ok || len(tr.egoX) == 0 {
		return trace{}, fmt.Errorf("%w: %q", ErrUnknownSession, sessionID)
	}
	return trace{
		egoX:   append([]float64(nil), tr.egoX...),
		egoY:   append([]float64(nil), tr.egoY...),
		egoS:   append([]float64(nil), tr.egoS...),
		lanes:  append([]int(nil), tr.lanes...),
		pathX:  append([]float64(nil), tr.pathX...),
		pathY:  append([]float64(nil), tr.pathY...),
		cycles: tr.cycles,
	}, nil
}

// Plot builds the path plot of a session.
func (pp *PathPlotter) Plot(sessionID string) (*plot.Plot, error) {
	tr, err := pp.snapshot(sessionID)
	if err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - %d cycles", sessionID, tr.cycles)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	// Lane markings over the driven stretch, plus one horizon ahead.
	sMin, sMax := sRange(tr.egoS)
	sMax += 2 * pp.lanes.Width * float64(pp.lanes.Count+1)
	if sMax-sMin > pp.track.Length() {
		sMin, sMax = 0, pp.track.Length()
	}
	colors := generateColors(2)
	for k := 0; k <= pp.lanes.Count; k++ {
		d := float64(k) * pp.lanes.Width
		pts := make(plotter.XYs, 0, int((sMax-sMin)/laneSampleStep)+2)
		for s := sMin; s <= sMax; s += laneSampleStep {
			x, y := pp.track.ToCartesian(s, d)
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
		if len(pts) < 2 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("lane marking %d: %w", k, err)
		}
		line.Color = color.Gray{Y: 160}
		line.Width = vg.Points(0.5)
		if k > 0 && k < pp.lanes.Count {
			line.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		}
		p.Add(line)
	}

	ego := make(plotter.XYs, 0, len(tr.egoX))
	for i := range tr.egoX {
		if finitePoint(tr.egoX[i], tr.egoY[i]) {
			ego = append(ego, plotter.XY{X: tr.egoX[i], Y: tr.egoY[i]})
		}
	}
	if len(ego) > 0 {
		sc, err := plotter.NewScatter(ego)
		if err != nil {
			return nil, fmt.Errorf("ego trace: %w", err)
		}
		sc.GlyphStyle.Color = colors[0]
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("ego", sc)
	}

	path := make(plotter.XYs, 0, len(tr.pathX))
	for i := range tr.pathX {
		if finitePoint(tr.pathX[i], tr.pathY[i]) {
			path = append(path, plotter.XY{X: tr.pathX[i], Y: tr.pathY[i]})
		}
	}
	if len(path) > 1 {
		line, err := plotter.NewLine(path)
		if err != nil {
			return nil, fmt.Errorf("planned path: %w", err)
		}
		line.Color = colors[1]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("planned", line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG draws the session plot as a PNG to w.
func (pp *PathPlotter) WritePNG(w io.Writer, sessionID string) error {
	p, err := pp.Plot(sessionID)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 10*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG writes the plot of every recorded session into dir, one
// session_<id>.png per session, and returns the number written.
func (pp *PathPlotter) SavePNG(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create plot dir: %w", err)
	}
	n := 0
	for _, id := range pp.Sessions() {
		p, err := pp.Plot(id)
		if errors.Is(err, ErrUnknownSession) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("session %s: %w", id, err)
		}
		file := filepath.Join(dir, fmt.Sprintf("session_%s.png", id))
		if err := p.Save(10*vg.Inch, 10*vg.Inch, file); err != nil {
			return n, fmt.Errorf("save session plot: %w", err)
		}
		n++
	}
	return n, nil
}

// AttachAdminRoutes mounts the PNG view at /debug/path.png?session=ID.
func (pp *PathPlotter) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("path.png", "Planned path of a session", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("session")
		if id == "" {
			httputil.BadRequest(w, "missing session parameter")
			return
		}
		p, err := pp.Plot(id)
		if errors.Is(err, ErrUnknownSession) {
			httputil.NotFound(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		wt, err := p.WriterTo(10*vg.Inch, 10*vg.Inch, "png")
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = wt.WriteTo(w)
	})
}

func sRange(s []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 0
	}
	return lo, hi
}

func finitePoint(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && !math.IsNaN(y) && !math.IsInf(y, 0)
}

// generateColors creates a palette of n distinct colors
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		return uint8(l * 255), uint8(l * 255), uint8(l * 255)
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

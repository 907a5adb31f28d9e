// Package trajectory turns a target lane and speed into the next horizon of
// world positions, reusing the unconsumed tail of the previous path verbatim.
//
// New points are sampled from a natural cubic spline fitted in a local frame
// centred on the reference pose: the last point of the previous path when at
// least MinTrustedTail points remain, the vehicle itself otherwise.
package trajectory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/velocity.planner/internal/track"
)

// ErrNonMonotonicAnchors is returned when the anchors, rotated into the
// reference frame, do not have strictly increasing x. The spline is a
// function of x and cannot be fitted through them.
var ErrNonMonotonicAnchors = errors.New("anchors not strictly increasing in reference frame")

// Config holds the synthesizer tuning.
type Config struct {
	Horizon        int           // points per path
	MinTrustedTail int           // tail length below which the ego pose anchors the fit
	AnchorSpacing  float64       // s spacing of the three forward anchors
	TargetX        float64       // local-frame x used to derive the sample spacing
	Period         time.Duration // time between consecutive points
	UnitFactor     float64       // speed unit per m/s (2.24 for mph)
	MinChord       float64       // shorter tail chords fall back to the ego heading
}

// Path is a planned sequence of world positions at Period spacing.
type Path struct {
	X []float64
	Y []float64
	// Reused is the number of leading points copied from the previous path.
	Reused int
}

// Len returns the number of points.
func (p Path) Len() int { return len(p.X) }

// Request is one synthesis input.
type Request struct {
	X, Y   float64 // ego position
	YawDeg float64 // ego heading in degrees
	RefS   float64 // Frenet s the forward anchors are measured from
	// TargetD is the lateral offset of the target lane centre.
	TargetD   float64
	Speed     float64 // target speed in the configured unit
	PreviousX []float64
	PreviousY []float64
}

// Synthesizer fits and samples paths over one track. It is safe for
// concurrent use.
type Synthesizer struct {
	track *track.Map
	cfg   Config
}

// NewSynthesizer returns a Synthesizer for the given map.
func NewSynthesizer(m *track.Map, cfg Config) *Synthesizer {
	if cfg.MinChord <= 0 {
		cfg.MinChord = 1e-6
	}
	return &Synthesizer{track: m, cfg: cfg}
}

// frame is the local reference pose used for the fit.
type frame struct {
	x, y, yaw float64
}

func (f frame) toLocal(x, y float64) (float64, float64) {
	sx, sy := x-f.x, y-f.y
	sin, cos := math.Sincos(-f.yaw)
	return sx*cos - sy*sin, sx*sin + sy*cos
}

func (f frame) toWorld(x, y float64) (float64, float64) {
	sin, cos := math.Sincos(f.yaw)
	return x*cos - y*sin + f.x, x*sin + y*cos + f.y
}

// anchors returns the two rear anchors and the reference frame.
func (s *Synthesizer) anchors(req Request) (xs, ys []float64, ref frame) {
	n := len(req.PreviousX)
	if n < s.cfg.MinTrustedTail || n < 2 {
		yaw := req.YawDeg * math.Pi / 180
		ref = frame{x: req.X, y: req.Y, yaw: yaw}
		return []float64{req.X - math.Cos(yaw), req.X},
			[]float64{req.Y - math.Sin(yaw), req.Y}, ref
	}

	x1, y1 := req.PreviousX[n-1], req.PreviousY[n-1]
	x0, y0 := req.PreviousX[n-2], req.PreviousY[n-2]
	if math.Hypot(x1-x0, y1-y0) < s.cfg.MinChord {
		// a stationary tail has no chord heading; keep its end point
		yaw := req.YawDeg * math.Pi / 180
		ref = frame{x: x1, y: y1, yaw: yaw}
		return []float64{x1 - math.Cos(yaw), x1},
			[]float64{y1 - math.Sin(yaw), y1}, ref
	}
	ref = frame{x: x1, y: y1, yaw: math.Atan2(y1-y0, x1-x0)}
	return []float64{x0, x1}, []float64{y0, y1}, ref
}

// Synthesize builds the next path. The first points are the previous path's
// tail, copied unchanged and truncated to the horizon. The remainder is
// sampled from a spline through the rear anchors and three forward anchors on
// the target lane, spaced so consecutive points are one period apart at the
// target speed.
func (s *Synthesizer) Synthesize(req Request) (Path, error) {
	if len(req.PreviousX) != len(req.PreviousY) {
		return Path{}, fmt.Errorf("previous path has %d x and %d y values", len(req.PreviousX), len(req.PreviousY))
	}

	reused := min(len(req.PreviousX), s.cfg.Horizon)
	path := Path{
		X:      make([]float64, reused, s.cfg.Horizon),
		Y:      make([]float64, reused, s.cfg.Horizon),
		Reused: reused,
	}
	copy(path.X, req.PreviousX[:reused])
	copy(path.Y, req.PreviousY[:reused])

	deficit := s.cfg.Horizon - reused
	if deficit == 0 {
		return path, nil
	}

	wx, wy, ref := s.anchors(req)
	for k := 1; k <= 3; k++ {
		x, y := s.track.ToCartesian(req.RefS+float64(k)*s.cfg.AnchorSpacing, req.TargetD)
		wx = append(wx, x)
		wy = append(wy, y)
	}

	lx := make([]float64, len(wx))
	ly := make([]float64, len(wy))
	for i := range wx {
		lx[i], ly[i] = ref.toLocal(wx[i], wy[i])
		if i > 0 && !(lx[i] > lx[i-1]) {
			return Path{}, fmt.Errorf("anchor %d at x=%f after x=%f: %w", i, lx[i], lx[i-1], ErrNonMonotonicAnchors)
		}
	}

	var spline interp.NaturalCubic
	if err := spline.Fit(lx, ly); err != nil {
		return Path{}, fmt.Errorf("fit spline: %w", err)
	}

	step := s.sampleStep(spline.Predict(s.cfg.TargetX), req.Speed)
	for i := 1; i <= deficit; i++ {
		x := float64(i) * step
		px, py := ref.toWorld(x, spline.Predict(x))
		path.X = append(path.X, px)
		path.Y = append(path.Y, py)
	}
	return path, nil
}

// sampleStep returns the local-frame x spacing between samples. The chord to
// (TargetX, targetY) approximates the arc, so the step is scaled to cover
// the per-period distance along it.
func (s *Synthesizer) sampleStep(targetY, speed float64) float64 {
	perPeriod := speed / s.cfg.UnitFactor * s.cfg.Period.Seconds()
	dist := math.Hypot(s.cfg.TargetX, targetY)
	if dist <= 0 {
		return perPeriod
	}
	return s.cfg.TargetX * perPeriod / dist
}

// Package track owns the immutable waypoint table of the closed-loop track
// and the conversions between world (x, y, heading) and Frenet (s, d)
// coordinates.
//
// Frenet d is positive to the right of the direction of travel. The table
// wraps at its length: the segment after the last waypoint runs back to the
// first one.
package track

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrEmptyMap is returned when a waypoint table has fewer than two points.
	ErrEmptyMap = errors.New("waypoint table needs at least two waypoints")
	// ErrNonMonotonic is returned when waypoint s values do not strictly increase.
	ErrNonMonotonic = errors.New("waypoint s values must strictly increase")
	// ErrDegenerateSegment is returned when the tangent segment used for a
	// Frenet projection is shorter than the configured minimum.
	ErrDegenerateSegment = errors.New("degenerate tangent segment")
)

// Waypoint is one reference point of the track.
type Waypoint struct {
	X  float64
	Y  float64
	S  float64 // cumulative arc length from the track start
	DX float64 // lateral unit vector
	DY float64
}

// SignMode selects how the sign of Frenet d is decided.
type SignMode int

const (
	// SignReferencePoint compares the distances of the query point and its
	// projection to a fixed point inside the loop. Only valid for convex,
	// single-loop tracks that contain the reference point.
	SignReferencePoint SignMode = iota
	// SignCrossProduct uses the side of the tangent the query point lies on.
	SignCrossProduct
)

// Options configures a Map.
type Options struct {
	// Length is the s value at which the track wraps. Zero derives it from
	// the last waypoint plus the closing segment.
	Length           float64
	MinSegmentLength float64
	SignMode         SignMode
	ReferenceX       float64
	ReferenceY       float64
}

// DefaultOptions returns the options matching the reference highway map.
func DefaultOptions() Options {
	return Options{
		MinSegmentLength: 1e-6,
		SignMode:         SignReferencePoint,
		ReferenceX:       1000,
		ReferenceY:       2000,
	}
}

// Map is an immutable waypoint table. It is safe for concurrent use.
type Map struct {
	waypoints []Waypoint
	// cumulative[i] is the summed chord length from waypoint 0 to waypoint i.
	cumulative []float64
	length     float64
	opts       Options
}

// NewMap validates the waypoints and builds a Map. The slice is copied.
func NewMap(waypoints []Waypoint, opts Options) (*Map, error) {
	if len(waypoints) < 2 {
		return nil, ErrEmptyMap
	}
	if opts.MinSegmentLength <= 0 {
		opts.MinSegmentLength = DefaultOptions().MinSegmentLength
	}

	wps := make([]Waypoint, len(waypoints))
	copy(wps, waypoints)

	cumulative := make([]float64, len(wps))
	for i, wp := range wps {
		if !finite(wp.X, wp.Y, wp.S, wp.DX, wp.DY) {
			return nil, fmt.Errorf("waypoint %d has non-finite values", i)
		}
		if i == 0 {
			continue
		}
		if wp.S <= wps[i-1].S {
			return nil, fmt.Errorf("waypoint %d: s=%f after s=%f: %w", i, wp.S, wps[i-1].S, ErrNonMonotonic)
		}
		cumulative[i] = cumulative[i-1] + distance(wps[i-1].X, wps[i-1].Y, wp.X, wp.Y)
	}

	last, first := wps[len(wps)-1], wps[0]
	length := opts.Length
	if length == 0 {
		length = last.S + distance(last.X, last.Y, first.X, first.Y)
	}
	if length <= last.S {
		return nil, fmt.Errorf("track length %f must exceed last waypoint s %f: %w", length, last.S, ErrNonMonotonic)
	}

	return &Map{
		waypoints:  wps,
		cumulative: cumulative,
		length:     length,
		opts:       opts,
	}, nil
}

// Len returns the number of waypoints.
func (m *Map) Len() int { return len(m.waypoints) }

// Length returns the s value at which the track wraps.
func (m *Map) Length() float64 { return m.length }

// Waypoint returns the i-th waypoint.
func (m *Map) Waypoint(i int) Waypoint { return m.waypoints[i] }

// Waypoints returns a copy of the table.
func (m *Map) Waypoints() []Waypoint {
	out := make([]Waypoint, len(m.waypoints))
	copy(out, m.waypoints)
	return out
}

// ClosestWaypoint returns the index of the waypoint nearest to (x, y).
func (m *Map) ClosestWaypoint(x, y float64) int {
	closestLen := math.Inf(1)
	closest := 0
	for i, wp := range m.waypoints {
		if d := distance(x, y, wp.X, wp.Y); d < closestLen {
			closestLen = d
			closest = i
		}
	}
	return closest
}

// NextWaypoint returns the first waypoint ahead of a vehicle at (x, y)
// travelling with the given heading (radians). The closest waypoint is used
// unless it lies more than 45° off the heading, in which case the vehicle has
// already passed it and the following waypoint is returned.
func (m *Map) NextWaypoint(x, y, heading float64) int {
	closest := m.ClosestWaypoint(x, y)
	wp := m.waypoints[closest]

	bearing := math.Atan2(wp.Y-y, wp.X-x)
	angle := math.Mod(math.Abs(heading-bearing), 2*math.Pi)
	angle = math.Min(2*math.Pi-angle, angle)

	if angle > math.Pi/4 {
		closest = (closest + 1) % len(m.waypoints)
	}
	return closest
}

// ToFrenet converts a world position and heading (radians) to Frenet (s, d).
func (m *Map) ToFrenet(x, y, heading float64) (s, d float64, err error) {
	next := m.NextWaypoint(x, y, heading)
	prev := next - 1
	if next == 0 {
		prev = len(m.waypoints) - 1
	}
	p, q := m.waypoints[prev], m.waypoints[next]

	nx, ny := q.X-p.X, q.Y-p.Y
	norm2 := nx*nx + ny*ny
	if norm2 < m.opts.MinSegmentLength*m.opts.MinSegmentLength {
		return 0, 0, fmt.Errorf("segment %d->%d: %w", prev, next, ErrDegenerateSegment)
	}
	xx, xy := x-p.X, y-p.Y

	// projection of the query onto the tangent
	projNorm := (xx*nx + xy*ny) / norm2
	projX, projY := projNorm*nx, projNorm*ny

	d = distance(xx, xy, projX, projY)

	switch m.opts.SignMode {
	case SignCrossProduct:
		if nx*xy-ny*xx > 0 {
			d = -d
		}
	default:
		cx, cy := m.opts.ReferenceX-p.X, m.opts.ReferenceY-p.Y
		if distance(cx, cy, xx, xy) <= distance(cx, cy, projX, projY) {
			d = -d
		}
	}

	s = m.cumulative[prev] + distance(0, 0, projX, projY)
	return s, d, nil
}

// ToCartesian converts Frenet (s, d) to a world position. s is wrapped into
// [0, Length).
func (m *Map) ToCartesian(s, d float64) (x, y float64) {
	s = m.Wrap(s)
	n := len(m.waypoints)

	// last waypoint with S < s, or the first one
	prev := sort.Search(n, func(i int) bool { return m.waypoints[i].S >= s }) - 1
	if prev < 0 {
		prev = 0
	}
	next := (prev + 1) % n
	p, q := m.waypoints[prev], m.waypoints[next]

	heading := math.Atan2(q.Y-p.Y, q.X-p.X)
	segS := s - p.S

	segX := p.X + segS*math.Cos(heading)
	segY := p.Y + segS*math.Sin(heading)

	perp := heading - math.Pi/2
	return segX + d*math.Cos(perp), segY + d*math.Sin(perp)
}

// Wrap maps s into [0, Length).
func (m *Map) Wrap(s float64) float64 {
	s = math.Mod(s, m.length)
	if s < 0 {
		s += m.length
	}
	return s
}

func distance(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package track

import "math"

// CircleWaypoints returns n waypoints on a counter-clockwise circle of the
// given radius. s follows the chords so that Frenet conversions are exact on
// the segments, and the lateral vector points outward (to the right of travel).
//
// The reference-point sign rule works for any circle that contains the
// configured reference point; the default options expect (1000, 2000).
func CircleWaypoints(cx, cy, radius float64, n int) []Waypoint {
	chord := 2 * radius * math.Sin(math.Pi/float64(n))
	wps := make([]Waypoint, n)
	for i := range wps {
		theta := 2 * math.Pi * float64(i) / float64(n)
		wps[i] = Waypoint{
			X:  cx + radius*math.Cos(theta),
			Y:  cy + radius*math.Sin(theta),
			S:  float64(i) * chord,
			DX: math.Cos(theta),
			DY: math.Sin(theta),
		}
	}
	return wps
}

// HeadingAt returns the direction of travel (radians) of the segment that
// starts at waypoint i.
func (m *Map) HeadingAt(i int) float64 {
	p := m.waypoints[i]
	q := m.waypoints[(i+1)%len(m.waypoints)]
	return math.Atan2(q.Y-p.Y, q.X-p.X)
}

package decision

import "math"

// Agent is one nearby vehicle as reported by sensor fusion for this cycle.
type Agent struct {
	ID int     `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
	S  float64 `json:"s"`
	D  float64 `json:"d"`
}

// Speed returns the magnitude of the agent's velocity.
func (a Agent) Speed() float64 {
	return math.Hypot(a.VX, a.VY)
}

// ProjectedS advances the agent along the track by elapsed seconds at its
// current speed.
func (a Agent) ProjectedS(elapsed float64) float64 {
	return a.S + elapsed*a.Speed()
}

// Complete reports whether every field used by the decision is finite.
func (a Agent) Complete() bool {
	for _, v := range [...]float64{a.X, a.Y, a.VX, a.VY, a.S, a.D} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Lanes describes the fixed-width lanes of the track. Lane 0 is the leftmost.
type Lanes struct {
	Count    int
	Width    float64
	HalfBand float64 // half-width of the band used to classify agents
}

// Center returns the Frenet d of the lane centre.
func (l Lanes) Center(lane int) float64 {
	return l.Width*float64(lane) + l.Width/2
}

// Contains reports whether lateral offset d lies strictly inside the band
// of the given lane.
func (l Lanes) Contains(d float64, lane int) bool {
	c := l.Center(lane)
	return d < c+l.HalfBand && d > c-l.HalfBand
}

// Valid reports whether lane is a lane index of the track.
func (l Lanes) Valid(lane int) bool {
	return lane >= 0 && lane < l.Count
}

// LaneOf returns the lane whose band contains d, or -1.
func (l Lanes) LaneOf(d float64) int {
	for lane := 0; lane < l.Count; lane++ {
		if l.Contains(d, lane) {
			return lane
		}
	}
	return -1
}

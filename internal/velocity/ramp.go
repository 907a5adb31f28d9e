// Package velocity holds the open-loop speed controller of the planner.
package velocity

// Ramp moves the target speed by at most a fixed step per planning cycle.
// Emergency braking uses two steps. Speeds are in the configured speed unit.
type Ramp struct {
	Step float64
	Max  float64
}

// Next returns the target speed for the next cycle, clamped to [0, Max].
func (r Ramp) Next(speed float64, tooClose, emergency bool) float64 {
	switch {
	case tooClose && emergency:
		speed -= 2 * r.Step
	case tooClose:
		speed -= r.Step
	case speed < r.Max:
		speed += r.Step
	}

	if speed > r.Max {
		speed = r.Max
	}
	if speed < 0 {
		speed = 0
	}
	return speed
}

// maxDelta is the largest change Next can make in one cycle.
func (r Ramp) maxDelta() float64 { return 2 * r.Step }

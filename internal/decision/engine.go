package decision

import "math"

// Unlimited is the speed cap of a feasible lane with no forward occupant.
var Unlimited = math.Inf(1)

// Verdict is the transient result of a lane feasibility check.
type Verdict struct {
	Feasible bool    `json:"feasible"`
	SpeedCap float64 `json:"speed_cap"` // Unlimited when nothing ahead bounds the lane
}

// Infeasible is the verdict for a lane that must not be entered.
var Infeasible = Verdict{}

// Params holds the tuned thresholds of the lane decision.
type Params struct {
	Lanes Lanes

	// ForwardSafetyDistance is the minimum gap (s units) to an agent ahead.
	ForwardSafetyDistance float64
	// BackwardSafetyFactor scales ForwardSafetyDistance into the gap
	// required behind the ego when entering a lane.
	BackwardSafetyFactor float64
	// LaneChangeSpeedFactor relaxes the speed an agent ahead in the target
	// lane must exceed, relative to the reference speed.
	LaneChangeSpeedFactor float64
	// EmergencySpeedRatio is the fraction of ego speed below which a
	// blocking agent triggers an emergency brake.
	EmergencySpeedRatio float64
}

// Input is everything the decision needs for one cycle.
type Input struct {
	Lane    int     // current session lane
	S       float64 // ego reference s (end of the previous path when one exists)
	Speed   float64 // ego speed as reported by telemetry
	Agents  []Agent
	Elapsed float64 // seconds covered by the unconsumed previous path
}

// Decision is the outcome of Decide.
type Decision struct {
	Lane      int      `json:"lane"`
	Maneuver  Maneuver `json:"maneuver"`
	TooClose  bool     `json:"too_close"`
	Emergency bool     `json:"emergency"`
	// Blocker is the nearest agent ahead inside the forward safety distance.
	Blocker *Agent   `json:"blocker,omitempty"`
	Gap     float64  `json:"gap,omitempty"`
	Left    *Verdict `json:"left,omitempty"`
	Right   *Verdict `json:"right,omitempty"`
}

// Feasible checks whether lane refLane+laneOffset can be entered by an ego at
// refS. Every occupant of the target band must either be far enough ahead
// and faster than LaneChangeSpeedFactor*refSpeed, or far enough behind.
// The returned cap is the slowest qualifying occupant ahead, or Unlimited.
// A target outside the track, an agent whose lane cannot be determined, or an
// occupant with incomplete data makes the lane infeasible.
func (p Params) Feasible(agents []Agent, refS float64, refLane int, refSpeed float64, laneOffset int, elapsed float64) Verdict {
	lane := refLane + laneOffset
	if !p.Lanes.Valid(lane) {
		return Infeasible
	}

	speedCap := Unlimited
	for _, a := range agents {
		if math.IsNaN(a.D) || math.IsInf(a.D, 0) {
			return Infeasible
		}
		if !p.Lanes.Contains(a.D, lane) {
			continue
		}
		if !a.Complete() {
			return Infeasible
		}

		speed := a.Speed()
		s := a.ProjectedS(elapsed)

		if s > refS {
			if s-refS <= p.ForwardSafetyDistance || speed <= p.LaneChangeSpeedFactor*refSpeed {
				return Infeasible
			}
			if speed < speedCap {
				speedCap = speed
			}
			continue
		}
		if s > refS-p.ForwardSafetyDistance*p.BackwardSafetyFactor {
			return Infeasible
		}
	}
	return Verdict{Feasible: true, SpeedCap: speedCap}
}

// Decide runs the lane decision for one cycle. It does not modify in.
func (p Params) Decide(in Input) Decision {
	d := Decision{Lane: in.Lane, Maneuver: KeepLane}

	var blocker *Agent
	ambiguous := false
	minGap := math.Inf(1)
	for _, a := range in.Agents {
		laneKnown := !math.IsNaN(a.D) && !math.IsInf(a.D, 0)
		if laneKnown && !p.Lanes.Contains(a.D, in.Lane) {
			continue
		}
		if !a.Complete() {
			if laneKnown || p.mayBlock(a, in) {
				ambiguous = true
			}
			continue
		}
		gap := a.ProjectedS(in.Elapsed) - in.S
		if gap > 0 && gap < p.ForwardSafetyDistance && gap < minGap {
			minGap = gap
			b := a
			blocker = &b
		}
	}

	if blocker == nil {
		if ambiguous {
			// an occupant of our own lane we cannot place: slow down, stay
			d.TooClose = true
			d.Maneuver = Following
		}
		return d
	}

	d.TooClose = true
	d.Blocker = blocker
	d.Gap = minGap

	if in.Speed*p.EmergencySpeedRatio > blocker.Speed() {
		d.Emergency = true
		d.Maneuver = EmergencyBrake
		return d
	}

	d.Maneuver = Following
	if ambiguous {
		return d
	}

	refSpeed := blocker.Speed()
	left, right := in.Lane-1, in.Lane+1
	hasLeft, hasRight := p.Lanes.Valid(left), p.Lanes.Valid(right)

	switch {
	case hasLeft && hasRight:
		l := p.Feasible(in.Agents, in.S, in.Lane, refSpeed, -1, in.Elapsed)
		r := p.Feasible(in.Agents, in.S, in.Lane, refSpeed, +1, in.Elapsed)
		d.Left, d.Right = &l, &r
		switch {
		case l.Feasible && (!r.Feasible || l.SpeedCap >= r.SpeedCap):
			d.Lane = left
		case r.Feasible:
			d.Lane = right
		}
	case hasLeft:
		l := p.Feasible(in.Agents, in.S, in.Lane, refSpeed, -1, in.Elapsed)
		d.Left = &l
		if l.Feasible {
			d.Lane = left
		}
	case hasRight:
		r := p.Feasible(in.Agents, in.S, in.Lane, refSpeed, +1, in.Elapsed)
		d.Right = &r
		if r.Feasible {
			d.Lane = right
		}
	}

	switch {
	case d.Lane < in.Lane:
		d.Maneuver = ChangingLeft
	case d.Lane > in.Lane:
		d.Maneuver = ChangingRight
	}
	return d
}

// mayBlock reports whether an agent of unknown lane could be the blocker:
// its projected gap is unknown or inside the forward safety distance.
func (p Params) mayBlock(a Agent, in Input) bool {
	gap := a.ProjectedS(in.Elapsed) - in.S
	if math.IsNaN(gap) || math.IsInf(gap, 0) {
		return true
	}
	return gap > 0 && gap < p.ForwardSafetyDistance
}

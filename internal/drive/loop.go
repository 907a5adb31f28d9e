// Package drive runs the planner in closed loop without the simulator: a
// kinematic vehicle follows each issued path point by point while scripted
// agents cruise along their lanes.
package drive

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/planner"
	"github.com/banshee-data/velocity.planner/internal/track"
)

// ErrStalled is returned when the planner issues an empty path.
var ErrStalled = errors.New("planner issued an empty path")

// Agent is a scripted vehicle holding its lane at constant speed (m/s).
type Agent struct {
	ID    int
	Lane  int
	S     float64
	Speed float64
}

// Config describes one closed-loop run.
type Config struct {
	StartS    float64
	StartLane int
	Cycles    int
	// Consume is the number of path points the vehicle drives between two
	// planning cycles.
	Consume int
	// UnitFactor converts m/s into the telemetry speed unit.
	UnitFactor float64
	Agents     []Agent
}

// Summary describes a finished run.
type Summary struct {
	SessionID   string
	Cycles      int
	Distance    float64
	LaneChanges int
	FinalLane   int
	FinalD      float64
	FinalTarget float64
	MaxSpeed    float64 // measured, in the telemetry unit

	// OccupiedLane is the lane whose band contains FinalD, or -1 when the
	// vehicle ended between bands.
	OccupiedLane int
}

type vehicle struct {
	x, y, yaw, speed float64
}

// Run drives cfg.Cycles planning cycles on p. It stops early when ctx is
// cancelled or a cycle fails.
func Run(ctx context.Context, p *planner.Planner, cfg Config) (Summary, error) {
	if cfg.Consume < 1 {
		return Summary{}, fmt.Errorf("consume must be at least 1, got %d", cfg.Consume)
	}
	m := p.Track()
	lanes := p.Lanes()
	if !lanes.Valid(cfg.StartLane) {
		return Summary{}, fmt.Errorf("start lane %d outside [0, %d)", cfg.StartLane, lanes.Count)
	}
	dt := p.Period().Seconds() * float64(cfg.Consume)

	x, y := m.ToCartesian(cfg.StartS, lanes.Center(cfg.StartLane))
	ego := vehicle{x: x, y: y, yaw: headingAt(m, cfg.StartS, lanes.Center(cfg.StartLane))}

	agents := append([]Agent(nil), cfg.Agents...)
	sess := p.NewSession()
	sess.Lane = cfg.StartLane
	p.Observer().ObserveSession(sess, "drive")
	sum := Summary{SessionID: sess.ID}

	var prevX, prevY []float64
	for i := 0; i < cfg.Cycles; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		in, err := buildInput(m, lanes, ego, prevX, prevY, agents, cfg.UnitFactor)
		if err != nil {
			return sum, fmt.Errorf("cycle %d: %w", i+1, err)
		}
		lane := sess.Lane
		out, err := p.Plan(sess, in)
		if err != nil {
			return sum, fmt.Errorf("cycle %d: %w", i+1, err)
		}
		if len(out.X) == 0 {
			return sum, fmt.Errorf("cycle %d: %w", i+1, ErrStalled)
		}
		if sess.Lane != lane {
			sum.LaneChanges++
		}

		n := min(cfg.Consume, len(out.X))
		for k := 0; k < n; k++ {
			step := math.Hypot(out.X[k]-ego.x, out.Y[k]-ego.y)
			if step > 0 {
				ego.yaw = math.Atan2(out.Y[k]-ego.y, out.X[k]-ego.x)
			}
			ego.speed = step / p.Period().Seconds()
			sum.Distance += step
			ego.x, ego.y = out.X[k], out.Y[k]
		}
		prevX, prevY = out.X[n:], out.Y[n:]
		sum.MaxSpeed = math.Max(sum.MaxSpeed, ego.speed*cfg.UnitFactor)

		for a := range agents {
			agents[a].S += agents[a].Speed * dt
		}
		sum.Cycles++
	}

	_, d, err := m.ToFrenet(ego.x, ego.y, ego.yaw)
	if err != nil {
		return sum, err
	}
	sum.FinalLane = sess.Lane
	sum.FinalD = d
	sum.OccupiedLane = lanes.LaneOf(d)
	sum.FinalTarget = sess.TargetSpeed
	monitoring.Logf("drive: session %s ran %d cycles over %.1f m with %d lane changes",
		sum.SessionID, sum.Cycles, sum.Distance, sum.LaneChanges)
	return sum, nil
}

func buildInput(m *track.Map, lanes decision.Lanes, ego vehicle, prevX, prevY []float64, agents []Agent, unitFactor float64) (planner.Input, error) {
	s, d, err := m.ToFrenet(ego.x, ego.y, ego.yaw)
	if err != nil {
		return planner.Input{}, err
	}
	in := planner.Input{
		Telemetry: planner.Telemetry{
			X:     ego.x,
			Y:     ego.y,
			S:     s,
			D:     d,
			Yaw:   ego.yaw * 180 / math.Pi,
			Speed: ego.speed * unitFactor,
		},
		PreviousX: prevX,
		PreviousY: prevY,
	}
	if n := len(prevX); n > 0 {
		heading := ego.yaw
		if n > 1 {
			heading = math.Atan2(prevY[n-1]-prevY[n-2], prevX[n-1]-prevX[n-2])
		}
		in.EndS, in.EndD, err = m.ToFrenet(prevX[n-1], prevY[n-1], heading)
		if err != nil {
			return planner.Input{}, err
		}
	}

	for _, a := range agents {
		ad := lanes.Center(a.Lane)
		ax, ay := m.ToCartesian(a.S, ad)
		heading := headingAt(m, a.S, ad)
		in.Agents = append(in.Agents, decision.Agent{
			ID: a.ID,
			X:  ax,
			Y:  ay,
			VX: a.Speed * math.Cos(heading),
			VY: a.Speed * math.Sin(heading),
			S:  m.Wrap(a.S),
			D:  ad,
		})
	}
	return in, nil
}

// headingAt returns the direction of travel at Frenet (s, d).
func headingAt(m *track.Map, s, d float64) float64 {
	x0, y0 := m.ToCartesian(s, d)
	x1, y1 := m.ToCartesian(s+1, d)
	return math.Atan2(y1-y0, x1-x0)
}

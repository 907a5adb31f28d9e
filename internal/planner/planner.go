// Package planner runs one planning cycle: it places the ego vehicle on the
// track, decides lane and maneuver, ramps the target speed and synthesises
// the next path. A cycle either succeeds and commits its decision to the
// session, or fails and leaves the session untouched.
package planner

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/velocity.planner/internal/config"
	"github.com/banshee-data/velocity.planner/internal/decision"
	"github.com/banshee-data/velocity.planner/internal/monitoring"
	"github.com/banshee-data/velocity.planner/internal/timeutil"
	"github.com/banshee-data/velocity.planner/internal/track"
	"github.com/banshee-data/velocity.planner/internal/trajectory"
	"github.com/banshee-data/velocity.planner/internal/velocity"
)

// ErrMalformedInput is returned when a frame cannot be planned from.
var ErrMalformedInput = errors.New("malformed planner input")

// Telemetry is the ego vehicle state of one frame. Yaw is in degrees and
// Speed in the configured speed unit.
type Telemetry struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	S     float64 `json:"s"`
	D     float64 `json:"d"`
	Yaw   float64 `json:"yaw"`
	Speed float64 `json:"speed"`
}

// Input is one telemetry frame.
type Input struct {
	Telemetry Telemetry
	// PreviousX and PreviousY are the points of the last issued path that
	// the vehicle has not consumed yet.
	PreviousX []float64
	PreviousY []float64
	EndS      float64 // Frenet s of the last unconsumed point
	EndD      float64
	Agents    []decision.Agent
}

// Output is the result of a successful cycle.
type Output struct {
	X           []float64
	Y           []float64
	Decision    decision.Decision
	TargetSpeed float64
	Reused      int
	Fresh       int
	Latency     time.Duration
}

// Planner holds everything that is fixed for the lifetime of the process.
// It is immutable after New and safe to share between sessions.
type Planner struct {
	track       *track.Map
	params      decision.Params
	ramp        velocity.Ramp
	synth       *trajectory.Synthesizer
	period      time.Duration
	initialLane int
	clock       timeutil.Clock
	observer    Observer
}

// Option configures a Planner.
type Option func(*Planner)

// WithClock sets the clock used for latency measurement.
func WithClock(c timeutil.Clock) Option {
	return func(p *Planner) { p.clock = c }
}

// WithObserver sets the observer notified after each successful cycle.
func WithObserver(o Observer) Option {
	return func(p *Planner) {
		if o != nil {
			p.observer = o
		}
	}
}

// TrackOptions maps the track section of cfg onto track.Options.
func TrackOptions(cfg *config.PlannerConfig) track.Options {
	opts := track.DefaultOptions()
	opts.Length = cfg.GetTrackLength()
	opts.MinSegmentLength = cfg.GetMinSegmentLength()
	opts.ReferenceX, opts.ReferenceY = cfg.GetSignReference()
	if cfg.GetLateralSignMode() == config.SignModeCrossProduct {
		opts.SignMode = track.SignCrossProduct
	}
	return opts
}

// LanesFromConfig returns the lane geometry described by cfg.
func LanesFromConfig(cfg *config.PlannerConfig) decision.Lanes {
	return decision.Lanes{
		Count:    cfg.GetLaneCount(),
		Width:    cfg.GetLaneWidth(),
		HalfBand: cfg.GetLaneBandHalfWidth(),
	}
}

// New builds a Planner over m using cfg.
func New(cfg *config.PlannerConfig, m *track.Map, opts ...Option) *Planner {
	lanes := LanesFromConfig(cfg)
	p := &Planner{
		track: m,
		params: decision.Params{
			Lanes:                 lanes,
			ForwardSafetyDistance: cfg.GetForwardSafetyDistance(),
			BackwardSafetyFactor:  cfg.GetBackwardSafetyFactor(),
			LaneChangeSpeedFactor: cfg.GetLaneChangeSpeedFactor(),
			EmergencySpeedRatio:   cfg.GetEmergencySpeedRatio(),
		},
		ramp: velocity.Ramp{Step: cfg.GetSpeedStep(), Max: cfg.GetMaxSpeed()},
		synth: trajectory.NewSynthesizer(m, trajectory.Config{
			Horizon:        cfg.GetHorizonPoints(),
			MinTrustedTail: cfg.GetMinTrustedTail(),
			AnchorSpacing:  cfg.GetAnchorSpacing(),
			TargetX:        cfg.GetHorizonDistance(),
			Period:         cfg.GetCyclePeriod(),
			UnitFactor:     cfg.GetSpeedUnitFactor(),
			MinChord:       cfg.GetMinSegmentLength(),
		}),
		period:      cfg.GetCyclePeriod(),
		initialLane: cfg.GetInitialLane(),
		clock:       timeutil.RealClock{},
		observer:    nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Track returns the waypoint map the planner works on.
func (p *Planner) Track() *track.Map { return p.track }

// Lanes returns the lane layout.
func (p *Planner) Lanes() decision.Lanes { return p.params.Lanes }

// Period returns the cycle period.
func (p *Planner) Period() time.Duration { return p.period }

// Observer returns the observer notified by Plan.
func (p *Planner) Observer() Observer { return p.observer }

// Plan runs one cycle for sess. On error sess is unchanged.
func (p *Planner) Plan(sess *Session, in Input) (Output, error) {
	start := p.clock.Now()

	if err := validate(in); err != nil {
		return Output{}, err
	}

	tail := len(in.PreviousX)
	refS := in.Telemetry.S
	if tail > 0 {
		refS = in.EndS
	}

	dec := p.params.Decide(decision.Input{
		Lane:    sess.Lane,
		S:       refS,
		Speed:   in.Telemetry.Speed,
		Agents:  in.Agents,
		Elapsed: float64(tail) * p.period.Seconds(),
	})
	speed := p.ramp.Next(sess.TargetSpeed, dec.TooClose, dec.Emergency)

	path, err := p.synth.Synthesize(trajectory.Request{
		X:         in.Telemetry.X,
		Y:         in.Telemetry.Y,
		YawDeg:    in.Telemetry.Yaw,
		RefS:      refS,
		TargetD:   p.params.Lanes.Center(dec.Lane),
		Speed:     speed,
		PreviousX: in.PreviousX,
		PreviousY: in.PreviousY,
	})
	if err != nil {
		return Output{}, fmt.Errorf("synthesize path in lane %d: %w", dec.Lane, err)
	}

	prevLane := sess.Lane
	sess.Lane = dec.Lane
	sess.TargetSpeed = speed
	sess.Maneuver = dec.Maneuver
	sess.Cycles++

	latency := p.clock.Since(start)
	overBudget := latency > p.period
	if overBudget {
		monitoring.Logf("planner: session %s cycle %d took %s (budget %s)", sess.ID, sess.Cycles, latency, p.period)
	}
	l := monitoring.Logger()
	l.Debug().
		Str("session", sess.ID).
		Uint64("cycle", sess.Cycles).
		Stringer("maneuver", dec.Maneuver).
		Int("lane", dec.Lane).
		Float64("target_speed", speed).
		Int("reused", path.Reused).
		Dur("latency", latency).
		Msg("cycle")

	out := Output{
		X:           path.X,
		Y:           path.Y,
		Decision:    dec,
		TargetSpeed: speed,
		Reused:      path.Reused,
		Fresh:       path.Len() - path.Reused,
		Latency:     latency,
	}

	p.observer.ObserveCycle(CycleReport{
		SessionID:   sess.ID,
		Cycle:       sess.Cycles,
		At:          start,
		X:           in.Telemetry.X,
		Y:           in.Telemetry.Y,
		S:           in.Telemetry.S,
		D:           in.Telemetry.D,
		Speed:       in.Telemetry.Speed,
		PrevLane:    prevLane,
		Lane:        dec.Lane,
		Maneuver:    dec.Maneuver,
		TargetSpeed: speed,
		Agents:      len(in.Agents),
		Gap:         dec.Gap,
		Reused:      out.Reused,
		Fresh:       out.Fresh,
		Latency:     latency,
		OverBudget:  overBudget,
		PathX:       out.X,
		PathY:       out.Y,
	})
	return out, nil
}

func validate(in Input) error {
	t := in.Telemetry
	if !finite(t.X, t.Y, t.S, t.D, t.Yaw, t.Speed) {
		return fmt.Errorf("telemetry has non-finite fields: %w", ErrMalformedInput)
	}
	if len(in.PreviousX) != len(in.PreviousY) {
		return fmt.Errorf("previous path has %d x and %d y values: %w",
			len(in.PreviousX), len(in.PreviousY), ErrMalformedInput)
	}
	if len(in.PreviousX) == 0 {
		return nil
	}
	if !finite(in.EndS, in.EndD) {
		return fmt.Errorf("end of previous path is non-finite: %w", ErrMalformedInput)
	}
	if !finite(in.PreviousX...) || !finite(in.PreviousY...) {
		return fmt.Errorf("previous path has non-finite points: %w", ErrMalformedInput)
	}
	return nil
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

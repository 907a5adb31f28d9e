package planner

import (
	"time"

	"github.com/banshee-data/velocity.planner/internal/decision"
)

// CycleReport summarises one successful planning cycle.
type CycleReport struct {
	SessionID   string            `json:"session_id"`
	Cycle       uint64            `json:"cycle"`
	At          time.Time         `json:"at"`
	X           float64           `json:"x"`
	Y           float64           `json:"y"`
	S           float64           `json:"s"`
	D           float64           `json:"d"`
	Speed       float64           `json:"speed"`
	PrevLane    int               `json:"prev_lane"`
	Lane        int               `json:"lane"`
	Maneuver    decision.Maneuver `json:"maneuver"`
	TargetSpeed float64           `json:"target_speed"`
	Agents      int               `json:"agents"`
	Gap         float64           `json:"gap,omitempty"`
	Reused      int               `json:"reused"`
	Fresh       int               `json:"fresh"`
	Latency     time.Duration     `json:"latency_ns"`
	OverBudget  bool              `json:"over_budget"`
	PathX       []float64         `json:"path_x,omitempty"`
	PathY       []float64         `json:"path_y,omitempty"`
}

// Observer is notified of new sessions and of every successful cycle.
// Implementations must not block the planning goroutine for long.
type Observer interface {
	ObserveSession(s *Session, remote string)
	ObserveCycle(r CycleReport)
}

// Observers fans notifications out to each observer in order.
type Observers []Observer

func (o Observers) ObserveSession(s *Session, remote string) {
	for _, obs := range o {
		obs.ObserveSession(s, remote)
	}
}

func (o Observers) ObserveCycle(r CycleReport) {
	for _, obs := range o {
		obs.ObserveCycle(r)
	}
}

type nopObserver struct{}

func (nopObserver) ObserveSession(*Session, string) {}
func (nopObserver) ObserveCycle(CycleReport)        {}

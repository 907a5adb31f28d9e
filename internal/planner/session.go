package planner

import (
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/velocity.planner/internal/decision"
)

// Session is the state one vehicle carries between planning cycles. A
// session belongs to exactly one connection and is only mutated by
// Planner.Plan, after a cycle has fully succeeded.
type Session struct {
	ID          string            `json:"id"`
	Lane        int               `json:"lane"`
	TargetSpeed float64           `json:"target_speed"`
	Maneuver    decision.Maneuver `json:"maneuver"`
	Cycles      uint64            `json:"cycles"`
	StartedAt   time.Time         `json:"started_at"`
}

// NewSession returns a session in the configured initial lane, at rest.
func (p *Planner) NewSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		Lane:      p.initialLane,
		Maneuver:  decision.KeepLane,
		StartedAt: p.clock.Now(),
	}
}

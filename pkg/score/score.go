package score

import (
	"time"
)

// Components are the normalized inputs to the engagement formula.
// Each value lies in [0,1].
type Components struct {
	Completion        float64 `json:"completion"`
	Time              float64 `json:"time"`
	Interaction       float64 `json:"interaction"`
	InactivityPenalty float64 `json:"inactivity_penalty"`
}

// Weights are the multipliers applied to each component. The inactivity
// weight is subtractive.
type Weights struct {
	Completion  float64 `json:"completion"`
	Time        float64 `json:"time"`
	Interaction float64 `json:"interaction"`
	Inactivity  float64 `json:"inactivity"`
}

// DefaultWeights returns the standard engagement weighting.
func DefaultWeights() Weights {
	return Weights{Completion: 40, Time: 30, Interaction: 20, Inactivity: 10}
}

// Compute applies the engagement formula:
//
//	completion*Wc + time*Wt + interaction*Wi - inactivity*Wp
//
// clamped to [0,100].
func Compute(c Components, w Weights) float64 {
	s := c.Completion*w.Completion +
		c.Time*w.Time +
		c.Interaction*w.Interaction -
		c.InactivityPenalty*w.Inactivity
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Snapshot is an immutable record of a user's engagement score at a point
// in time. Snapshots for one user are ordered by EventSeq, the admission
// sequence of the triggering event; decay ticks reuse the latest sequence.
type Snapshot struct {
	UserID     string     `json:"user_id"`
	SessionID  string     `json:"session_id"`
	Score      float64    `json:"score"`
	Components Components `json:"components"`
	ComputedAt time.Time  `json:"computed_at"`
	EventSeq   uint64     `json:"event_seq"`
}

// SessionContext carries the read-only session/step state a snapshot was
// computed under. The session itself is owned by the external Onboarding
// Flow Manager; this engine only reads it.
type SessionContext struct {
	SessionID   string `json:"session_id"`
	Role        string `json:"role,omitempty"`
	CurrentStep int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
}

package intervention

import (
	"time"
)

// Record is a single contextual-help intervention. Immutable once created
// except for the WasHelpful feedback field, which the user may set later.
type Record struct {
	ID          string    `json:"intervention_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	StepContext string    `json:"step_context,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
	Message     string    `json:"message"`
	WasHelpful  *bool     `json:"was_helpful,omitempty"`
	Fallback    bool      `json:"fallback,omitempty"`
}

// HelpRequest is the context handed to the external Contextual Help
// Generator when an intervention fires.
type HelpRequest struct {
	UserID      string  `json:"user_id"`
	SessionID   string  `json:"session_id"`
	Role        string  `json:"role,omitempty"`
	CurrentStep int     `json:"current_step"`
	TotalSteps  int     `json:"total_steps"`
	Score       float64 `json:"score"`
}

package event

import (
	"time"
)

// Type identifies the kind of interaction an event describes.
type Type string

const (
	TypeStepStart    Type = "step_start"
	TypeStepComplete Type = "step_complete"
	TypeClick        Type = "click"
	TypeScroll       Type = "scroll"
	TypeFocus        Type = "focus"
	TypeBlur         Type = "blur"
	TypePageTime     Type = "page_time"
	TypeError        Type = "error"
)

// Types lists every admissible event type.
var Types = []Type{
	TypeStepStart,
	TypeStepComplete,
	TypeClick,
	TypeScroll,
	TypeFocus,
	TypeBlur,
	TypePageTime,
	TypeError,
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Interaction reports whether t counts toward the interaction-frequency
// window. Only active input events qualify; blur, page_time and error
// events do not indicate the user is engaged.
func (t Type) Interaction() bool {
	return t == TypeClick || t == TypeScroll || t == TypeFocus
}

// InteractionEvent is a single admitted user interaction. Immutable once
// admitted. Events for one user are ordered by OccurredAt with ties broken
// by Seq, the per-user admission sequence number assigned at ingestion.
type InteractionEvent struct {
	EventID    string                 `json:"event_id"`
	UserID     string                 `json:"user_id"`
	SessionID  string                 `json:"session_id"`
	Role       string                 `json:"role,omitempty"`
	Type       Type                   `json:"event_type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Seq        uint64                 `json:"seq"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// payloadNumber extracts a numeric payload field. JSON decoding produces
// float64 for all numbers; int is accepted for events built in code.
func (e *InteractionEvent) payloadNumber(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// StepNumber returns the step_number payload field, or 0 when absent.
func (e *InteractionEvent) StepNumber() int {
	n, ok := e.payloadNumber("step_number")
	if !ok || n < 0 {
		return 0
	}
	return int(n)
}

// TotalSteps returns the total_steps payload field, or 0 when absent.
func (e *InteractionEvent) TotalSteps() int {
	n, ok := e.payloadNumber("total_steps")
	if !ok || n < 0 {
		return 0
	}
	return int(n)
}

// EstimatedTime returns the estimated_time_seconds payload field as a
// duration, or 0 when absent. Step metadata originates from the external
// Document Intelligence service and rides along on step_start events.
func (e *InteractionEvent) EstimatedTime() time.Duration {
	n, ok := e.payloadNumber("estimated_time_seconds")
	if !ok || n <= 0 {
		return 0
	}
	return time.Duration(n * float64(time.Second))
}

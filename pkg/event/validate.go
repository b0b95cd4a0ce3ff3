package event

import (
	"fmt"
	"time"
)

// DefaultClockSkewTolerance bounds how far in the future occurred_at may
// be before an event is rejected as malformed.
const DefaultClockSkewTolerance = 2 * time.Second

// ValidationError describes why an event was rejected at ingestion.
// It is client-visible and non-retryable without correction.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// Validator checks events against the admission contract before they are
// routed to a lane.
type Validator struct {
	SkewTolerance time.Duration
	Now           func() time.Time
}

// NewValidator returns a validator with the given clock-skew tolerance.
// A zero tolerance falls back to DefaultClockSkewTolerance, a nil clock
// to time.Now.
func NewValidator(skew time.Duration, now func() time.Time) *Validator {
	if skew <= 0 {
		skew = DefaultClockSkewTolerance
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{SkewTolerance: skew, Now: now}
}

// Validate returns a *ValidationError when ev does not satisfy the
// admission contract, nil otherwise.
func (v *Validator) Validate(ev *InteractionEvent) error {
	if ev == nil {
		return &ValidationError{Field: "event", Reason: "is required"}
	}
	if ev.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if ev.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "is required"}
	}
	if ev.Type == "" {
		return &ValidationError{Field: "event_type", Reason: "is required"}
	}
	if !ev.Type.Valid() {
		return &ValidationError{Field: "event_type", Reason: fmt.Sprintf("%q is not a known type", ev.Type)}
	}
	if ev.OccurredAt.IsZero() {
		return &ValidationError{Field: "occurred_at", Reason: "is required"}
	}
	if ev.OccurredAt.After(v.Now().Add(v.SkewTolerance)) {
		return &ValidationError{Field: "occurred_at", Reason: "is in the future beyond clock-skew tolerance"}
	}
	return nil
}

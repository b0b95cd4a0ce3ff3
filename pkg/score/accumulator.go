package score

import (
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
)

// Accumulator maintains the rolling per-user state the engagement formula
// is computed from. It is owned by a single lane worker and is not safe
// for concurrent use; readers get immutable Snapshots instead.
type Accumulator struct {
	cfg    Config
	userID string

	sessionID  string
	role       string
	totalSteps int

	started   map[int]time.Time
	completed map[int]bool

	currentStep     int
	currentStepAt   time.Time
	currentEstimate time.Duration

	interactions      []time.Time
	lastInteractionAt time.Time

	lastSeq uint64
}

// NewAccumulator creates an empty accumulator for one user.
func NewAccumulator(cfg Config, userID string) *Accumulator {
	return &Accumulator{
		cfg:       cfg,
		userID:    userID,
		started:   make(map[int]time.Time),
		completed: make(map[int]bool),
	}
}

// Observe folds one admitted event into the accumulator state. Events
// must arrive in admission order; the lane guarantees that.
func (a *Accumulator) Observe(ev *event.InteractionEvent) {
	if ev.Seq > a.lastSeq {
		a.lastSeq = ev.Seq
	}
	if ev.SessionID != "" {
		a.sessionID = ev.SessionID
	}
	if ev.Role != "" {
		a.role = ev.Role
	}
	if ts := ev.TotalSteps(); ts > 0 {
		a.totalSteps = ts
	}

	switch ev.Type {
	case event.TypeStepStart:
		step := ev.StepNumber()
		if step <= 0 {
			step = a.currentStep + 1
		}
		if _, ok := a.started[step]; !ok {
			a.started[step] = ev.OccurredAt
		}
		a.currentStep = step
		a.currentStepAt = ev.OccurredAt
		a.currentEstimate = ev.EstimatedTime()
		if a.currentEstimate <= 0 {
			a.currentEstimate = a.cfg.DefaultEstimatedStepTime
		}
	case event.TypeStepComplete:
		step := ev.StepNumber()
		if step <= 0 {
			step = a.currentStep
		}
		if step <= 0 {
			return
		}
		// A completion implies the step was seen even if its
		// step_start was lost.
		if _, ok := a.started[step]; !ok {
			a.started[step] = ev.OccurredAt
		}
		a.completed[step] = true
	}

	if ev.Type.Interaction() {
		a.interactions = append(a.interactions, ev.OccurredAt)
		if ev.OccurredAt.After(a.lastInteractionAt) {
			a.lastInteractionAt = ev.OccurredAt
		}
		a.prune(ev.OccurredAt)
	}
}

// prune drops interactions that have left the trailing window.
func (a *Accumulator) prune(now time.Time) {
	cutoff := now.Add(-a.cfg.ActivityWindow)
	keep := a.interactions[:0]
	for _, ts := range a.interactions {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	a.interactions = keep
}

// Components computes the normalized formula inputs as of now.
func (a *Accumulator) Components(now time.Time) Components {
	var c Components

	// Step completion rate: completed steps over steps seen so far.
	if seen := len(a.started); seen > 0 {
		c.Completion = float64(len(a.completed)) / float64(seen)
		if c.Completion > 1 {
			c.Completion = 1
		}
	}

	// Normalized time spent on the current step, capped at 1.0 so an
	// idle-but-open session cannot run the score up.
	if !a.currentStepAt.IsZero() && a.currentEstimate > 0 {
		spent := now.Sub(a.currentStepAt)
		if spent < 0 {
			spent = 0
		}
		c.Time = float64(spent) / float64(a.currentEstimate)
		if c.Time > 1 {
			c.Time = 1
		}
	}

	// Interaction frequency against the configured reference rate.
	a.prune(now)
	reference := a.cfg.ReferencePerMinute * a.cfg.ActivityWindow.Minutes()
	if reference > 0 {
		c.Interaction = float64(len(a.interactions)) / reference
		if c.Interaction > 1 {
			c.Interaction = 1
		}
	}

	// Inactivity: fraction of the trailing window since the last
	// interaction. 1.0 when no interaction has landed in the window.
	if a.lastInteractionAt.IsZero() {
		c.InactivityPenalty = 1
	} else {
		idle := now.Sub(a.lastInteractionAt)
		if idle < 0 {
			idle = 0
		}
		if idle > a.cfg.ActivityWindow {
			idle = a.cfg.ActivityWindow
		}
		c.InactivityPenalty = float64(idle) / float64(a.cfg.ActivityWindow)
	}

	return c
}

// Snapshot computes the score as of now and wraps it in an immutable
// snapshot carrying the latest observed event sequence.
func (a *Accumulator) Snapshot(now time.Time) *Snapshot {
	c := a.Components(now)
	return &Snapshot{
		UserID:     a.userID,
		SessionID:  a.sessionID,
		Score:      Compute(c, a.cfg.Weights),
		Components: c,
		ComputedAt: now,
		EventSeq:   a.lastSeq,
	}
}

// SessionContext returns the read-only session/step state for use by the
// intervention path.
func (a *Accumulator) SessionContext() SessionContext {
	return SessionContext{
		SessionID:   a.sessionID,
		Role:        a.role,
		CurrentStep: a.currentStep,
		TotalSteps:  a.totalSteps,
	}
}

// LastSeq returns the admission sequence of the latest observed event.
func (a *Accumulator) LastSeq() uint64 {
	return a.lastSeq
}

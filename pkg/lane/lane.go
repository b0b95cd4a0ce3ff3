package lane

import (
	"sync"
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// State tracks where a lane is in its processing cycle. States are
// observational; transitions happen only on the worker draining the lane.
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateRetrying
	StateFailed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// item is one unit of lane work: either an admitted event or an
// inactivity-decay tick. Ticks carry only the time they fired at.
type item struct {
	ev     *event.InteractionEvent
	tickAt time.Time
}

// lane is the ordered processing channel for one user. All mutable state
// behind mu; the accumulator is touched only by the worker currently
// draining the lane, which the scheduled flag makes unique.
type lane struct {
	userID string

	mu        sync.Mutex
	queue     []item
	scheduled bool
	evicted   bool
	state     State

	seq          uint64
	seen         map[string]time.Time
	lastSeenScan time.Time
	lastActivity time.Time

	acc *score.Accumulator
}

func newLane(userID string, scoring score.Config, now time.Time) *lane {
	return &lane{
		userID:       userID,
		seen:         make(map[string]time.Time),
		lastSeenScan: now,
		lastActivity: now,
		acc:          score.NewAccumulator(scoring, userID),
	}
}

// pruneSeen drops event IDs that have aged out of the idempotency
// window. Called under mu, at most once per window.
func (l *lane) pruneSeen(now time.Time, window time.Duration) {
	if now.Sub(l.lastSeenScan) < window {
		return
	}
	cutoff := now.Add(-window)
	for id, admitted := range l.seen {
		if admitted.Before(cutoff) {
			delete(l.seen, id)
		}
	}
	l.lastSeenScan = now
}

// pop removes the next item, or unschedules the lane when empty.
func (l *lane) pop() (item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		l.scheduled = false
		return item{}, false
	}
	it := l.queue[0]
	l.queue = l.queue[1:]
	return it, true
}

func (l *lane) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *lane) getState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// drained reports whether the lane has no pending or in-flight work.
func (l *lane) drained() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) == 0 && !l.scheduled
}

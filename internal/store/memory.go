package store

import (
	"context"
	"sync"
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/intervention"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// MemoryStore is an in-process Store used by tests and for local runs
// without a database. Append order is global insertion order, which per
// user matches lane order since each user has a single writer.
type MemoryStore struct {
	mu sync.RWMutex

	events        []*event.InteractionEvent
	eventIDs      map[string]bool
	snapshots     []*score.Snapshot
	interventions []*intervention.Record
	byID          map[string]*intervention.Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		eventIDs: make(map[string]bool),
		byID:     make(map[string]*intervention.Record),
	}
}

// AppendEvent implements Store.
func (m *MemoryStore) AppendEvent(ctx context.Context, ev *event.InteractionEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eventIDs[ev.EventID] {
		return false, nil
	}
	cp := *ev
	m.events = append(m.events, &cp)
	m.eventIDs[ev.EventID] = true
	return true, nil
}

// AppendSnapshot implements Store.
func (m *MemoryStore) AppendSnapshot(ctx context.Context, snap *score.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *snap
	m.snapshots = append(m.snapshots, &cp)
	return nil
}

// AppendIntervention implements Store.
func (m *MemoryStore) AppendIntervention(ctx context.Context, rec *intervention.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.interventions = append(m.interventions, &cp)
	m.byID[rec.ID] = &cp
	return nil
}

// SetInterventionFeedback implements Store.
func (m *MemoryStore) SetInterventionFeedback(ctx context.Context, id string, wasHelpful bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	v := wasHelpful
	rec.WasHelpful = &v
	return nil
}

// LatestSnapshot implements Store.
func (m *MemoryStore) LatestSnapshot(ctx context.Context, userID string) (*score.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.snapshots) - 1; i >= 0; i-- {
		if m.snapshots[i].UserID == userID {
			cp := *m.snapshots[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// SnapshotsByUser implements Store.
func (m *MemoryStore) SnapshotsByUser(ctx context.Context, userID string, from, to time.Time) ([]*score.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*score.Snapshot
	for _, s := range m.snapshots {
		if s.UserID == userID && inRange(s.ComputedAt, from, to) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SnapshotsInRange implements Store.
func (m *MemoryStore) SnapshotsInRange(ctx context.Context, from, to time.Time) ([]*score.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*score.Snapshot
	for _, s := range m.snapshots {
		if inRange(s.ComputedAt, from, to) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// EventsByUser implements Store.
func (m *MemoryStore) EventsByUser(ctx context.Context, userID string, from, to time.Time) ([]*event.InteractionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*event.InteractionEvent
	for _, e := range m.events {
		if e.UserID == userID && inRange(e.OccurredAt, from, to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// EventsInRange implements Store.
func (m *MemoryStore) EventsInRange(ctx context.Context, from, to time.Time) ([]*event.InteractionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*event.InteractionEvent
	for _, e := range m.events {
		if inRange(e.OccurredAt, from, to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// LatestInterventionBySession implements Store.
func (m *MemoryStore) LatestInterventionBySession(ctx context.Context, sessionID string) (*intervention.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.interventions) - 1; i >= 0; i-- {
		if m.interventions[i].SessionID == sessionID {
			cp := *m.interventions[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// InterventionsByUser implements Store.
func (m *MemoryStore) InterventionsByUser(ctx context.Context, userID string) ([]*intervention.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*intervention.Record
	for _, r := range m.interventions {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements Store.
func (m *MemoryStore) Close() {}

// inRange uses the half-open interval [from,to) so window boundaries are
// never double counted. Zero bounds are open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

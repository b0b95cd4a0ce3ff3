package store

import (
	"context"
	"errors"
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/intervention"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Store is the History Store: the append-only durability boundary for
// events, score snapshots and intervention records. Nothing is updated
// or deleted except the single permitted feedback update on an
// intervention record. Insertion order per user is preserved for events
// and snapshots so current score and trend lines reconstruct
// deterministically.
type Store interface {
	// AppendEvent persists an admitted event. inserted=false means the
	// event ID was already stored (idempotent replay).
	AppendEvent(ctx context.Context, ev *event.InteractionEvent) (inserted bool, err error)

	// AppendSnapshot appends a score snapshot to the user's history.
	AppendSnapshot(ctx context.Context, snap *score.Snapshot) error

	// AppendIntervention appends an intervention record.
	AppendIntervention(ctx context.Context, rec *intervention.Record) error

	// SetInterventionFeedback records the user's was_helpful answer,
	// the only permitted mutation of an intervention record.
	SetInterventionFeedback(ctx context.Context, id string, wasHelpful bool) error

	// LatestSnapshot returns the user's most recent snapshot, or
	// ErrNotFound.
	LatestSnapshot(ctx context.Context, userID string) (*score.Snapshot, error)

	// SnapshotsByUser returns the user's snapshots within [from,to),
	// in insertion order.
	SnapshotsByUser(ctx context.Context, userID string, from, to time.Time) ([]*score.Snapshot, error)

	// SnapshotsInRange returns all snapshots within [from,to), for
	// analytics scans.
	SnapshotsInRange(ctx context.Context, from, to time.Time) ([]*score.Snapshot, error)

	// EventsByUser returns the user's events within [from,to), in
	// insertion order.
	EventsByUser(ctx context.Context, userID string, from, to time.Time) ([]*event.InteractionEvent, error)

	// EventsInRange returns all events within [from,to), for analytics
	// scans.
	EventsInRange(ctx context.Context, from, to time.Time) ([]*event.InteractionEvent, error)

	// LatestInterventionBySession returns the session's most recent
	// intervention, or ErrNotFound.
	LatestInterventionBySession(ctx context.Context, sessionID string) (*intervention.Record, error)

	// InterventionsByUser returns the user's interventions in
	// insertion order.
	InterventionsByUser(ctx context.Context, userID string) ([]*intervention.Record, error)

	// Ping validates connectivity for readiness checks.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close()
}

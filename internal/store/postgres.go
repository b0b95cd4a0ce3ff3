package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/intervention"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// schemaSQL is embedded so the service can self-bootstrap its schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable History Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast when the
// database is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run repeatedly.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// AppendEvent implements Store. Idempotency is enforced by the primary
// key on event_id, compatible with at-least-once delivery.
func (p *PostgresStore) AppendEvent(ctx context.Context, ev *event.InteractionEvent) (bool, error) {
	payload := ev.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// RETURNING yields a row only on insert; conflicts scan no rows.
	var one int
	err = p.pool.QueryRow(ctx, `
		INSERT INTO events (event_id, user_id, session_id, role, event_type, occurred_at, seq, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING 1
	`, ev.EventID, ev.UserID, ev.SessionID, ev.Role, string(ev.Type), ev.OccurredAt.UTC(), int64(ev.Seq), payloadJSON).Scan(&one)

	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("failed to insert event: %w", err)
}

// AppendSnapshot implements Store.
func (p *PostgresStore) AppendSnapshot(ctx context.Context, snap *score.Snapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO score_snapshots
			(user_id, session_id, score, completion, time_spent, interaction, inactivity_penalty, computed_at, event_seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, snap.UserID, snap.SessionID, snap.Score,
		snap.Components.Completion, snap.Components.Time,
		snap.Components.Interaction, snap.Components.InactivityPenalty,
		snap.ComputedAt.UTC(), int64(snap.EventSeq))
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// AppendIntervention implements Store.
func (p *PostgresStore) AppendIntervention(ctx context.Context, rec *intervention.Record) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO interventions (id, user_id, session_id, step_context, triggered_at, message, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.UserID, rec.SessionID, rec.StepContext, rec.TriggeredAt.UTC(), rec.Message, rec.Fallback)
	if err != nil {
		return fmt.Errorf("failed to insert intervention: %w", err)
	}
	return nil
}

// SetInterventionFeedback implements Store.
func (p *PostgresStore) SetInterventionFeedback(ctx context.Context, id string, wasHelpful bool) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE interventions SET was_helpful = $2 WHERE id = $1
	`, id, wasHelpful)
	if err != nil {
		return fmt.Errorf("failed to update intervention feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestSnapshot implements Store.
func (p *PostgresStore) LatestSnapshot(ctx context.Context, userID string) (*score.Snapshot, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT user_id, session_id, score, completion, time_spent, interaction, inactivity_penalty, computed_at, event_seq
		FROM score_snapshots
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT 1
	`, userID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return snap, err
}

// SnapshotsByUser implements Store.
func (p *PostgresStore) SnapshotsByUser(ctx context.Context, userID string, from, to time.Time) ([]*score.Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, session_id, score, completion, time_spent, interaction, inactivity_penalty, computed_at, event_seq
		FROM score_snapshots
		WHERE user_id = $1 AND computed_at >= $2 AND computed_at < $3
		ORDER BY id
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// SnapshotsInRange implements Store.
func (p *PostgresStore) SnapshotsInRange(ctx context.Context, from, to time.Time) ([]*score.Snapshot, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT user_id, session_id, score, completion, time_spent, interaction, inactivity_penalty, computed_at, event_seq
		FROM score_snapshots
		WHERE computed_at >= $1 AND computed_at < $2
		ORDER BY id
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	return collectSnapshots(rows)
}

// EventsByUser implements Store.
func (p *PostgresStore) EventsByUser(ctx context.Context, userID string, from, to time.Time) ([]*event.InteractionEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT event_id, user_id, session_id, role, event_type, occurred_at, seq, payload
		FROM events
		WHERE user_id = $1 AND occurred_at >= $2 AND occurred_at < $3
		ORDER BY occurred_at, seq
	`, userID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsInRange implements Store.
func (p *PostgresStore) EventsInRange(ctx context.Context, from, to time.Time) ([]*event.InteractionEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT event_id, user_id, session_id, role, event_type, occurred_at, seq, payload
		FROM events
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at, seq
	`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestInterventionBySession implements Store.
func (p *PostgresStore) LatestInterventionBySession(ctx context.Context, sessionID string) (*intervention.Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, user_id, session_id, step_context, triggered_at, message, fallback, was_helpful
		FROM interventions
		WHERE session_id = $1
		ORDER BY triggered_at DESC
		LIMIT 1
	`, sessionID)
	rec, err := scanIntervention(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// InterventionsByUser implements Store.
func (p *PostgresStore) InterventionsByUser(ctx context.Context, userID string) ([]*intervention.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, session_id, step_context, triggered_at, message, fallback, was_helpful
		FROM interventions
		WHERE user_id = $1
		ORDER BY triggered_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var out []*intervention.Record
	for rows.Next() {
		rec, err := scanIntervention(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping implements Store.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close implements Store.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*score.Snapshot, error) {
	var snap score.Snapshot
	var seq int64
	err := row.Scan(
		&snap.UserID, &snap.SessionID, &snap.Score,
		&snap.Components.Completion, &snap.Components.Time,
		&snap.Components.Interaction, &snap.Components.InactivityPenalty,
		&snap.ComputedAt, &seq,
	)
	if err != nil {
		return nil, err
	}
	snap.EventSeq = uint64(seq)
	return &snap, nil
}

func collectSnapshots(rows pgx.Rows) ([]*score.Snapshot, error) {
	var out []*score.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]*event.InteractionEvent, error) {
	var out []*event.InteractionEvent
	for rows.Next() {
		var ev event.InteractionEvent
		var typ string
		var seq int64
		var payloadJSON []byte
		if err := rows.Scan(&ev.EventID, &ev.UserID, &ev.SessionID, &ev.Role, &typ, &ev.OccurredAt, &seq, &payloadJSON); err != nil {
			return nil, err
		}
		ev.Type = event.Type(typ)
		ev.Seq = uint64(seq)
		if len(payloadJSON) > 0 {
			if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", ev.EventID, err)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func scanIntervention(row rowScanner) (*intervention.Record, error) {
	var rec intervention.Record
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.StepContext,
		&rec.TriggeredAt, &rec.Message, &rec.Fallback, &rec.WasHelpful,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

package intervention

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// dedupKeyPrefix namespaces the per-user dedup keys in Redis.
	dedupKeyPrefix = "engagement:last_intervention:"

	// dedupDefaultTTL keeps dedup keys from accumulating forever. The
	// cooldown decision compares timestamps, so the TTL only needs to
	// outlive the cooldown window comfortably.
	dedupDefaultTTL = 24 * time.Hour
)

// DedupStore is the fast-lookup projection of each user's most recent
// intervention time. It is logically derived from the intervention
// history; the trigger reads and advances it inside the user's lane, so
// per-user access is already serialized.
type DedupStore interface {
	LastInterventionAt(ctx context.Context, userID string) (time.Time, error)
	SetLastInterventionAt(ctx context.Context, userID string, t time.Time) error
}

// RedisDedupStore implements DedupStore on Redis.
type RedisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupStore creates a Redis-backed dedup store. A zero ttl uses
// the default.
func NewRedisDedupStore(client *redis.Client, ttl time.Duration) *RedisDedupStore {
	if ttl <= 0 {
		ttl = dedupDefaultTTL
	}
	return &RedisDedupStore{client: client, ttl: ttl}
}

func dedupKey(userID string) string {
	return dedupKeyPrefix + userID
}

// LastInterventionAt returns the user's most recent intervention time,
// or the zero time when the user has none on record.
func (r *RedisDedupStore) LastInterventionAt(ctx context.Context, userID string) (time.Time, error) {
	data, err := r.client.Get(ctx, dedupKey(userID)).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last intervention for user %s: %w", userID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, data)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last intervention for user %s: %w", userID, err)
	}
	return t, nil
}

// SetLastInterventionAt advances the user's dedup clock.
func (r *RedisDedupStore) SetLastInterventionAt(ctx context.Context, userID string, t time.Time) error {
	val := t.UTC().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, dedupKey(userID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set last intervention for user %s: %w", userID, err)
	}
	return nil
}

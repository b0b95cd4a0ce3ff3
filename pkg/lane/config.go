package lane

import (
	"fmt"
	"time"
)

// Config holds the lane scheduling and durability parameters.
type Config struct {
	// Workers is the size of the pool draining runnable lanes.
	Workers int

	// QueueCapacity bounds each per-user lane queue. A full lane
	// rejects submissions with ErrLaneSaturated.
	QueueCapacity int

	// TickInterval is the period of the inactivity-decay tick for
	// active lanes. It must stay well under the 5s score-visibility
	// contract's slack; 10s ticks bound pure-inactivity staleness,
	// event-driven recomputation is immediate.
	TickInterval time.Duration

	// IdleLaneTimeout is how long a lane may sit without admissions
	// before decay ticks stop and the tick loop evicts it. A returning
	// user gets a fresh lane.
	IdleLaneTimeout time.Duration

	// IdempotencyWindow is how long a seen event ID keeps suppressing
	// replays in memory. Replays beyond it are caught by the history
	// store's uniqueness constraint.
	IdempotencyWindow time.Duration

	// WriteRetryInitialInterval and WriteRetryMax bound the exponential
	// backoff applied to history store writes inside a lane.
	WriteRetryInitialInterval time.Duration
	WriteRetryMax             uint64
}

// DefaultConfig returns the standard lane parameters.
func DefaultConfig() Config {
	return Config{
		Workers:                   4,
		QueueCapacity:             256,
		TickInterval:              10 * time.Second,
		IdleLaneTimeout:           30 * time.Minute,
		IdempotencyWindow:         10 * time.Minute,
		WriteRetryInitialInterval: 100 * time.Millisecond,
		WriteRetryMax:             3,
	}
}

// Validate checks the parameters for values that would break dispatch.
func (c Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %v", c.TickInterval)
	}
	if c.IdleLaneTimeout <= 0 {
		return fmt.Errorf("idle lane timeout must be positive, got %v", c.IdleLaneTimeout)
	}
	if c.IdempotencyWindow <= 0 {
		return fmt.Errorf("idempotency window must be positive, got %v", c.IdempotencyWindow)
	}
	return nil
}

package score

import (
	"fmt"
	"time"
)

// Config holds the scoring normalization parameters. The references the
// formula normalizes against (step time, interaction rate) are tunable;
// defaults match the documented behavior.
type Config struct {
	Weights Weights

	// ActivityWindow is the trailing window used for interaction
	// frequency and the inactivity fraction.
	ActivityWindow time.Duration

	// ReferencePerMinute is the interaction rate treated as 1.0
	// interaction frequency.
	ReferencePerMinute float64

	// DefaultEstimatedStepTime is used to normalize time spent when a
	// step_start event carries no estimate.
	DefaultEstimatedStepTime time.Duration
}

// DefaultConfig returns the standard scoring parameters.
func DefaultConfig() Config {
	return Config{
		Weights:                  DefaultWeights(),
		ActivityWindow:           60 * time.Second,
		ReferencePerMinute:       10,
		DefaultEstimatedStepTime: 60 * time.Second,
	}
}

// Validate checks the parameters for values that would break scoring.
func (c Config) Validate() error {
	if c.ActivityWindow <= 0 {
		return fmt.Errorf("activity window must be positive, got %v", c.ActivityWindow)
	}
	if c.ReferencePerMinute <= 0 {
		return fmt.Errorf("reference interaction rate must be positive, got %v", c.ReferencePerMinute)
	}
	if c.DefaultEstimatedStepTime <= 0 {
		return fmt.Errorf("default estimated step time must be positive, got %v", c.DefaultEstimatedStepTime)
	}
	return nil
}

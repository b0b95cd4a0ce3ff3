package intervention

import (
	"fmt"
	"time"
)

// Config holds the trigger parameters.
type Config struct {
	// ScoreThreshold is the score below which an intervention fires.
	ScoreThreshold float64

	// Cooldown is the rolling per-user window during which a second
	// intervention is suppressed.
	Cooldown time.Duration

	// HelpTimeout bounds the call to the Contextual Help Generator.
	HelpTimeout time.Duration

	// FallbackMessage is the role-agnostic message used when the help
	// generator fails or times out.
	FallbackMessage string
}

// DefaultConfig returns the standard trigger parameters.
func DefaultConfig() Config {
	return Config{
		ScoreThreshold:  30,
		Cooldown:        5 * time.Minute,
		HelpTimeout:     2 * time.Second,
		FallbackMessage: "Looks like you might be stuck. Review the current step instructions, or reach out to support for a hand.",
	}
}

// Validate checks the parameters for values that would break triggering.
func (c Config) Validate() error {
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 100 {
		return fmt.Errorf("score threshold must be within [0,100], got %v", c.ScoreThreshold)
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive, got %v", c.Cooldown)
	}
	if c.HelpTimeout <= 0 {
		return fmt.Errorf("help timeout must be positive, got %v", c.HelpTimeout)
	}
	if c.FallbackMessage == "" {
		return fmt.Errorf("fallback message must not be empty")
	}
	return nil
}

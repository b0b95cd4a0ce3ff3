package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/onboardly/engagement-engine/pkg/intervention"
	"github.com/onboardly/engagement-engine/pkg/lane"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// EngineConfig is the tunable engine parameter file. The scoring
// normalization references and the intervention rule are configuration,
// not hard-coded law; the defaults here are the documented behavior.
type EngineConfig struct {
	Scoring struct {
		CompletionWeight            float64 `yaml:"completion_weight"`
		TimeWeight                  float64 `yaml:"time_weight"`
		InteractionWeight           float64 `yaml:"interaction_weight"`
		InactivityWeight            float64 `yaml:"inactivity_weight"`
		ActivityWindowSeconds       int     `yaml:"activity_window_seconds"`
		ReferenceInteractionsPerMin float64 `yaml:"reference_interactions_per_minute"`
		DefaultEstimatedStepSeconds int     `yaml:"default_estimated_step_seconds"`
		ClockSkewToleranceSeconds   int     `yaml:"clock_skew_tolerance_seconds"`
	} `yaml:"scoring"`

	Lanes struct {
		Workers                  int `yaml:"workers"`
		QueueCapacity            int `yaml:"queue_capacity"`
		TickIntervalSeconds      int `yaml:"tick_interval_seconds"`
		IdleLaneTimeoutMinutes   int `yaml:"idle_lane_timeout_minutes"`
		IdempotencyWindowMinutes int `yaml:"idempotency_window_minutes"`
		WriteRetryInitialMillis  int `yaml:"write_retry_initial_ms"`
		WriteRetryMax            int `yaml:"write_retry_max"`
	} `yaml:"lanes"`

	Intervention struct {
		ScoreThreshold     float64 `yaml:"score_threshold"`
		CooldownMinutes    int     `yaml:"cooldown_minutes"`
		HelpTimeoutSeconds int     `yaml:"help_timeout_seconds"`
		FallbackMessage    string  `yaml:"fallback_message"`
	} `yaml:"intervention"`
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.Scoring.CompletionWeight = 40
	cfg.Scoring.TimeWeight = 30
	cfg.Scoring.InteractionWeight = 20
	cfg.Scoring.InactivityWeight = 10
	cfg.Scoring.ActivityWindowSeconds = 60
	cfg.Scoring.ReferenceInteractionsPerMin = 10
	cfg.Scoring.DefaultEstimatedStepSeconds = 60
	cfg.Scoring.ClockSkewToleranceSeconds = 2
	cfg.Lanes.Workers = 4
	cfg.Lanes.QueueCapacity = 256
	cfg.Lanes.TickIntervalSeconds = 10
	cfg.Lanes.IdleLaneTimeoutMinutes = 30
	cfg.Lanes.IdempotencyWindowMinutes = 10
	cfg.Lanes.WriteRetryInitialMillis = 100
	cfg.Lanes.WriteRetryMax = 3
	cfg.Intervention.ScoreThreshold = 30
	cfg.Intervention.CooldownMinutes = 5
	cfg.Intervention.HelpTimeoutSeconds = 2
	cfg.Intervention.FallbackMessage = intervention.DefaultConfig().FallbackMessage
	return cfg
}

// LoadEngineConfig loads the YAML engine parameters from path, applying
// ${VAR} / ${VAR:default} environment expansion. Missing keys keep their
// defaults; a missing file is an error so typos in ENGINE_CONFIG_PATH
// fail loudly.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}

	cfg := DefaultEngineConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return cfg, nil
}

// Validate delegates to each component's own validation.
func (c *EngineConfig) Validate() error {
	if err := c.ScoringConfig().Validate(); err != nil {
		return err
	}
	if err := c.LaneConfig().Validate(); err != nil {
		return err
	}
	return c.InterventionConfig().Validate()
}

// ScoringConfig builds the score package configuration.
func (c *EngineConfig) ScoringConfig() score.Config {
	return score.Config{
		Weights: score.Weights{
			Completion:  c.Scoring.CompletionWeight,
			Time:        c.Scoring.TimeWeight,
			Interaction: c.Scoring.InteractionWeight,
			Inactivity:  c.Scoring.InactivityWeight,
		},
		ActivityWindow:           time.Duration(c.Scoring.ActivityWindowSeconds) * time.Second,
		ReferencePerMinute:       c.Scoring.ReferenceInteractionsPerMin,
		DefaultEstimatedStepTime: time.Duration(c.Scoring.DefaultEstimatedStepSeconds) * time.Second,
	}
}

// ClockSkewTolerance returns the ingestion clock-skew bound.
func (c *EngineConfig) ClockSkewTolerance() time.Duration {
	return time.Duration(c.Scoring.ClockSkewToleranceSeconds) * time.Second
}

// LaneConfig builds the lane package configuration.
func (c *EngineConfig) LaneConfig() lane.Config {
	return lane.Config{
		Workers:                   c.Lanes.Workers,
		QueueCapacity:             c.Lanes.QueueCapacity,
		TickInterval:              time.Duration(c.Lanes.TickIntervalSeconds) * time.Second,
		IdleLaneTimeout:           time.Duration(c.Lanes.IdleLaneTimeoutMinutes) * time.Minute,
		IdempotencyWindow:         time.Duration(c.Lanes.IdempotencyWindowMinutes) * time.Minute,
		WriteRetryInitialInterval: time.Duration(c.Lanes.WriteRetryInitialMillis) * time.Millisecond,
		WriteRetryMax:             uint64(c.Lanes.WriteRetryMax),
	}
}

// InterventionConfig builds the intervention package configuration.
func (c *EngineConfig) InterventionConfig() intervention.Config {
	return intervention.Config{
		ScoreThreshold:  c.Intervention.ScoreThreshold,
		Cooldown:        time.Duration(c.Intervention.CooldownMinutes) * time.Minute,
		HelpTimeout:     time.Duration(c.Intervention.HelpTimeoutSeconds) * time.Second,
		FallbackMessage: c.Intervention.FallbackMessage,
	}
}

// expandEnvVars expands ${VAR} and ${VAR:default} references.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		value := os.Getenv(parts[0])
		if value == "" && len(parts) == 2 {
			return parts[1]
		}
		return value
	})
}

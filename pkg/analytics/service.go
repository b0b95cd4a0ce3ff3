package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// Reader is the read-only slice of the History Store the query service
// needs. It never writes.
type Reader interface {
	EventsInRange(ctx context.Context, from, to time.Time) ([]*event.InteractionEvent, error)
	SnapshotsInRange(ctx context.Context, from, to time.Time) ([]*score.Snapshot, error)
}

// Service computes dashboard aggregates over the History Store. All
// queries tolerate gaps: a window with no activity reports zeros, not
// errors.
type Service struct {
	reader Reader
}

// NewService creates the analytics query service.
func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// ActivationStats is the activation rate for one role within a window.
type ActivationStats struct {
	Role              string  `json:"role"`
	TotalSessions     int     `json:"total_sessions"`
	CompletedSessions int     `json:"completed_sessions"`
	ActivationRate    float64 `json:"activation_rate"`
}

// StepStats is the drop-off aggregate for one step number.
type StepStats struct {
	StepNumber         int     `json:"step_number"`
	StartedCount       int     `json:"started_count"`
	CompletedCount     int     `json:"completed_count"`
	CompletionRate     float64 `json:"completion_rate"`
	AvgTimeSpentSecond float64 `json:"average_time_spent_seconds"`
}

// TrendBucket is one time bucket of averaged snapshot scores.
type TrendBucket struct {
	Start    time.Time `json:"start"`
	AvgScore float64   `json:"avg_score"`
	Count    int       `json:"count"`
}

// TrendReport is the bucketed engagement trend with a direction
// classification.
type TrendReport struct {
	Buckets   []TrendBucket `json:"buckets"`
	Direction string        `json:"direction"`
}

// stableBand is the first-half/second-half average delta, in score
// points, inside which a trend is classified as stable.
const stableBand = 1.0

// sessionAgg accumulates one session's step lifecycle while scanning
// events.
type sessionAgg struct {
	role       string
	totalSteps int
	startedAt  map[int]time.Time
	doneAt     map[int]time.Time
}

func (s *Service) scanSessions(ctx context.Context, from, to time.Time) (map[string]*sessionAgg, error) {
	events, err := s.reader.EventsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	sessions := make(map[string]*sessionAgg)
	for _, ev := range events {
		agg, ok := sessions[ev.SessionID]
		if !ok {
			agg = &sessionAgg{
				startedAt: make(map[int]time.Time),
				doneAt:    make(map[int]time.Time),
			}
			sessions[ev.SessionID] = agg
		}
		if ev.Role != "" {
			agg.role = ev.Role
		}
		if ts := ev.TotalSteps(); ts > agg.totalSteps {
			agg.totalSteps = ts
		}
		step := ev.StepNumber()
		switch ev.Type {
		case event.TypeStepStart:
			if step > 0 {
				if _, seen := agg.startedAt[step]; !seen {
					agg.startedAt[step] = ev.OccurredAt
				}
			}
		case event.TypeStepComplete:
			if step > 0 {
				if _, seen := agg.doneAt[step]; !seen {
					agg.doneAt[step] = ev.OccurredAt
				}
				// A completion implies the step was started even if
				// the start event fell outside the window.
				if _, seen := agg.startedAt[step]; !seen {
					agg.startedAt[step] = ev.OccurredAt
				}
			}
		}
	}
	return sessions, nil
}

// ActivationRate returns completed_sessions / total_sessions grouped by
// role for sessions active within [from,to). A session counts as
// completed when every step of its onboarding flow has a completion.
func (s *Service) ActivationRate(ctx context.Context, from, to time.Time) ([]ActivationStats, error) {
	sessions, err := s.scanSessions(ctx, from, to)
	if err != nil {
		return nil, err
	}

	byRole := make(map[string]*ActivationStats)
	for _, agg := range sessions {
		stats, ok := byRole[agg.role]
		if !ok {
			stats = &ActivationStats{Role: agg.role}
			byRole[agg.role] = stats
		}
		stats.TotalSessions++
		if agg.totalSteps > 0 && len(agg.doneAt) >= agg.totalSteps {
			stats.CompletedSessions++
		}
	}

	out := make([]ActivationStats, 0, len(byRole))
	for _, stats := range byRole {
		if stats.TotalSessions > 0 {
			stats.ActivationRate = float64(stats.CompletedSessions) / float64(stats.TotalSessions)
		}
		out = append(out, *stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

// DropOff returns per-step start/completion aggregates across all
// sessions active within [from,to), ordered by step number.
// completed_count never exceeds started_count.
func (s *Service) DropOff(ctx context.Context, from, to time.Time) ([]StepStats, error) {
	sessions, err := s.scanSessions(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type stepAcc struct {
		started   int
		completed int
		totalTime time.Duration
		timed     int
	}
	steps := make(map[int]*stepAcc)
	for _, agg := range sessions {
		for step, startedAt := range agg.startedAt {
			acc, ok := steps[step]
			if !ok {
				acc = &stepAcc{}
				steps[step] = acc
			}
			acc.started++
			doneAt, done := agg.doneAt[step]
			if !done {
				continue
			}
			acc.completed++
			if spent := doneAt.Sub(startedAt); spent > 0 {
				acc.totalTime += spent
				acc.timed++
			}
		}
	}

	out := make([]StepStats, 0, len(steps))
	for step, acc := range steps {
		stats := StepStats{
			StepNumber:     step,
			StartedCount:   acc.started,
			CompletedCount: acc.completed,
		}
		if acc.started > 0 {
			stats.CompletionRate = float64(acc.completed) / float64(acc.started)
		}
		if acc.timed > 0 {
			stats.AvgTimeSpentSecond = acc.totalTime.Seconds() / float64(acc.timed)
		}
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepNumber < out[j].StepNumber })
	return out, nil
}

// Trend returns time-bucketed average scores over [from,to) and a
// direction classification comparing the second half of non-empty
// buckets against the first.
func (s *Service) Trend(ctx context.Context, from, to time.Time, bucket time.Duration) (*TrendReport, error) {
	if bucket <= 0 {
		return nil, fmt.Errorf("bucket size must be positive, got %v", bucket)
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}

	snapshots, err := s.reader.SnapshotsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots: %w", err)
	}

	n := int(to.Sub(from)/bucket) + 1
	sums := make([]float64, n)
	counts := make([]int, n)
	for _, snap := range snapshots {
		idx := int(snap.ComputedAt.Sub(from) / bucket)
		if idx < 0 || idx >= n {
			continue
		}
		sums[idx] += snap.Score
		counts[idx]++
	}

	report := &TrendReport{}
	for i := 0; i < n; i++ {
		start := from.Add(time.Duration(i) * bucket)
		if !start.Before(to) {
			break
		}
		b := TrendBucket{Start: start, Count: counts[i]}
		if counts[i] > 0 {
			b.AvgScore = sums[i] / float64(counts[i])
		}
		report.Buckets = append(report.Buckets, b)
	}

	report.Direction = classify(report.Buckets)
	return report, nil
}

// classify compares first-half and second-half averages over non-empty
// buckets only, so quiet periods do not drag the trend down.
func classify(buckets []TrendBucket) string {
	var nonEmpty []TrendBucket
	for _, b := range buckets {
		if b.Count > 0 {
			nonEmpty = append(nonEmpty, b)
		}
	}
	if len(nonEmpty) < 2 {
		return "stable"
	}

	half := len(nonEmpty) / 2
	first := nonEmpty[:half]
	second := nonEmpty[half:]

	avg := func(bs []TrendBucket) float64 {
		var sum float64
		for _, b := range bs {
			sum += b.AvgScore
		}
		return sum / float64(len(bs))
	}

	delta := avg(second) - avg(first)
	switch {
	case delta > stableBand:
		return "up"
	case delta < -stableBand:
		return "down"
	default:
		return "stable"
	}
}

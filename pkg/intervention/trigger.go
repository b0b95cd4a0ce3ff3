package intervention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/metrics"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// RecordStore persists intervention records. The history store satisfies
// this.
type RecordStore interface {
	AppendIntervention(ctx context.Context, rec *Record) error
}

// Trigger observes score snapshots and creates deduplicated
// interventions. ObserveSnapshot is called from the user's lane worker,
// so the check-and-set on the dedup clock is serialized per user; the
// help generator call is dispatched to its own goroutine so it never
// blocks the lane.
type Trigger struct {
	cfg       Config
	dedup     DedupStore
	generator HelpGenerator
	records   RecordStore
	metrics   *metrics.Metrics
	now       func() time.Time

	wg sync.WaitGroup
}

// NewTrigger creates a trigger. A nil now clock falls back to time.Now.
func NewTrigger(
	cfg Config,
	dedup DedupStore,
	generator HelpGenerator,
	records RecordStore,
	m *metrics.Metrics,
	now func() time.Time,
) *Trigger {
	if now == nil {
		now = time.Now
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Trigger{
		cfg:       cfg,
		dedup:     dedup,
		generator: generator,
		records:   records,
		metrics:   m,
		now:       now,
	}
}

// ObserveSnapshot applies the threshold and cooldown rule to a new
// snapshot and, when both pass, reserves the dedup window and dispatches
// the intervention asynchronously.
func (t *Trigger) ObserveSnapshot(ctx context.Context, snap *score.Snapshot, sctx score.SessionContext) {
	if snap == nil || snap.Score >= t.cfg.ScoreThreshold {
		return
	}

	now := t.now()

	last, err := t.dedup.LastInterventionAt(ctx, snap.UserID)
	if err != nil {
		// Fail closed: without the dedup clock a burst of low
		// snapshots would spam the user.
		logrus.Errorf("dedup lookup failed for user %s, suppressing intervention: %v", snap.UserID, err)
		return
	}
	if !last.IsZero() && now.Sub(last) < t.cfg.Cooldown {
		t.metrics.InterventionsSuppressed.Inc()
		logrus.Debugf("intervention for user %s suppressed, %v since last", snap.UserID, now.Sub(last))
		return
	}

	// Reserve the cooldown window before any slow work. A failed help
	// fetch must not reopen the window, and the reservation happens in
	// lane context so no concurrent snapshot for this user can race it.
	if err := t.dedup.SetLastInterventionAt(ctx, snap.UserID, now); err != nil {
		logrus.Errorf("failed to advance dedup clock for user %s, suppressing intervention: %v", snap.UserID, err)
		return
	}

	rec := &Record{
		ID:          uuid.New().String(),
		UserID:      snap.UserID,
		SessionID:   sctx.SessionID,
		StepContext: stepContext(sctx),
		TriggeredAt: now,
	}
	req := HelpRequest{
		UserID:      snap.UserID,
		SessionID:   sctx.SessionID,
		Role:        sctx.Role,
		CurrentStep: sctx.CurrentStep,
		TotalSteps:  sctx.TotalSteps,
		Score:       snap.Score,
	}

	t.wg.Add(1)
	go t.dispatch(rec, req)
}

// dispatch fetches help content and persists the record. Runs off the
// lane; the dedup clock has already advanced.
func (t *Trigger) dispatch(rec *Record, req HelpRequest) {
	defer t.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.HelpTimeout)
	message, err := t.generator.Generate(ctx, req)
	cancel()
	if err != nil {
		logrus.Warnf("help generator failed for user %s, using fallback message: %v", rec.UserID, err)
		t.metrics.HelpFallbacks.Inc()
		message = t.cfg.FallbackMessage
		rec.Fallback = true
	}
	rec.Message = message

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	err = backoff.Retry(func() error {
		return t.records.AppendIntervention(persistCtx, rec)
	}, backoff.WithContext(backoff.WithMaxRetries(b, 3), persistCtx))
	if err != nil {
		// The dedup clock stays advanced: a lost record degrades the
		// history, re-spamming the user would be worse.
		logrus.Errorf("failed to persist intervention %s for user %s: %v", rec.ID, rec.UserID, err)
		t.metrics.DeadLetteredItems.Inc()
		return
	}

	t.metrics.InterventionsTriggered.Inc()
	logrus.Infof("intervention %s created for user %s (session %s, fallback=%v)",
		rec.ID, rec.UserID, rec.SessionID, rec.Fallback)
}

// Wait blocks until all in-flight intervention dispatches complete.
// Called on shutdown and by tests.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

func stepContext(sctx score.SessionContext) string {
	if sctx.CurrentStep <= 0 {
		return ""
	}
	if sctx.TotalSteps > 0 {
		return fmt.Sprintf("step %d/%d", sctx.CurrentStep, sctx.TotalSteps)
	}
	return fmt.Sprintf("step %d", sctx.CurrentStep)
}

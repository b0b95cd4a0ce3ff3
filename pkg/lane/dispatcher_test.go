package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// memEventSink records appended events and can simulate store-level
// duplicate rejection or write failures.
type memEventSink struct {
	mu       sync.Mutex
	events   []*event.InteractionEvent
	rejected map[string]bool
	failN    int
	blocked  chan struct{}
	blockFor string
}

func (s *memEventSink) AppendEvent(ctx context.Context, ev *event.InteractionEvent) (bool, error) {
	if s.blocked != nil && ev.UserID == s.blockFor {
		<-s.blocked
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return false, errors.New("store unavailable")
	}
	if s.rejected[ev.EventID] {
		return false, nil
	}
	s.events = append(s.events, ev)
	return true, nil
}

func (s *memEventSink) all() []*event.InteractionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*event.InteractionEvent, len(s.events))
	copy(out, s.events)
	return out
}

type memSnapSink struct {
	mu    sync.Mutex
	snaps []*score.Snapshot
}

func (s *memSnapSink) AppendSnapshot(ctx context.Context, snap *score.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	return nil
}

func (s *memSnapSink) all() []*score.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*score.Snapshot, len(s.snaps))
	copy(out, s.snaps)
	return out
}

// chanObserver forwards snapshots so tests can wait for processing.
type chanObserver struct {
	ch chan *score.Snapshot
}

func (o *chanObserver) ObserveSnapshot(ctx context.Context, snap *score.Snapshot, sctx score.SessionContext) {
	o.ch <- snap
}

func (o *chanObserver) waitFor(t *testing.T, n int) []*score.Snapshot {
	t.Helper()
	var got []*score.Snapshot
	for len(got) < n {
		select {
		case snap := <-o.ch:
			got = append(got, snap)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for snapshot %d of %d", len(got)+1, n)
		}
	}
	return got
}

type laneClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *laneClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *laneClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLaneConfig() Config {
	return Config{
		Workers:                   2,
		QueueCapacity:             64,
		TickInterval:              time.Hour,
		IdleLaneTimeout:           time.Hour,
		IdempotencyWindow:         10 * time.Minute,
		WriteRetryInitialInterval: time.Millisecond,
		WriteRetryMax:             2,
	}
}

func testScoringConfig() score.Config {
	return score.Config{
		Weights:                  score.DefaultWeights(),
		ActivityWindow:           time.Minute,
		ReferencePerMinute:       10,
		DefaultEstimatedStepTime: time.Minute,
	}
}

func laneEvent(userID, eventID string, typ event.Type, at time.Time) *event.InteractionEvent {
	return &event.InteractionEvent{
		EventID:    eventID,
		UserID:     userID,
		SessionID:  "sess-" + userID,
		Type:       typ,
		OccurredAt: at,
	}
}

func TestDispatcherPerUserOrdering(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &memEventSink{}
	snaps := &memSnapSink{}
	proj := score.NewProjection()

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, snaps, proj, nil, nil, clock.Now)
	d.Start(context.Background())

	const n = 20
	for i := 0; i < n; i++ {
		ev := laneEvent("user-1", fmt.Sprintf("evt-%d", i), event.TypeClick, clock.Now())
		if _, err := d.Submit(ev); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	got := events.all()
	if len(got) != n {
		t.Fatalf("persisted %d events, expected %d", len(got), n)
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d persisted with seq %d, expected %d (order violated)", i, ev.Seq, i+1)
		}
	}

	// The projection carries the final sequence.
	snap, ok := proj.Latest("user-1")
	if !ok {
		t.Fatal("projection missing user-1")
	}
	if snap.EventSeq != n {
		t.Errorf("projection EventSeq = %d, expected %d", snap.EventSeq, n)
	}
}

func TestDispatcherDuplicateEventID(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &memEventSink{}
	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, &memSnapSink{}, score.NewProjection(), nil, nil, clock.Now)
	d.Start(context.Background())

	ev1 := laneEvent("user-1", "evt-1", event.TypeClick, clock.Now())
	if _, err := d.Submit(ev1); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	ev2 := laneEvent("user-1", "evt-1", event.TypeScroll, clock.Now())
	if _, err := d.Submit(ev2); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("Submit(duplicate) error = %v, expected ErrDuplicateEvent", err)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := events.all(); len(got) != 1 {
		t.Errorf("persisted %d events, expected 1", len(got))
	}
}

func TestDispatcherStoreLevelDuplicate(t *testing.T) {
	// A replay past the in-memory window reaches the store, which rejects
	// it; no snapshot may be produced for it.
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &memEventSink{rejected: map[string]bool{"evt-old": true}}
	snaps := &memSnapSink{}
	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, snaps, score.NewProjection(), nil, nil, clock.Now)
	d.Start(context.Background())

	if _, err := d.Submit(laneEvent("user-1", "evt-old", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := snaps.all(); len(got) != 0 {
		t.Errorf("persisted %d snapshots for a store-rejected replay, expected 0", len(got))
	}
}

func TestDispatcherBackpressure(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	cfg := testLaneConfig()
	cfg.QueueCapacity = 3

	// No Start: nothing drains, so the queue fills deterministically.
	d := NewDispatcher(cfg, testScoringConfig(), &memEventSink{}, &memSnapSink{}, score.NewProjection(), nil, nil, clock.Now)

	for i := 0; i < cfg.QueueCapacity; i++ {
		ev := laneEvent("user-1", fmt.Sprintf("evt-%d", i), event.TypeClick, clock.Now())
		if _, err := d.Submit(ev); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	_, err := d.Submit(laneEvent("user-1", "evt-overflow", event.TypeClick, clock.Now()))
	if !errors.Is(err, ErrLaneSaturated) {
		t.Fatalf("Submit(overflow) error = %v, expected ErrLaneSaturated", err)
	}

	// Saturation is per user: another user's lane still admits.
	if _, err := d.Submit(laneEvent("user-2", "evt-a", event.TypeClick, clock.Now())); err != nil {
		t.Errorf("Submit(other user) error = %v, expected admission", err)
	}
}

func TestDispatcherCrossUserConcurrency(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	release := make(chan struct{})
	events := &memEventSink{blocked: release, blockFor: "slow-user"}
	obs := &chanObserver{ch: make(chan *score.Snapshot, 16)}

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, &memSnapSink{}, score.NewProjection(), obs, nil, clock.Now)
	d.Start(context.Background())

	// slow-user's write blocks its lane; fast-user must still progress.
	if _, err := d.Submit(laneEvent("slow-user", "evt-s", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit(slow) error = %v", err)
	}
	if _, err := d.Submit(laneEvent("fast-user", "evt-f", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit(fast) error = %v", err)
	}

	select {
	case snap := <-obs.ch:
		if snap.UserID != "fast-user" {
			t.Errorf("first snapshot from %q, expected fast-user", snap.UserID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fast-user's lane stalled behind slow-user's blocked write")
	}

	close(release)
	obs.waitFor(t, 1)
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDispatcherDecayTick(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	obs := &chanObserver{ch: make(chan *score.Snapshot, 16)}
	snaps := &memSnapSink{}

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), &memEventSink{}, snaps, score.NewProjection(), obs, nil, clock.Now)
	d.Start(context.Background())

	// An actively clicking user with no open step: the whole score comes
	// from the interaction component, which the tick will decay.
	const clicks = 10
	for i := 0; i < clicks; i++ {
		ev := laneEvent("user-1", fmt.Sprintf("evt-%d", i), event.TypeClick, clock.Now())
		if _, err := d.Submit(ev); err != nil {
			t.Fatalf("Submit(click %d) error = %v", i, err)
		}
	}
	eventSnaps := obs.waitFor(t, clicks)
	active := eventSnaps[clicks-1]
	if active.Score <= 0 {
		t.Fatalf("active score = %v, expected positive", active.Score)
	}

	// Two minutes of silence, then a decay tick recomputes the score.
	clock.Advance(2 * time.Minute)
	d.TickNow()
	tickSnap := obs.waitFor(t, 1)[0]

	if tickSnap.EventSeq != active.EventSeq {
		t.Errorf("tick snapshot EventSeq = %d, expected unchanged %d", tickSnap.EventSeq, active.EventSeq)
	}
	if !tickSnap.ComputedAt.After(active.ComputedAt) {
		t.Errorf("tick ComputedAt = %v, expected after %v", tickSnap.ComputedAt, active.ComputedAt)
	}
	if tickSnap.Score >= active.Score {
		t.Errorf("tick score = %v, expected decay below %v", tickSnap.Score, active.Score)
	}
	if tickSnap.Components.InactivityPenalty != 1 {
		t.Errorf("InactivityPenalty = %v, expected 1 after a silent window", tickSnap.Components.InactivityPenalty)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDispatcherTickSkipsSessionlessLanes(t *testing.T) {
	// A tick must not fabricate snapshots for a lane that never saw an
	// event (created implicitly) or whose accumulator has no session.
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	obs := &chanObserver{ch: make(chan *score.Snapshot, 16)}

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), &memEventSink{}, &memSnapSink{}, score.NewProjection(), obs, nil, clock.Now)
	d.Start(context.Background())
	d.TickNow()

	select {
	case snap := <-obs.ch:
		t.Fatalf("tick produced snapshot %+v for empty dispatcher", snap)
	case <-time.After(100 * time.Millisecond):
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDispatcherEventWriteFailureStillScores(t *testing.T) {
	// Durability loss must not block scoring: the event dead-letters but
	// the snapshot is still produced and published.
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &memEventSink{failN: 10}
	snaps := &memSnapSink{}
	proj := score.NewProjection()

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, snaps, proj, nil, nil, clock.Now)
	d.Start(context.Background())

	if _, err := d.Submit(laneEvent("user-1", "evt-1", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if _, ok := proj.Latest("user-1"); !ok {
		t.Error("projection missing snapshot after event write failure")
	}
	if got := snaps.all(); len(got) != 1 {
		t.Errorf("persisted %d snapshots, expected 1", len(got))
	}
}

func TestDispatcherRejectsAfterShutdown(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(testLaneConfig(), testScoringConfig(), &memEventSink{}, &memSnapSink{}, score.NewProjection(), nil, nil, clock.Now)
	d.Start(context.Background())

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	_, err := d.Submit(laneEvent("user-1", "evt-1", event.TypeClick, clock.Now()))
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("Submit() after shutdown error = %v, expected ErrShuttingDown", err)
	}
}

func TestDispatcherShutdownDrainsQueuedWork(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := &memEventSink{}

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), events, &memSnapSink{}, score.NewProjection(), nil, nil, clock.Now)
	d.Start(context.Background())

	const n = 50
	for u := 0; u < 5; u++ {
		for i := 0; i < n/5; i++ {
			ev := laneEvent(fmt.Sprintf("user-%d", u), fmt.Sprintf("evt-%d-%d", u, i), event.TypeClick, clock.Now())
			if _, err := d.Submit(ev); err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
		}
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := events.all(); len(got) != n {
		t.Errorf("persisted %d events, expected all %d before shutdown returned", len(got), n)
	}
}

func TestDispatcherEvictsIdleLanes(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	obs := &chanObserver{ch: make(chan *score.Snapshot, 16)}

	d := NewDispatcher(testLaneConfig(), testScoringConfig(), &memEventSink{}, &memSnapSink{}, score.NewProjection(), obs, nil, clock.Now)
	d.Start(context.Background())

	waitDrained := func() {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for !d.drained() {
			if time.Now().After(deadline) {
				t.Fatal("lane never drained")
			}
			time.Sleep(time.Millisecond)
		}
	}

	if _, err := d.Submit(laneEvent("user-1", "evt-1", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	obs.waitFor(t, 1)
	waitDrained()

	// Inside the idle timeout the lane stays and still receives ticks.
	clock.Advance(30 * time.Minute)
	d.TickNow()
	obs.waitFor(t, 1)
	waitDrained()
	if got := d.Stats()["lanes"]; got != 1 {
		t.Fatalf("Stats() lanes = %d, expected 1 before the timeout", got)
	}

	// Past the timeout the tick loop evicts the drained lane instead of
	// keeping its accumulator alive forever.
	clock.Advance(31 * time.Minute)
	d.TickNow()
	if got := d.Stats()["lanes"]; got != 0 {
		t.Fatalf("Stats() lanes = %d, expected 0 after idle eviction", got)
	}

	// A returning user starts over with a fresh lane and sequence.
	seq, err := d.Submit(laneEvent("user-1", "evt-2", event.TypeClick, clock.Now()))
	if err != nil {
		t.Fatalf("Submit() after eviction error = %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, expected a fresh lane to restart at 1", seq)
	}
	obs.waitFor(t, 1)

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDispatcherStats(t *testing.T) {
	clock := &laneClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	d := NewDispatcher(testLaneConfig(), testScoringConfig(), &memEventSink{}, &memSnapSink{}, score.NewProjection(), nil, nil, clock.Now)
	d.Start(context.Background())

	if _, err := d.Submit(laneEvent("user-1", "evt-1", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := d.Submit(laneEvent("user-2", "evt-2", event.TypeClick, clock.Now())); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	stats := d.Stats()
	if stats["lanes"] != 2 {
		t.Errorf("Stats() lanes = %d, expected 2", stats["lanes"])
	}
}

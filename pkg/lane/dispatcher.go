package lane

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/metrics"
	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/score"
)

var (
	// ErrLaneSaturated is returned when a user's lane queue is full.
	// Retryable: the caller should back off and resubmit.
	ErrLaneSaturated = errors.New("lane queue is saturated, retry later")

	// ErrDuplicateEvent is returned when an event ID was already
	// admitted inside the idempotency window. Not an error condition
	// for clients; the gateway acknowledges duplicates as accepted.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrShuttingDown is returned once the dispatcher stops accepting.
	ErrShuttingDown = errors.New("dispatcher is shutting down")
)

// EventSink persists admitted events. AppendEvent reports inserted=false
// for replays already in the store.
type EventSink interface {
	AppendEvent(ctx context.Context, ev *event.InteractionEvent) (bool, error)
}

// SnapshotSink persists score snapshots.
type SnapshotSink interface {
	AppendSnapshot(ctx context.Context, snap *score.Snapshot) error
}

// SnapshotObserver is notified of every new snapshot, in that user's
// lane order. The intervention trigger implements this.
type SnapshotObserver interface {
	ObserveSnapshot(ctx context.Context, snap *score.Snapshot, sctx score.SessionContext)
}

// Dispatcher routes admitted events to per-user lanes and drains them
// with a fixed worker pool. Events for one user are processed strictly
// in admission order; lanes for different users proceed concurrently.
type Dispatcher struct {
	cfg     Config
	scoring score.Config
	now     func() time.Time

	events     EventSink
	snapshots  SnapshotSink
	projection *score.Projection
	observer   SnapshotObserver
	metrics    *metrics.Metrics

	mu        sync.Mutex
	lanes     map[string]*lane
	accepting bool

	runq    chan *lane
	stopCh  chan struct{}
	workers sync.WaitGroup
	tickWG  sync.WaitGroup
}

// NewDispatcher wires a dispatcher. The observer may be nil. A nil clock
// falls back to time.Now.
func NewDispatcher(
	cfg Config,
	scoring score.Config,
	events EventSink,
	snapshots SnapshotSink,
	projection *score.Projection,
	observer SnapshotObserver,
	m *metrics.Metrics,
	now func() time.Time,
) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Dispatcher{
		cfg:        cfg,
		scoring:    scoring,
		now:        now,
		events:     events,
		snapshots:  snapshots,
		projection: projection,
		observer:   observer,
		metrics:    m,
		lanes:      make(map[string]*lane),
		accepting:  true,
		runq:       make(chan *lane, 1024),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker pool and the decay ticker.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.workers.Add(1)
		go d.worker(ctx)
	}

	d.tickWG.Add(1)
	go func() {
		defer d.tickWG.Done()
		ticker := time.NewTicker(d.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stopCh:
				return
			case <-ticker.C:
				d.TickNow()
			}
		}
	}()

	logrus.Infof("lane dispatcher started: %d workers, lane capacity %d, tick every %v",
		d.cfg.Workers, d.cfg.QueueCapacity, d.cfg.TickInterval)
}

// Submit admits an event into its user's lane and returns the assigned
// per-user sequence number. Admission is non-blocking: a saturated lane
// returns ErrLaneSaturated, a replayed event ID ErrDuplicateEvent.
func (d *Dispatcher) Submit(ev *event.InteractionEvent) (uint64, error) {
	if ev == nil || ev.UserID == "" || ev.EventID == "" {
		return 0, fmt.Errorf("event must carry user_id and event_id")
	}

	now := d.now()

	var l *lane
	for {
		d.mu.Lock()
		if !d.accepting {
			d.mu.Unlock()
			return 0, ErrShuttingDown
		}
		var ok bool
		l, ok = d.lanes[ev.UserID]
		if !ok {
			l = newLane(ev.UserID, d.scoring, now)
			d.lanes[ev.UserID] = l
		}
		d.mu.Unlock()

		l.mu.Lock()
		if !l.evicted {
			break
		}
		// Lost a race with idle eviction; this lane is no longer in the
		// map, so fetch a fresh one.
		l.mu.Unlock()
	}
	l.pruneSeen(now, d.cfg.IdempotencyWindow)
	if _, dup := l.seen[ev.EventID]; dup {
		l.mu.Unlock()
		d.metrics.DuplicateEvents.Inc()
		logrus.Debugf("dropped duplicate event %s for user %s", ev.EventID, ev.UserID)
		return 0, ErrDuplicateEvent
	}
	if len(l.queue) >= d.cfg.QueueCapacity {
		l.mu.Unlock()
		d.metrics.BackpressureRejections.Inc()
		logrus.Warnf("lane for user %s saturated at %d items", ev.UserID, d.cfg.QueueCapacity)
		return 0, ErrLaneSaturated
	}

	l.seq++
	ev.Seq = l.seq
	l.seen[ev.EventID] = now
	l.lastActivity = now
	l.queue = append(l.queue, item{ev: ev})
	schedule := !l.scheduled
	if schedule {
		l.scheduled = true
	}
	l.mu.Unlock()

	if schedule {
		d.runq <- l
	}
	d.metrics.EventsAccepted.Inc()
	return ev.Seq, nil
}

// TickNow enqueues an inactivity-decay tick into every active lane so a
// user who stops interacting still decays toward the intervention
// threshold. Ticks share the lane queue with events and are therefore
// serialized against them. Saturated lanes skip the tick; the next event
// or tick recomputes anyway.
//
// Lanes drained and idle past IdleLaneTimeout are evicted here. A later
// event for that user starts a fresh lane, accumulator and sequence.
func (d *Dispatcher) TickNow() {
	now := d.now()

	d.mu.Lock()
	active := make([]*lane, 0, len(d.lanes))
	for id, l := range d.lanes {
		l.mu.Lock()
		if len(l.queue) == 0 && !l.scheduled && now.Sub(l.lastActivity) > d.cfg.IdleLaneTimeout {
			l.evicted = true
			delete(d.lanes, id)
			l.mu.Unlock()
			logrus.Debugf("evicted idle lane for user %s", id)
			continue
		}
		l.mu.Unlock()
		active = append(active, l)
	}
	d.mu.Unlock()

	for _, l := range active {
		l.mu.Lock()
		if now.Sub(l.lastActivity) > d.cfg.IdleLaneTimeout || l.seq == 0 {
			l.mu.Unlock()
			continue
		}
		if len(l.queue) >= d.cfg.QueueCapacity {
			l.mu.Unlock()
			continue
		}
		l.queue = append(l.queue, item{tickAt: now})
		schedule := !l.scheduled
		if schedule {
			l.scheduled = true
		}
		l.mu.Unlock()
		if schedule {
			d.runq <- l
		}
	}
}

// worker drains runnable lanes. A lane is held by at most one worker at
// a time, which is what serializes processing within a user.
func (d *Dispatcher) worker(ctx context.Context) {
	defer d.workers.Done()
	for l := range d.runq {
		for {
			it, ok := l.pop()
			if !ok {
				break
			}
			d.process(ctx, l, it)
		}
	}
}

// process handles one lane item: fold the event into the accumulator (or
// apply a decay tick), persist a new snapshot, publish the projection and
// notify the observer.
func (d *Dispatcher) process(ctx context.Context, l *lane, it item) {
	l.setState(StateProcessing)
	defer l.setState(StateIdle)

	now := d.now()

	if it.ev != nil {
		inserted, err := d.appendEventWithRetry(ctx, l, it.ev)
		if err != nil {
			// Lost durability for this event; scoring still proceeds
			// so availability is preserved.
			d.metrics.DeadLetteredItems.Inc()
			logrus.Errorf("dead letter: event %s (user %s seq %d) not persisted: %v",
				it.ev.EventID, it.ev.UserID, it.ev.Seq, err)
		} else if !inserted {
			// Replay beyond the in-memory idempotency window; the
			// store's uniqueness constraint caught it.
			d.metrics.DuplicateEvents.Inc()
			logrus.Debugf("store rejected replayed event %s for user %s", it.ev.EventID, it.ev.UserID)
			return
		}
		l.acc.Observe(it.ev)
	} else {
		// Decay tick before the lane ever saw a session: nothing to score.
		if l.acc.SessionContext().SessionID == "" {
			return
		}
		if !it.tickAt.IsZero() && it.tickAt.After(now) {
			now = it.tickAt
		}
	}

	snap := l.acc.Snapshot(now)

	if err := d.appendSnapshotWithRetry(ctx, l, snap); err != nil {
		l.setState(StateFailed)
		d.metrics.DeadLetteredItems.Inc()
		logrus.Errorf("dead letter: snapshot for user %s (seq %d, score %.1f) not persisted: %v",
			snap.UserID, snap.EventSeq, snap.Score, err)
	}

	// The live read path stays consistent even when the durable write
	// was lost; accuracy degrades, availability does not.
	d.projection.Publish(snap)

	if d.observer != nil {
		d.observer.ObserveSnapshot(ctx, snap, l.acc.SessionContext())
	}
}

func (d *Dispatcher) appendEventWithRetry(ctx context.Context, l *lane, ev *event.InteractionEvent) (bool, error) {
	var inserted bool
	err := d.retryWrite(ctx, l, func() error {
		var err error
		inserted, err = d.events.AppendEvent(ctx, ev)
		return err
	})
	return inserted, err
}

func (d *Dispatcher) appendSnapshotWithRetry(ctx context.Context, l *lane, snap *score.Snapshot) error {
	err := d.retryWrite(ctx, l, func() error {
		if err := d.snapshots.AppendSnapshot(ctx, snap); err != nil {
			d.metrics.SnapshotWriteFailures.Inc()
			return err
		}
		return nil
	})
	if err == nil {
		d.metrics.SnapshotWrites.Inc()
	}
	return err
}

// retryWrite applies bounded exponential backoff to a store write. The
// lane reports StateRetrying while attempts continue; exhaustion is the
// caller's problem so the lane never stalls indefinitely.
func (d *Dispatcher) retryWrite(ctx context.Context, l *lane, op func() error) error {
	attempt := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.WriteRetryInitialInterval
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			l.setState(StateRetrying)
		}
		return op()
	}, backoff.WithContext(backoff.WithMaxRetries(b, d.cfg.WriteRetryMax), ctx))
}

// Stats reports lane counts by state, for observability.
func (d *Dispatcher) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := map[string]int{"lanes": len(d.lanes)}
	for _, l := range d.lanes {
		stats[l.getState().String()]++
	}
	return stats
}

// Shutdown stops admissions, drains all lanes and stops the workers.
// Returns ctx.Err when the deadline expires before the drain completes.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return nil
	}
	d.accepting = false
	d.mu.Unlock()

	close(d.stopCh)
	d.tickWG.Wait()

	// Wait for every lane to drain before closing the run queue; only
	// Submit and the ticker send on it, and both are stopped now.
	for {
		if d.drained() {
			break
		}
		select {
		case <-ctx.Done():
			close(d.runq)
			d.workers.Wait()
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(d.runq)
	d.workers.Wait()
	logrus.Info("lane dispatcher drained and stopped")
	return nil
}

func (d *Dispatcher) drained() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, l := range d.lanes {
		if !l.drained() {
			return false
		}
	}
	return true
}

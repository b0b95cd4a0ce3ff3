package score

import (
	"sync"
)

// Projection is the current-score read model: one immutable latest
// snapshot per user. Writes come only from that user's lane worker;
// reads may come from any goroutine (score API, intervention path).
// Published snapshots must never be mutated.
type Projection struct {
	latest sync.Map // userID -> *Snapshot
}

// NewProjection returns an empty projection.
func NewProjection() *Projection {
	return &Projection{}
}

// Publish makes snap the current snapshot for its user. Stale publishes
// (lower event sequence than the current one) are dropped so a delayed
// write can never roll the projection backwards.
func (p *Projection) Publish(snap *Snapshot) {
	if snap == nil {
		return
	}
	for {
		cur, ok := p.latest.Load(snap.UserID)
		if !ok {
			if _, loaded := p.latest.LoadOrStore(snap.UserID, snap); !loaded {
				return
			}
			continue
		}
		existing := cur.(*Snapshot)
		if snap.EventSeq < existing.EventSeq ||
			(snap.EventSeq == existing.EventSeq && snap.ComputedAt.Before(existing.ComputedAt)) {
			return
		}
		if p.latest.CompareAndSwap(snap.UserID, cur, snap) {
			return
		}
	}
}

// Latest returns the current snapshot for a user, or false when the user
// has no published score.
func (p *Projection) Latest(userID string) (*Snapshot, bool) {
	v, ok := p.latest.Load(userID)
	if !ok {
		return nil, false
	}
	return v.(*Snapshot), true
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the engine's Prometheus collectors. A single instance
// is shared by the gateway, lanes and the intervention trigger.
type Metrics struct {
	EventsAccepted         prometheus.Counter
	EventsRejected         *prometheus.CounterVec
	DuplicateEvents        prometheus.Counter
	BackpressureRejections prometheus.Counter

	SnapshotWrites        prometheus.Counter
	SnapshotWriteFailures prometheus.Counter
	DeadLetteredItems     prometheus.Counter

	InterventionsTriggered  prometheus.Counter
	InterventionsSuppressed prometheus.Counter
	HelpFallbacks           prometheus.Counter
}

// New creates the engine collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_events_accepted_total",
			Help: "Events admitted into a per-user lane",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engagement_events_rejected_total",
			Help: "Events rejected at ingestion, by reason",
		}, []string{"reason"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_duplicate_events_total",
			Help: "Replayed event IDs dropped inside the idempotency window",
		}),
		BackpressureRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_lane_backpressure_total",
			Help: "Submissions rejected because the user's lane was saturated",
		}),
		SnapshotWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_snapshot_writes_total",
			Help: "Score snapshots persisted to the history store",
		}),
		SnapshotWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_snapshot_write_failures_total",
			Help: "History store write attempts that failed (before retry)",
		}),
		DeadLetteredItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_dead_lettered_total",
			Help: "Lane items whose writes exhausted retries and were logged as lost",
		}),
		InterventionsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_interventions_triggered_total",
			Help: "Intervention records created",
		}),
		InterventionsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_interventions_suppressed_total",
			Help: "Low-score snapshots suppressed by the cooldown window",
		}),
		HelpFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engagement_help_fallbacks_total",
			Help: "Interventions that used the generic fallback message",
		}),
	}

	reg.MustRegister(
		m.EventsAccepted,
		m.EventsRejected,
		m.DuplicateEvents,
		m.BackpressureRejections,
		m.SnapshotWrites,
		m.SnapshotWriteFailures,
		m.DeadLetteredItems,
		m.InterventionsTriggered,
		m.InterventionsSuppressed,
		m.HelpFallbacks,
	)
	return m
}

// NewNop returns metrics backed by a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

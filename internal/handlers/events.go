package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/metrics"
	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/lane"
)

// EventIngestRequest is the POST /events payload. event_id is optional;
// clients retrying should pass an Idempotency-Key header or a stable
// event_id so replays are dropped instead of double counted.
type EventIngestRequest struct {
	EventID    string                 `json:"event_id,omitempty"`
	UserID     string                 `json:"user_id"`
	SessionID  string                 `json:"session_id"`
	Role       string                 `json:"role,omitempty"`
	EventType  string                 `json:"event_type"`
	OccurredAt string                 `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// EventIngestResponse is returned by POST /events.
type EventIngestResponse struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// RegisterEventRoutes registers the ingestion gateway endpoint.
//
// POST /events
//   - 202 on admission (fire-and-forget: processing is asynchronous)
//   - 400 on validation failure, non-retryable without correction
//   - 429 on lane backpressure, retryable
func RegisterEventRoutes(r gin.IRoutes, d *lane.Dispatcher, v *event.Validator, m *metrics.Metrics) {
	r.POST("/events", func(c *gin.Context) {
		var req EventIngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			m.EventsRejected.WithLabelValues("malformed_json").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}

		var occurredAt time.Time
		if req.OccurredAt != "" {
			t, err := time.Parse(time.RFC3339, req.OccurredAt)
			if err != nil {
				m.EventsRejected.WithLabelValues("bad_timestamp").Inc()
				c.JSON(http.StatusBadRequest, gin.H{"error": "occurred_at must be RFC3339"})
				return
			}
			occurredAt = t.UTC()
		}

		// Idempotency precedence: header, then payload, then a
		// generated ID (which cannot dedupe client retries).
		eventID := c.GetHeader("Idempotency-Key")
		if eventID == "" {
			eventID = req.EventID
		}
		if eventID == "" {
			eventID = uuid.New().String()
		}

		ev := &event.InteractionEvent{
			EventID:    eventID,
			UserID:     req.UserID,
			SessionID:  req.SessionID,
			Role:       req.Role,
			Type:       event.Type(req.EventType),
			OccurredAt: occurredAt,
			Payload:    req.Payload,
		}

		if err := v.Validate(ev); err != nil {
			var verr *event.ValidationError
			reason := "invalid"
			if errors.As(err, &verr) {
				reason = verr.Field
			}
			m.EventsRejected.WithLabelValues(reason).Inc()
			logrus.Debugf("rejected event %s: %v", eventID, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		_, err := d.Submit(ev)
		switch {
		case errors.Is(err, lane.ErrDuplicateEvent):
			// Idempotent success: the earlier admission stands.
			c.JSON(http.StatusAccepted, EventIngestResponse{EventID: eventID, Duplicate: true})
		case errors.Is(err, lane.ErrLaneSaturated):
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "lane saturated, retry later"})
		case errors.Is(err, lane.ErrShuttingDown):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		case err != nil:
			logrus.Errorf("event submission failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		default:
			c.JSON(http.StatusAccepted, EventIngestResponse{EventID: eventID})
		}
	})
}

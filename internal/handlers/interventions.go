package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/store"
	"github.com/onboardly/engagement-engine/pkg/intervention"
)

// feedbackRequest is the POST /interventions/:id/feedback payload.
type feedbackRequest struct {
	WasHelpful *bool `json:"was_helpful"`
}

// RegisterInterventionRoutes registers the intervention read endpoints
// (latest per session, full history per user) and the feedback update,
// which is the only mutation this API permits.
func RegisterInterventionRoutes(r gin.IRoutes, st store.Store) {
	r.GET("/interventions/:session_id", func(c *gin.Context) {
		sessionID := c.Param("session_id")

		rec, err := st.LatestInterventionBySession(c.Request.Context(), sessionID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"intervention": nil})
			return
		}
		if err != nil {
			logrus.Errorf("intervention lookup failed for session %s: %v", sessionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "intervention lookup failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"intervention": rec})
	})

	r.GET("/interventions/user/:user_id", func(c *gin.Context) {
		userID := c.Param("user_id")

		recs, err := st.InterventionsByUser(c.Request.Context(), userID)
		if err != nil {
			logrus.Errorf("intervention history query failed for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "intervention query failed"})
			return
		}
		if recs == nil {
			recs = []*intervention.Record{}
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "interventions": recs})
	})

	r.POST("/interventions/:id/feedback", func(c *gin.Context) {
		id := c.Param("id")

		var req feedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.WasHelpful == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "was_helpful (bool) is required"})
			return
		}

		err := st.SetInterventionFeedback(c.Request.Context(), id, *req.WasHelpful)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown intervention"})
			return
		}
		if err != nil {
			logrus.Errorf("feedback update failed for intervention %s: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "feedback update failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"intervention_id": id, "was_helpful": *req.WasHelpful})
	})
}

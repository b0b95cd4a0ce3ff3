package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/store"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// RegisterScoreRoutes registers the score read endpoints: the current
// score at GET /scores/:user_id (projection first, store fallback) and
// the ordered snapshot history at GET /scores/:user_id/history for a
// [from,to) window.
func RegisterScoreRoutes(r gin.IRoutes, proj *score.Projection, st store.Store) {
	r.GET("/scores/:user_id", func(c *gin.Context) {
		userID := c.Param("user_id")

		// The in-memory projection is the freshest read; it satisfies
		// the 5-second visibility contract without touching the store.
		if snap, ok := proj.Latest(userID); ok {
			c.JSON(http.StatusOK, snap)
			return
		}

		// Cold start (e.g. after restart): fall back to durable history.
		snap, err := st.LatestSnapshot(c.Request.Context(), userID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no score for user"})
			return
		}
		if err != nil {
			logrus.Errorf("latest snapshot lookup failed for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "score lookup failed"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	r.GET("/scores/:user_id/history", func(c *gin.Context) {
		userID := c.Param("user_id")
		from, to, ok := parseWindow(c)
		if !ok {
			return
		}

		snaps, err := st.SnapshotsByUser(c.Request.Context(), userID, from, to)
		if err != nil {
			logrus.Errorf("snapshot history query failed for user %s: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
			return
		}
		if snaps == nil {
			snaps = []*score.Snapshot{}
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "snapshots": snaps})
	})
}

// parseWindow reads from/to query params as an RFC3339 half-open window.
// Writes the error response itself and returns ok=false on bad input.
func parseWindow(c *gin.Context) (from, to time.Time, ok bool) {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from and to are required"})
		return
	}
	from, err := time.Parse(time.RFC3339, fromStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	to, err = time.Parse(time.RFC3339, toStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}
	from = from.UTC()
	to = to.UTC()
	if !from.Before(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must be < to"})
		return
	}
	return from, to, true
}

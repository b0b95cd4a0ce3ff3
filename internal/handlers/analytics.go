package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/pkg/analytics"
)

// RegisterAnalyticsRoutes registers the dashboard aggregation endpoints.
// All of them are read-only scans of the history store; none touch the
// live pipeline.
//
// GET /analytics/activation?from&to
// GET /analytics/dropoff?from&to
// GET /analytics/trend?from&to&bucket=1h
func RegisterAnalyticsRoutes(r gin.IRoutes, svc *analytics.Service) {
	r.GET("/analytics/activation", func(c *gin.Context) {
		from, to, ok := parseWindow(c)
		if !ok {
			return
		}
		stats, err := svc.ActivationRate(c.Request.Context(), from, to)
		if err != nil {
			logrus.Errorf("activation query failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "activation query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "activation": stats})
	})

	r.GET("/analytics/dropoff", func(c *gin.Context) {
		from, to, ok := parseWindow(c)
		if !ok {
			return
		}
		stats, err := svc.DropOff(c.Request.Context(), from, to)
		if err != nil {
			logrus.Errorf("dropoff query failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dropoff query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"from": from, "to": to, "steps": stats})
	})

	r.GET("/analytics/trend", func(c *gin.Context) {
		from, to, ok := parseWindow(c)
		if !ok {
			return
		}
		bucket := time.Hour
		if raw := c.Query("bucket"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "bucket must be a positive duration like 15m or 1h"})
				return
			}
			bucket = d
		}
		report, err := svc.Trend(c.Request.Context(), from, to, bucket)
		if err != nil {
			logrus.Errorf("trend query failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "trend query failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	})
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/onboardly/engagement-engine/internal/auth"
	"github.com/onboardly/engagement-engine/internal/handlers"
	"github.com/onboardly/engagement-engine/internal/metrics"
	"github.com/onboardly/engagement-engine/internal/store"
	"github.com/onboardly/engagement-engine/pkg/analytics"
	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/lane"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// HTTPServerDeps carries everything the route handlers need.
type HTTPServerDeps struct {
	Dispatcher *lane.Dispatcher
	Validator  *event.Validator
	Projection *score.Projection
	Store      store.Store
	Analytics  *analytics.Service
	Redis      *redis.Client
	Metrics    *metrics.Metrics
	APIKeys    map[string]string
}

// HTTPServer manages the ingestion and read API server.
type HTTPServer struct {
	server  *http.Server
	port    int
	env     string
	service string
	deps    HTTPServerDeps
}

// NewHTTPServer creates a new HTTP server instance.
func NewHTTPServer(port int, environment, serviceName string, deps HTTPServerDeps) *HTTPServer {
	return &HTTPServer{
		port:    port,
		env:     environment,
		service: serviceName,
		deps:    deps,
	}
}

// Setup builds the gin router and wires all routes.
//
// /health and /ready are unauthenticated so orchestrators can probe
// them. Everything else sits behind the API key middleware.
func (s *HTTPServer) Setup() error {
	if s.env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.service))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", s.readiness)

	api := r.Group("/", auth.APIKeyMiddleware(s.deps.APIKeys))
	handlers.RegisterEventRoutes(api, s.deps.Dispatcher, s.deps.Validator, s.deps.Metrics)
	handlers.RegisterScoreRoutes(api, s.deps.Projection, s.deps.Store)
	handlers.RegisterInterventionRoutes(api, s.deps.Store)
	handlers.RegisterAnalyticsRoutes(api, s.deps.Analytics)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return nil
}

// readiness checks the history store and Redis dependencies.
func (s *HTTPServer) readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	} else {
		checks["store"] = "ok"
	}

	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": healthy, "checks": checks})
}

// Start begins serving on the configured port.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		logrus.Infof("http server listening on port %d", s.port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("http server failed: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	logrus.Info("shutting down http server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	logrus.Info("http server stopped")
	return nil
}

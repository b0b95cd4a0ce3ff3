package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/onboardly/engagement-engine/internal/config"
	"github.com/onboardly/engagement-engine/internal/metrics"
	"github.com/onboardly/engagement-engine/internal/server"
	"github.com/onboardly/engagement-engine/internal/store"
	"github.com/onboardly/engagement-engine/pkg/analytics"
	"github.com/onboardly/engagement-engine/pkg/event"
	"github.com/onboardly/engagement-engine/pkg/intervention"
	"github.com/onboardly/engagement-engine/pkg/lane"
	"github.com/onboardly/engagement-engine/pkg/score"
)

// App holds all application dependencies and manages the lifecycle.
type App struct {
	cfg    *config.Config
	engine *config.EngineConfig

	store       store.Store
	redisClient *redis.Client
	metrics     *metrics.Metrics

	projection *score.Projection
	dispatcher *lane.Dispatcher
	trigger    *intervention.Trigger

	httpServer        *server.HTTPServer
	metricsServer     *server.MetricsServer
	shutdownTelemetry func(context.Context) error
}

// New creates and initializes a new application instance.
//
// Components are initialized in dependency order: history store, Redis,
// metrics, then the scoring pipeline (projection, trigger, dispatcher),
// then telemetry and finally the servers. The tracer provider comes
// before the HTTP server so the router middleware binds to it.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logrus.Info("initializing application...")

	app := &App{cfg: cfg}

	engine, err := config.LoadEngineConfig(cfg.EngineConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load engine config from %s: %w", cfg.EngineConfigPath, err)
	}
	app.engine = engine
	logrus.Infof("loaded engine configuration from %s", cfg.EngineConfigPath)

	if err := app.initStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to init history store: %w", err)
	}

	if err := app.initRedis(ctx); err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	app.metricsServer = server.NewMetricsServer(cfg.MetricsPort, "/metrics")
	m, err := app.metricsServer.Setup()
	if err != nil {
		return nil, fmt.Errorf("failed to setup metrics server: %w", err)
	}
	app.metrics = m

	app.projection = score.NewProjection()

	dedup := intervention.NewRedisDedupStore(app.redisClient, 0)
	app.trigger = intervention.NewTrigger(
		engine.InterventionConfig(),
		dedup,
		app.helpGenerator(),
		app.store,
		app.metrics,
		nil,
	)

	app.dispatcher = lane.NewDispatcher(
		engine.LaneConfig(),
		engine.ScoringConfig(),
		app.store,
		app.store,
		app.projection,
		app.trigger,
		app.metrics,
		nil,
	)

	validator := event.NewValidator(engine.ClockSkewTolerance(), nil)
	analyticsSvc := analytics.NewService(app.store)

	apiKeys, err := cfg.ParsedAPIKeys()
	if err != nil {
		return nil, err
	}

	if cfg.OtelEnabled {
		shutdownTelemetry, err := server.SetupTelemetry(ctx, cfg.ServiceName, cfg.Environment, cfg.ZipkinEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to setup telemetry: %w", err)
		}
		app.shutdownTelemetry = shutdownTelemetry
	}

	app.httpServer = server.NewHTTPServer(cfg.HTTPPort, cfg.Environment, cfg.ServiceName, server.HTTPServerDeps{
		Dispatcher: app.dispatcher,
		Validator:  validator,
		Projection: app.projection,
		Store:      app.store,
		Analytics:  analyticsSvc,
		Redis:      app.redisClient,
		Metrics:    app.metrics,
		APIKeys:    apiKeys,
	})
	if err := app.httpServer.Setup(); err != nil {
		return nil, fmt.Errorf("failed to setup http server: %w", err)
	}

	logrus.Info("application initialized successfully")

	return app, nil
}

// initStore selects the history store backend. An empty DB_URL runs the
// in-memory store, which loses history on restart.
func (a *App) initStore(ctx context.Context) error {
	if a.cfg.DBURL == "" {
		logrus.Warn("DB_URL not set, using in-memory history store")
		a.store = store.NewMemoryStore()
		return nil
	}

	var pg *store.PostgresStore
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err := backoff.Retry(
		func() error {
			s, err := store.NewPostgresStore(ctx, a.cfg.DBURL)
			if err != nil {
				logrus.Warnf("Postgres connection failed: %v, retrying...", err)
				return err
			}
			pg = s
			return nil
		},
		b,
	)
	if err != nil {
		return err
	}

	if err := pg.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	a.store = pg
	logrus.Info("Postgres history store initialized")
	return nil
}

// initRedis initializes the Redis client backing the cooldown store.
func (a *App) initRedis(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:         a.cfg.RedisAddr(),
		Password:     a.cfg.RedisPassword,
		DB:           0,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err := backoff.Retry(
		func() error {
			if _, err := client.Ping(ctx).Result(); err != nil {
				logrus.Warnf("Redis connection failed: %v, retrying...", err)
				return err
			}
			return nil
		},
		b,
	)
	if err != nil {
		return err
	}

	a.redisClient = client
	logrus.Info("Redis client initialized")
	return nil
}

// helpGenerator picks the contextual help backend. Without a configured
// endpoint every intervention carries the fallback message.
func (a *App) helpGenerator() intervention.HelpGenerator {
	if a.cfg.HelpGeneratorURL == "" {
		logrus.Warn("HELP_GENERATOR_URL not set, interventions will use the fallback message")
		return intervention.UnavailableHelpGenerator{}
	}
	return intervention.NewHTTPHelpGenerator(a.cfg.HelpGeneratorURL, a.engine.InterventionConfig().HelpTimeout)
}

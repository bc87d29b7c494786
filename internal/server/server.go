// Package server builds the application's dependency graph and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/api"
	"github.com/JakeFAU/pageweight/internal/cache/memory"
	rediscache "github.com/JakeFAU/pageweight/internal/cache/redis"
	"github.com/JakeFAU/pageweight/internal/clock"
	"github.com/JakeFAU/pageweight/internal/config"
	collyfetcher "github.com/JakeFAU/pageweight/internal/fetcher/colly"
	"github.com/JakeFAU/pageweight/internal/id/uuid"
	"github.com/JakeFAU/pageweight/internal/logging"
	"github.com/JakeFAU/pageweight/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/pageweight/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/pageweight/internal/publisher/pubsub"
	memorystore "github.com/JakeFAU/pageweight/internal/storage/memory"
	"github.com/JakeFAU/pageweight/internal/storage/migrate"
	pgstore "github.com/JakeFAU/pageweight/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/pageweight/internal/storage/sqlite"
	"github.com/JakeFAU/pageweight/internal/tracker"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	tracker   *tracker.Tracker
	apiServer *api.Server
	checks    map[string]api.ReadinessCheck

	redis        *rediscache.Cache
	pgStore      *pgstore.MeasurementStore
	sqliteStore  *sqlitestore.MeasurementStore
	gcpPublisher *gcppublisher.Publisher
}

// Build creates the logger and then the rest of the application.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return NewApp(ctx, cfg, logger)
}

// NewApp wires the tracker, its infrastructure and the HTTP API from cfg.
// Infrastructure opened before a failure is closed again.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("scheduler_mode", cfg.Scheduler.Mode),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.String("storage_driver", cfg.Storage.Driver),
		zap.Int("sites", len(cfg.Sites)),
	)
	app := &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	cache, err := setupCache(ctx, app)
	if err != nil {
		return nil, err
	}
	store, err := setupStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clk := clock.New()
	sites := cfg.TrackedSites()
	measurer := tracker.NewMeasurer(
		setupFetcher(app),
		store,
		publisher,
		clk,
		uuid.New(),
		tracker.MeasurerConfig{
			SplitAssets:   cfg.Measure.SplitAssets,
			TrackRevision: cfg.Measure.TrackRevision,
			Topic:         cfg.Measure.Topic,
		},
		logger.Named("measurer"),
	)
	history := tracker.NewHistoryCache(cache, store, sites, tracker.HistoryConfig{
		Limit: cfg.History.Limit,
		TTL:   cfg.History.TTL,
	}, logger.Named("history"))

	app.tracker = tracker.New(sites, setupGate(app, cache, clk), measurer, history, logger.Named("tracker"))
	app.apiServer = api.NewServer(app.tracker, *cfg, logger.Named("api"), app.checks)
	return app, nil
}

// Tracker exposes the wired tracker for command-line triggers.
func (a *App) Tracker() *tracker.Tracker {
	return a.tracker
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run listens on the configured port and blocks until the context is canceled
// or SIGINT/SIGTERM is received.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the API on ln until shutdown, then closes the application.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		time.Duration(a.cfg.Server.ShutdownTimeoutSeconds)*time.Second,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()
	return <-serveErr
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.gcpPublisher = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
	if a.sqliteStore != nil {
		if err := a.sqliteStore.Close(); err != nil {
			a.logger.Warn("sqlite store close failed", zap.Error(err))
		}
		a.sqliteStore = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
}

func setupCache(ctx context.Context, app *App) (tracker.Cache, error) {
	cfg := app.cfg.Cache
	if cfg.Driver != "redis" {
		app.logger.Info("using in-memory cache")
		return memory.New(nil), nil
	}
	var err error
	app.redis, err = rediscache.New(ctx, rediscache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
		Timeout:  time.Duration(cfg.Redis.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("redis cache init failed: %w", err)
	}
	app.checks["cache"] = app.redis.Ping
	app.logger.Info("using redis cache", zap.String("addr", cfg.Redis.Addr), zap.String("prefix", cfg.Redis.Prefix))
	return app.redis, nil
}

func setupStore(ctx context.Context, app *App) (tracker.MeasurementStore, error) {
	cfg := app.cfg.Storage
	var err error
	switch cfg.Driver {
	case migrate.DriverPostgres:
		if cfg.AutoMigrate {
			applied, err := migrate.Run(ctx, migrate.DriverPostgres, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("postgres migration failed: %w", err)
			}
			app.logger.Info("postgres schema migrated", zap.Int64s("applied", applied))
		}
		app.pgStore, err = pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		app.checks["store"] = app.pgStore.Ping
		app.logger.Info("using postgres measurement store", zap.String("table", cfg.Table))
		return app.pgStore, nil
	case migrate.DriverSQLite:
		app.sqliteStore, err = sqlitestore.Open(ctx, sqlitestore.Config{
			DSN:         cfg.DSN,
			AutoMigrate: cfg.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.checks["store"] = app.sqliteStore.Ping
		app.logger.Info("using sqlite measurement store", zap.String("dsn", cfg.DSN))
		return app.sqliteStore, nil
	default:
		app.logger.Warn("using in-memory measurement store; measurements are lost on restart")
		return memorystore.NewMeasurementStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (tracker.Publisher, error) {
	switch app.cfg.PubSub.Driver {
	case "pubsub":
		var err error
		app.gcpPublisher, err = gcppublisher.New(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.Measure.Topic),
		)
		return app.gcpPublisher, nil
	case "memory":
		app.logger.Info("using in-memory publisher", zap.String("topic", app.cfg.Measure.Topic))
		return memorypublisher.New(), nil
	default:
		app.logger.Info("measurement publishing disabled")
		return nil, nil
	}
}

func setupFetcher(app *App) tracker.Fetcher {
	cfg := app.cfg.HTTP
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       app.cfg.FetchTimeout(),
		MaxBodySize:   cfg.MaxBodyBytes,
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.UserAgent),
		zap.Duration("timeout", app.cfg.FetchTimeout()),
	)
	if cfg.RateLimitRPS <= 0 {
		return fetcher
	}
	app.logger.Info("rate limiter enabled",
		zap.Float64("rps", cfg.RateLimitRPS),
		zap.Int("burst", cfg.RateLimitBurst),
	)
	return ratelimit.Wrap(fetcher, ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimitRPS,
		DefaultBurst: cfg.RateLimitBurst,
	}))
}

func setupGate(app *App, cache tracker.Cache, clk tracker.Clock) tracker.Gate {
	cfg := app.cfg.Scheduler
	if cfg.Mode == config.ModeInterval {
		app.logger.Info("using interval scheduler", zap.Duration("interval", cfg.Interval))
		return tracker.NewIntervalGate(cache, clk, cfg.Interval)
	}
	app.logger.Info("using ping scheduler",
		zap.Duration("ping_window", cfg.PingWindow),
		zap.Duration("min_interval", cfg.MinInterval),
	)
	return tracker.NewPingGate(cache, clk, tracker.PingGateConfig{
		PingWindow:  cfg.PingWindow,
		MinInterval: cfg.MinInterval,
	}, app.logger.Named("gate"))
}

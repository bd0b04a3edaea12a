package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"student-records/internal/account"
	"student-records/internal/auth"
	"student-records/internal/backend"
	"student-records/internal/changefeed"
	"student-records/internal/config"
	"student-records/internal/db"
	"student-records/internal/health"
	"student-records/internal/landing"
	"student-records/internal/logger"
	"student-records/internal/middleware"
	"student-records/internal/platform"
	"student-records/internal/session"
	"student-records/internal/student"
	"student-records/internal/telemetry"
	"student-records/internal/view"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config    *config.Config
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	db        *bun.DB
	telemetry *telemetry.Telemetry
	publisher changefeed.Publisher
	listener  changefeed.Listener
	redis     *redis.Client

	stop     chan struct{}
	stopOnce sync.Once
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slogLogger := logger.NewWithServiceContext(ServiceName, Version, logger.Options{
		Format:      cfg.Log.Format,
		Level:       cfg.Log.Level,
		Environment: cfg.Env,
	})
	slog.SetDefault(slogLogger)
	slogLogger.Info("initializing application", "env", cfg.Env, "commit", GitCommit, "built", BuildTime)

	app := &App{
		config: cfg,
		router: chi.NewRouter(),
		logger: slogLogger,
		stop:   make(chan struct{}),
	}
	if err := app.init(ctx); err != nil {
		app.close(context.Background())
		return nil, err
	}

	slogLogger.Info("application initialized successfully")
	return app, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.config, a.logger

	tel, err := telemetry.Init(ctx, cfg.Telemetry, ServiceName, Version, cfg.Env, log)
	if err != nil {
		return err
	}
	a.telemetry = tel
	m := tel.Metrics

	database, err := db.New(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	a.db = database
	if err := db.RunMigrations(ctx, database, platform.Models(), platform.Migrations()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := m.Database.RegisterDB(database.DB, m.Meter()); err != nil {
		log.Warn("failed to register database pool metrics", "error", err)
	}

	hub := changefeed.NewHub(log)
	a.publisher, a.listener, err = newChangeFeed(cfg.ChangeFeed, hub, log, m)
	if err != nil {
		return fmt.Errorf("failed to initialize change feed: %w", err)
	}
	log.Info("change feed initialized", "driver", cfg.ChangeFeed.Driver)

	guard, redisClient, err := newGuard(ctx, cfg.Busy, log)
	if err != nil {
		return err
	}
	a.redis = redisClient

	plat := platform.New(platform.Options{
		DB:        database,
		Publisher: a.publisher,
		Hub:       hub,
		Mailer:    newMailer(cfg.Mail, log),
		Auth:      cfg.Auth,
		Logger:    log,
		Metrics:   m,
	})

	checks := []health.Check{
		{Name: "postgres", Ping: plat.Ping},
		{Name: "change_feed", Ping: func(context.Context) error { return a.listener.HealthCheck() }},
	}
	if redisClient != nil {
		checks = append(checks, health.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	}
	healthHandler := health.NewHandler(log, m, checks...)
	if err := m.Health.RegisterDependencies(m.Meter(), healthHandler.Names()); err != nil {
		log.Warn("failed to register dependency metrics", "error", err)
	}

	cookies := session.CookiesFor(cfg.Env, cfg.Auth.CookieSecure || cfg.IsProduction(), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	factory := func(t platform.Tokens) backend.Client { return plat.Client(t) }
	redirectTo := strings.TrimRight(cfg.Auth.SiteURL, "/") + view.PathDashboard

	a.router.Use(chimw.RequestID, chimw.RealIP, middleware.RequestLogger(log), chimw.Recoverer)
	a.router.Use(middleware.CORS(cfg.Server.CORSOrigins))

	// Health endpoints (no session required)
	healthHandler.RegisterRoutes(a.router)

	a.router.Group(func(r chi.Router) {
		r.Use(session.Middleware(factory, cookies, log))

		landing.NewHandler(log).RegisterRoutes(r)
		auth.NewHandler(guard, plat, redirectTo, log, m).RegisterRoutes(r)

		r.Route("/api", func(r chi.Router) {
			r.Use(session.RequireSession(log))
			student.NewHandler(guard, log, m).RegisterRoutes(r)
			account.NewHandler(guard, log, m).RegisterRoutes(r)
		})
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}
	return nil
}

// Run serves HTTP and consumes the change feed until ctx ends, Shutdown is
// called, or either fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.listener.Start(ctx)
	})
	g.Go(func() error {
		a.logger.Info("server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-a.stop:
		}
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")
	a.stopOnce.Do(func() { close(a.stop) })
	err := a.server.Shutdown(ctx)
	return errors.Join(err, a.close(ctx))
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.listener != nil {
		errs = append(errs, a.listener.Close())
	}
	// Local and NATS feeds publish and listen on the same value.
	if a.publisher != nil && any(a.publisher) != any(a.listener) {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	errs = append(errs, a.telemetry.Shutdown(ctx, a.logger))
	return errors.Join(errs...)
}

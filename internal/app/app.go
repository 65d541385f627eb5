package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadim/neo-social/internal/config"
	httpcontroller "github.com/vadim/neo-social/internal/controller/http"
	"github.com/vadim/neo-social/internal/database"
	directpolicy "github.com/vadim/neo-social/internal/domain/direct/policy"
	directservice "github.com/vadim/neo-social/internal/domain/direct/service"
	followservice "github.com/vadim/neo-social/internal/domain/follow/service"
	notificationservice "github.com/vadim/neo-social/internal/domain/notification/service"
	"github.com/vadim/neo-social/internal/httpx/auth"
	"github.com/vadim/neo-social/internal/metrics"
	"github.com/vadim/neo-social/internal/realtime"
	"github.com/vadim/neo-social/internal/storage"
	"github.com/vadim/neo-social/internal/store"
)

// App is the main application container
type App struct {
	cfg        config.Config
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	registry   *prometheus.Registry
	metrics    *metrics.Metrics

	pool  *pgxpool.Pool
	store store.Store

	// Live engine and the state it owns
	hub      *realtime.Hub
	presence *realtime.Presence
	engine   *realtime.Engine
	sweeper  *realtime.Sweeper
	stop     context.CancelFunc
	stopped  chan struct{}

	// Domain layers (interfaces for HTTP handlers)
	verifier      *auth.Verifier
	notifications *notificationservice.Service
	follows       *followservice.Service
	directPolicy  *directpolicy.Policy
	media         *storage.S3Storage
}

// Option configures the application
type Option func(*App)

// WithStore runs the application on st instead of the configured database
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithLogger replaces the default JSON logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// NewApp creates and initializes the application
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = NewLogger(cfg.Log.Level)
	}
	app.metrics = metrics.New(app.registry)

	if err := app.initInfrastructure(ctx); err != nil {
		return nil, fmt.Errorf("initializing infrastructure: %w", err)
	}

	app.initDomains()
	app.registerRoutes()

	app.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return app, nil
}

// NewLogger creates the JSON logger at the named level
func NewLogger(level string) *slog.Logger {
	var lv slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lv = slog.LevelDebug
	case "warn", "warning":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	default:
		lv = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lv}))
}

// initInfrastructure connects the store
func (a *App) initInfrastructure(ctx context.Context) error {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if a.store != nil {
		return nil
	}

	if a.cfg.Database.PostgresDSN == "" {
		a.logger.Warn("DATABASE_URL is not set, using the in-memory store")
		a.store = store.NewMemory()
		return nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	a.pool = pool

	if a.cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return fmt.Errorf("migrating database: %w", err)
		}
		a.logger.Info("database schema applied")
	}

	a.store = store.NewPostgres(pool)
	return nil
}

// initDomains wires the live engine and the domain layers around it
func (a *App) initDomains() {
	rt := a.cfg.Realtime

	a.hub = realtime.NewHub(a.logger, a.metrics)
	a.presence = realtime.NewPresence()

	a.notifications = notificationservice.New(a.store, a.hub, a.logger,
		notificationservice.WithMetrics(a.metrics))
	a.follows = followservice.New(a.store, a.notifications)

	directSvc := directservice.New(a.store, a.notifications)
	a.directPolicy = directpolicy.New(directSvc, a.hub, a.notifications, a.presence, a.metrics)

	a.engine = realtime.NewEngine(realtime.Config{
		Store:     a.store,
		Hub:       a.hub,
		Presence:  a.presence,
		Typing:    realtime.NewTyping(),
		Receipts:  a.directPolicy,
		QueueSize: rt.EventQueueSize,
		Logger:    a.logger,
		Metrics:   a.metrics,
	})
	metrics.RegisterQueueDepth(a.registry, a.engine.QueueDepth)

	a.sweeper = realtime.NewSweeper(a.engine, realtime.SweeperConfig{
		TTL:      rt.TypingTTL,
		Interval: rt.TypingSweepInterval,
	}, a.logger)

	a.verifier = auth.NewVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer, a.store.Users())

	if a.cfg.S3.Enabled {
		a.media = storage.NewS3Storage(a.cfg.S3)
	}
}

// registerRoutes registers all HTTP routes
func (a *App) registerRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	a.router = r

	// Health check
	r.Get("/healthz", a.healthHandler)
	r.Get("/readyz", a.readyHandler)

	if a.cfg.Metrics.Enabled {
		r.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	// Live transport; long-lived, so outside the request timeout
	wsHandler := httpcontroller.NewWSHandler(a.engine, a.verifier, a.cfg.Realtime, a.logger)
	wsHandler.RegisterRoutes(r)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(a.verifier.Middleware)

		httpcontroller.NewDirectHandler(a.directPolicy, a.engine).RegisterRoutes(r)
		httpcontroller.NewNotificationHandler(a.notifications).RegisterRoutes(r)
		httpcontroller.NewFollowHandler(a.follows).RegisterRoutes(r)
		httpcontroller.NewUserHandler(a.store.Users(), a.engine).RegisterRoutes(r)

		if a.media != nil {
			httpcontroller.NewMediaHandler(a.media, a.logger).RegisterRoutes(r)
		}
	})
}

// Handler returns the root HTTP handler
func (a *App) Handler() http.Handler {
	return a.router
}

// Verifier returns the token verifier used by the HTTP layer
func (a *App) Verifier() *auth.Verifier {
	return a.verifier
}

// healthHandler handles health check requests
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// readyHandler handles readiness check requests
func (a *App) readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"unavailable"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ready"}`))
}

// Start runs the live engine and the typing sweeper in the background
func (a *App) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	a.stopped = make(chan struct{})

	go func() {
		a.engine.Run(ctx)
		close(a.stopped)
	}()
	a.sweeper.Start(ctx)
}

// Run starts the application and blocks until shutdown signal
func (a *App) Run(ctx context.Context) error {
	a.Start(ctx)

	// Channel to receive errors from server
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Address())
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context cancelled")
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down...")

	a.sweeper.Stop()

	// Drain REST requests while the engine still answers them
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpErr := a.httpServer.Shutdown(shutdownCtx)

	// Hijacked websockets are not tracked by the server; stopping the
	// engine closes them
	if a.stop != nil {
		a.stop()
		<-a.stopped
	}

	if a.pool != nil {
		a.pool.Close()
	}

	if httpErr != nil {
		return fmt.Errorf("shutting down HTTP server: %w", httpErr)
	}

	a.logger.Info("shutdown complete")
	return nil
}

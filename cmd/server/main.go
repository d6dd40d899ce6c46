package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/merchkit/syncbridge/internal/config"
	"github.com/merchkit/syncbridge/internal/engine"
	"github.com/merchkit/syncbridge/internal/handlers"
	"github.com/merchkit/syncbridge/internal/jobs"
	"github.com/merchkit/syncbridge/internal/middleware"
	"github.com/merchkit/syncbridge/internal/migration"
	"github.com/merchkit/syncbridge/internal/notification"
	"github.com/merchkit/syncbridge/internal/registry"
	"github.com/merchkit/syncbridge/internal/repository"
	"github.com/merchkit/syncbridge/internal/routes"
	"github.com/merchkit/syncbridge/internal/scheduler"
	"github.com/merchkit/syncbridge/internal/source"
	"github.com/merchkit/syncbridge/internal/target"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config        *config.Config
	db            *sql.DB
	logger        zerolog.Logger
	notifications notification.Service
	sources       *source.Factory
	targetStore   target.Store
	registry      *registry.Registry
	syncEngine    *engine.Engine
	orchestrator  *jobs.Orchestrator
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	gooseAdapter := migration.NewGooseAdapter(logger)
	goose.SetLogger(gooseAdapter)

	// Load configuration.
	cfg := config.Load()

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL, logger)

	// Initialize notification service.
	notificationRepo := repository.NewNotificationRepository(db)
	notificationService := notification.NewService(notificationRepo, logger, notification.NewLogNotifier(logger))

	// Shared connector factory and target store.
	sources := source.NewFactory(source.Params{
		Host:     cfg.Source.Host,
		Port:     cfg.Source.Port,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
		Database: cfg.Source.Database,
	}, cfg.Sync.QueryTimeout)
	targetStore := target.NewPostgresStore(db, cfg.Sync.QueryTimeout)

	// Registry, engine, orchestrator.
	workerRepo := repository.NewWorkerRepository(db)
	jobRepo := repository.NewJobRepository(db)
	reg := registry.New(workerRepo, sources, logger)
	syncEngine := engine.New(sources, targetStore, reg, notificationService, logger, cfg.Sync.BatchSize)
	orchestrator := jobs.New(jobRepo, sources, targetStore, notificationService, logger, cfg.Sync.BatchSize)

	app := &application{
		config:        cfg,
		db:            db,
		logger:        logger,
		notifications: notificationService,
		sources:       sources,
		targetStore:   targetStore,
		registry:      reg,
		syncEngine:    syncEngine,
		orchestrator:  orchestrator,
	}

	// Start the scheduler loop.
	sched := scheduler.New(reg, syncEngine, logger, cfg.Scheduler.PollInterval)
	sched.Start(context.Background())

	// Initialize the HTTP router and middleware.
	router := app.initRouter()
	loggedRouter := middleware.LoggingMiddleware(app.logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{cfg.AllowedOrigin}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, sched)

	logger.Info().Msg("Application terminated.")
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	sourceHandler := handlers.NewSourceHandler(app.sources, app.logger)
	targetHandler := handlers.NewTargetHandler(app.targetStore, app.logger)
	mappingHandler := handlers.NewMappingHandler(app.sources, app.targetStore, app.logger)
	workerHandler := handlers.NewWorkerHandler(app.registry, app.syncEngine, app.logger)
	migrationHandler := handlers.NewMigrationHandler(app.orchestrator, app.logger)
	notificationHandler := handlers.NewNotificationHandler(app.notifications, app.logger)

	return routes.NewRouter(sourceHandler, targetHandler, mappingHandler, workerHandler, migrationHandler, notificationHandler)
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, sched *scheduler.Scheduler) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		app.logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		app.logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		app.logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Drain the scheduler and any in-flight migration jobs.
	app.logger.Info().Msg("Stopping scheduler...")
	sched.Stop(30 * time.Second)
	app.orchestrator.Wait()
	app.logger.Info().Msg("Scheduler stopped.")
}

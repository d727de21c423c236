package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/pageforge/pageforge-api/internal/config"
	"github.com/pageforge/pageforge-api/internal/events"
	"github.com/pageforge/pageforge-api/internal/imageqa"
	"github.com/pageforge/pageforge-api/internal/pipeline"
	"github.com/pageforge/pageforge-api/internal/platform/gemini"
	"github.com/pageforge/pageforge-api/internal/platform/postgres"
	"github.com/pageforge/pageforge-api/internal/ratelimit"
	"github.com/pageforge/pageforge-api/internal/service/auth"
	"github.com/pageforge/pageforge-api/internal/store"
	"github.com/pageforge/pageforge-api/internal/task"
	"github.com/pageforge/pageforge-api/internal/workflow"
	"golang.org/x/crypto/bcrypt"
)

// Reviewer personas for the image QA loop. Two independent perspectives
// over the same model; an image ships only when both approve.
const (
	reviewerPersonaPrimary = "an art director checking composition, lighting, " +
		"style consistency and overall visual quality"
	reviewerPersonaSecondary = "a brand reviewer checking for unwanted text, " +
		"rendering artifacts, anatomical glitches and off-brand imagery"
)

// application holds the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	// Stores
	userStore  store.UserStore
	runStore   store.RunStore
	taskStore  store.TaskStore
	imageStore store.ImageStore
	pageStore  store.PageStore

	// Services
	jwtService       auth.JWTService
	passwordVerifier auth.PasswordVerifier
	workflowService  *workflow.Service

	// Background machinery
	eventEmitter events.EventEmitter
	limiter      *ratelimit.Limiter
	dispatcher   *task.Dispatcher
}

// newApplication creates an application with all dependencies initialized
// and the background dispatcher running. On success the application owns
// the database connection and closes it in cleanup.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	db *sql.DB,
) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		db:     db,
	}

	var err error
	app.jwtService, err = auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
	}
	logger.Info("JWT authentication service initialized",
		"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)

	app.passwordVerifier = auth.NewBcryptVerifier()

	app.userStore = postgres.NewPostgresUserStore(db, bcrypt.DefaultCost, logger)
	app.runStore = postgres.NewPostgresRunStore(db, logger)
	app.taskStore = postgres.NewPostgresTaskStore(db, logger)
	app.imageStore = postgres.NewPostgresImageStore(db, logger)
	app.pageStore = postgres.NewPostgresPageStore(db, logger)

	llm, err := gemini.NewClient(ctx, logger.With("component", "llm"), cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	app.limiter = ratelimit.NewLimiter(ratelimit.Config{
		MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		MaxRetries:        cfg.RateLimit.MaxRetries,
		BaseDelay:         time.Duration(cfg.RateLimit.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(cfg.RateLimit.MaxDelayMs) * time.Millisecond,
	})

	imageGen, err := setupImageGeneration(llm, app.limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up image generation: %w", err)
	}

	app.eventEmitter = events.NewInMemoryEventEmitter(logger)

	registry := task.NewRegistry()
	err = pipeline.Register(registry, pipeline.Deps{
		Model:    llm,
		Executor: app.limiter,
		Runs:     app.runStore,
		Tasks:    app.taskStore,
		Images:   app.imageStore,
		Pages:    app.pageStore,
		ImageGen: imageGen,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register pipeline handlers: %w", err)
	}

	stuckTaskAge := time.Duration(cfg.Task.StuckTaskAgeMinutes) * time.Minute
	app.dispatcher = task.NewDispatcher(
		db,
		app.taskStore,
		app.runStore,
		registry,
		app.eventEmitter,
		task.DispatcherConfig{
			WorkerCount:      cfg.Task.WorkerCount,
			PollInterval:     time.Duration(cfg.Task.PollIntervalSeconds) * time.Second,
			MaxTasksPerCycle: cfg.Task.MaxTasksPerCycle,
			StuckTaskAge:     stuckTaskAge,
			MaxAttempts:      cfg.Task.MaxRetries + 1,
		},
		logger,
	)

	app.workflowService, err = workflow.NewService(
		db,
		app.runStore,
		app.taskStore,
		app.dispatcher,
		app.eventEmitter,
		workflow.Config{StaleThreshold: stuckTaskAge},
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow service: %w", err)
	}

	// Task finalization feeds run evaluation; queued-task events wake the
	// dispatcher so new work does not wait for the next poll tick.
	app.dispatcher.SetOnFinalized(app.workflowService.HandleTaskFinalized)
	if emitter, ok := app.eventEmitter.(*events.InMemoryEventEmitter); ok {
		emitter.RegisterHandler(task.NewQueueEventHandler(app.dispatcher, logger))
	} else {
		return nil, fmt.Errorf("unexpected event emitter type, cannot register queue handler")
	}

	if err := app.dispatcher.Start(); err != nil {
		return nil, fmt.Errorf("failed to start task dispatcher: %w", err)
	}

	logger.Info("Application initialized successfully")
	return app, nil
}

// setupImageGeneration assembles the image QA loop: generation, prompt
// rewriting and dual review over one Gemini client, all sharing the
// provider rate budget.
func setupImageGeneration(llm *gemini.Client, executor ratelimit.Executor) (*imageqa.Handler, error) {
	primary, err := gemini.NewImageReviewer(llm, reviewerPersonaPrimary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary reviewer: %w", err)
	}
	secondary, err := gemini.NewImageReviewer(llm, reviewerPersonaSecondary)
	if err != nil {
		return nil, fmt.Errorf("failed to create secondary reviewer: %w", err)
	}

	loop, err := imageqa.NewLoop(llm, llm, primary, secondary, executor, imageqa.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create QA loop: %w", err)
	}
	return imageqa.NewHandler(loop)
}

// Run starts the application server, handling lifecycle and cleanup.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.dispatcher != nil {
		app.dispatcher.Stop()
	}
	if app.limiter != nil {
		app.limiter.Stop()
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}

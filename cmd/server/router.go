package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pageforge/pageforge-api/internal/api"
	apimiddleware "github.com/pageforge/pageforge-api/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes
// and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(apimiddleware.TraceMiddleware)

	authHandler := api.NewAuthHandler(app.userStore, app.jwtService, app.passwordVerifier)
	runHandler := api.NewRunHandler(app.workflowService)
	taskHandler := api.NewTaskHandler(app.workflowService)
	authMiddleware := apimiddleware.NewAuthMiddleware(app.jwtService)

	r.Route("/api", func(r chi.Router) {
		// Authentication endpoints (public)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.RefreshToken)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			// Workflow run endpoints
			r.Post("/runs", runHandler.CreateRun)
			r.Get("/runs", runHandler.ListRuns)
			r.Get("/runs/{id}", runHandler.GetRun)
			r.Post("/runs/{id}/pause", runHandler.PauseRun)
			r.Post("/runs/{id}/resume", runHandler.ResumeRun)
			r.Post("/runs/{id}/cancel", runHandler.CancelRun)
			r.Get("/runs/{id}/tasks", runHandler.ListTasks)
			r.Post("/runs/{id}/tasks", taskHandler.CreateTask)

			// Task intervention endpoints
			r.Get("/tasks/{id}", taskHandler.GetTask)
			r.Post("/tasks/{id}/unblock", taskHandler.UnblockTask)
			r.Post("/tasks/{id}/retry", taskHandler.RetryTask)
			r.Post("/tasks/{id}/complete", taskHandler.CompleteTask)
			r.Post("/tasks/{id}/fail", taskHandler.FailTask)
		})
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}

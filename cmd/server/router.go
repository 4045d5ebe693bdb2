package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/opqueue/internal/api"
	apiMiddleware "github.com/phrazzld/opqueue/internal/api/middleware"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	operationHandler := api.NewOperationHandler(app.queue, app.logger)
	queueHandler := api.NewQueueHandler(app.queue, app.logger)
	authMiddleware := apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)

	r.Route("/api", func(r chi.Router) {
		// Read endpoints (public)
		r.Get("/state", queueHandler.State)
		r.Get("/operations/{id}/result", operationHandler.Result)

		// Mutating endpoints
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/operations", operationHandler.Enqueue)
			r.Delete("/operations/{id}", operationHandler.Remove)
			r.Post("/operations/{id}/promote", operationHandler.Promote)

			r.Post("/groups/{correlationID}/promote", operationHandler.PromoteGroup)
			r.Delete("/groups/{correlationID}", operationHandler.RemoveGroup)

			r.Post("/queue/clear-completed", queueHandler.ClearCompleted)
			r.Post("/queue/pause", queueHandler.Pause)
			r.Post("/queue/resume", queueHandler.Resume)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}

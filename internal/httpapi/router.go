package httpapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/queuectl/jobrunner/internal/runner"
)

// NewRouter mounts the full HTTP surface of spec.md §6.4 over r.
func NewRouter(r *runner.Runner) *chi.Mux {
	a := &api{runner: r}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)

	mux.Post("/run", a.handleRun)
	mux.Get("/jobs/{id}", a.handleGetJob)
	mux.Get("/jobs/{id}/logs", a.handleGetJobLogs)
	mux.Post("/jobs/{id}/cancel", a.handleCancel)
	mux.Get("/healthz", HealthHandler)

	return mux
}

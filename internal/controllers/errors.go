package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/RealZimboGuy/rpaflow/internal/definition"
	"github.com/RealZimboGuy/rpaflow/internal/engine"
	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/moogar0880/problems"
)

func writeProblem(w http.ResponseWriter, r *http.Request, status int, problemType, detail string) {
	problem := problems.NewStatusProblem(status).
		WithInstance(r.URL.Path).
		WithType(problemType).
		WithDetail(detail)
	util.WriteProblemResponse(w, status, problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusBadRequest, "validation_error", detail)
}

func notFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, r, http.StatusNotFound, "not_found", detail)
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	slog.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "method", r.Method, "error", err)
	writeProblem(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
}

// handleServiceError maps store, engine and definition errors to problems.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var defErr *definition.Error
	switch {
	case errors.As(err, &defErr):
		badRequest(w, r, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		notFound(w, r, err.Error())
	case errors.Is(err, repository.ErrWorkflowNameTaken):
		writeProblem(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, repository.ErrWorkflowReferenced):
		writeProblem(w, r, http.StatusConflict, "workflow_referenced", err.Error())
	case errors.Is(err, engine.ErrWorkflowDisabled):
		writeProblem(w, r, http.StatusConflict, "workflow_disabled", err.Error())
	case errors.Is(err, engine.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusServiceUnavailable, "queue_full", err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		writeProblem(w, r, http.StatusServiceUnavailable, "engine_unavailable", err.Error())
	default:
		internalError(w, r, err)
	}
}

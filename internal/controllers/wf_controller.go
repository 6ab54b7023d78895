package controllers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/definition"
	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
)

// WorkflowStore is the part of repository.WorkflowRepository the API uses.
type WorkflowStore interface {
	Create(ctx context.Context, wf *domain.Workflow) error
	Update(ctx context.Context, wf *domain.Workflow) error
	SetEnabled(ctx context.Context, id string, enabled bool) (*domain.Workflow, error)
	FindByID(ctx context.Context, id string) (*domain.Workflow, error)
	FindAll(ctx context.Context) ([]*domain.Workflow, error)
	Delete(ctx context.Context, id string) error
}

type RunCounter interface {
	CountByStatus(ctx context.Context, workflowID string) (map[domain.RunStatus]int, error)
}

// ScheduleTable keeps the scheduler in step with authoring.
type ScheduleTable interface {
	Upsert(wf *domain.Workflow) error
	Remove(workflowID string)
	Next(workflowID string) (time.Time, bool)
}

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	AuthController
	Workflows WorkflowStore
	Runs      RunCounter
	Catalog   definition.Catalog
	Schedules ScheduleTable
}

func NewWorkflowsController(auth AuthController, workflows WorkflowStore, runs RunCounter,
	catalog definition.Catalog, schedules ScheduleTable) *WorkflowsController {
	return &WorkflowsController{AuthController: auth, Workflows: workflows, Runs: runs, Catalog: catalog, Schedules: schedules}
}

func (c *WorkflowsController) response(wf *domain.Workflow) models.WorkflowApiResponse {
	resp := models.NewWorkflowApiResponse(wf)
	if c.Schedules != nil {
		if next, ok := c.Schedules.Next(wf.ID); ok {
			resp.NextRun = &next
		}
	}
	return resp
}

// readDefinition parses a JSON or YAML document body and validates it.
func (c *WorkflowsController) readDefinition(w http.ResponseWriter, r *http.Request) (*domain.Workflow, bool) {
	body, err := util.ReadBody(w, r)
	if err != nil {
		badRequest(w, r, err.Error())
		return nil, false
	}
	doc, err := definition.Parse(body)
	if err != nil {
		badRequest(w, r, err.Error())
		return nil, false
	}
	if err := doc.Validate(c.Catalog); err != nil {
		handleServiceError(w, r, err)
		return nil, false
	}
	wf, err := doc.Workflow()
	if err != nil {
		badRequest(w, r, err.Error())
		return nil, false
	}
	return wf, true
}

func (c *WorkflowsController) syncSchedule(ctx context.Context, wf *domain.Workflow) {
	if c.Schedules == nil {
		return
	}
	if err := c.Schedules.Upsert(wf); err != nil {
		slog.WarnContext(ctx, "Could not schedule workflow", "workflow_id", wf.ID, "schedule", wf.Schedule, "error", err)
	}
}

func (c *WorkflowsController) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := c.Workflows.FindAll(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := make([]models.WorkflowApiResponse, 0, len(workflows))
	for _, wf := range workflows {
		out = append(out, c.response(wf))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, ok := c.readDefinition(w, r)
	if !ok {
		return
	}
	if err := c.Workflows.Create(r.Context(), wf); err != nil {
		handleServiceError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Workflow created", "workflow_id", wf.ID, "name", wf.Name)
	c.syncSchedule(r.Context(), wf)
	util.WriteJSONResponse(w, http.StatusCreated, c.response(wf))
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := c.Workflows.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	resp := c.response(wf)
	if c.Runs != nil {
		counts, err := c.Runs.CountByStatus(r.Context(), wf.ID)
		if err != nil {
			internalError(w, r, err)
			return
		}
		resp.RunCounts = counts
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}

func (c *WorkflowsController) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, ok := c.readDefinition(w, r)
	if !ok {
		return
	}
	wf.ID = id
	if err := c.Workflows.Update(r.Context(), wf); err != nil {
		handleServiceError(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "Workflow updated", "workflow_id", wf.ID, "version", wf.Version)
	c.syncSchedule(r.Context(), wf)
	stored, err := c.Workflows.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, c.response(stored))
}

func (c *WorkflowsController) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := c.Workflows.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, err)
		return
	}
	if c.Schedules != nil {
		c.Schedules.Remove(id)
	}
	slog.InfoContext(r.Context(), "Workflow deleted", "workflow_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (c *WorkflowsController) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wf, err := c.Workflows.SetEnabled(r.Context(), r.PathValue("id"), enabled)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		slog.InfoContext(r.Context(), "Workflow enabled flag changed", "workflow_id", wf.ID, "enabled", enabled, "version", wf.Version)
		c.syncSchedule(r.Context(), wf)
		util.WriteJSONResponse(w, http.StatusOK, c.response(wf))
	}
}

package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/events"
	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
)

const (
	defaultWaitSeconds = 30
	maxWaitSeconds     = 300
)

// RunEngine is the part of engine.Engine the API drives.
type RunEngine interface {
	Submit(ctx context.Context, workflowID string, trigger domain.Trigger) (*domain.Run, error)
	Cancel(runID string) bool
	Wait(ctx context.Context, runID string) (*domain.Run, error)
}

type RunStore interface {
	FindByID(ctx context.Context, id string) (*domain.Run, error)
	Search(ctx context.Context, filter repository.RunFilter) ([]*domain.Run, error)
}

// CompletionWaiter delivers the completion event of a run; events.Waiter implements it.
type CompletionWaiter interface {
	Wait(ctx context.Context, runID string) (events.RunEvent, error)
	Close()
}

type WaiterFactory func(ctx context.Context) (CompletionWaiter, error)

type RunsController struct {
	AuthController
	Engine  RunEngine
	Runs    RunStore
	Waiters WaiterFactory
}

func NewRunsController(auth AuthController, eng RunEngine, runs RunStore, waiters WaiterFactory) *RunsController {
	return &RunsController{AuthController: auth, Engine: eng, Runs: runs, Waiters: waiters}
}

func (c *RunsController) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	run, err := c.Engine.Submit(r.Context(), r.PathValue("id"), domain.TriggerAPI)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/runs/"+run.ID)
	util.WriteJSONResponse(w, http.StatusAccepted, models.NewRunApiResponse(run))
}

// handleRunAndWait submits a run and blocks until it is terminal or the wait
// expires. An expired wait answers 202 with the run as it stands.
func (c *RunsController) handleRunAndWait(w http.ResponseWriter, r *http.Request) {
	req := models.RunAndWaitRequest{WaitSeconds: defaultWaitSeconds}
	if r.ContentLength != 0 {
		decoded, err := util.DecodeJSONBody[models.RunAndWaitRequest](w, r)
		if err != nil && !errors.Is(err, util.ErrEmptyBody) {
			badRequest(w, r, "invalid JSON payload: "+err.Error())
			return
		}
		if decoded.WaitSeconds > 0 {
			req.WaitSeconds = decoded.WaitSeconds
		}
	}
	if req.WaitSeconds > maxWaitSeconds {
		badRequest(w, r, "waitSeconds must be at most "+strconv.Itoa(maxWaitSeconds))
		return
	}

	waitCtx, cancel := context.WithTimeout(r.Context(), time.Duration(req.WaitSeconds)*time.Second)
	defer cancel()

	// subscribe before submitting so a fast run cannot finish unseen
	var waiter CompletionWaiter
	if c.Waiters != nil {
		var err error
		if waiter, err = c.Waiters(waitCtx); err != nil {
			internalError(w, r, err)
			return
		}
		defer waiter.Close()
	}

	run, err := c.Engine.Submit(r.Context(), r.PathValue("id"), domain.TriggerAPI)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if waiter != nil {
		_, err = waiter.Wait(waitCtx, run.ID)
	} else {
		_, err = c.Engine.Wait(waitCtx, run.ID)
	}
	status := http.StatusOK
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			internalError(w, r, err)
			return
		}
		slog.InfoContext(r.Context(), "runAndWait timed out", "run_id", run.ID, "wait_seconds", req.WaitSeconds)
		status = http.StatusAccepted
	}

	stored, err := c.Runs.FindByID(r.Context(), run.ID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, status, models.NewRunApiResponse(stored))
}

func (c *RunsController) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := c.Runs.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.NewRunApiResponse(run))
}

func (c *RunsController) handleSearchRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repository.RunFilter{
		WorkflowID: q.Get("workflowId"),
		Status:     domain.RunStatus(q.Get("status")),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, r, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	runs, err := c.Runs.Search(r.Context(), filter)
	if err != nil {
		internalError(w, r, err)
		return
	}
	resp := models.RunSearchApiResponse{Runs: make([]models.RunApiResponse, 0, len(runs)), Limit: filter.Limit, Offset: filter.Offset}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, models.NewRunApiResponse(run))
	}
	util.WriteJSONResponse(w, http.StatusOK, resp)
}

func (c *RunsController) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if c.Engine.Cancel(id) {
		util.WriteJSONResponse(w, http.StatusAccepted, models.CancelRunResponse{Cancelled: true})
		return
	}
	run, err := c.Runs.FindByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	detail := "run is not active on this executor"
	if run.Status.Terminal() {
		detail = "run already finished with status " + string(run.Status)
	}
	writeProblem(w, r, http.StatusConflict, "run_not_active", detail)
}

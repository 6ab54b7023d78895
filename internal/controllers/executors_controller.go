package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
)

type ExecutorStore interface {
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

type ExecutorsController struct {
	AuthController
	ExecutorsRepo ExecutorStore
}

func NewExecutorsController(auth AuthController, executors ExecutorStore) *ExecutorsController {
	return &ExecutorsController{AuthController: auth, ExecutorsRepo: executors}
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			badRequest(w, r, "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	results, err := c.ExecutorsRepo.GetExecutorsByLastActive(r.Context(), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	out := make([]models.ExecutorApiResponse, 0, len(results))
	for _, e := range results {
		out = append(out, models.ExecutorApiResponse{ID: e.ID, Name: e.Name, Started: e.Started, LastActive: e.LastActive})
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

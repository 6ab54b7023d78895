package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
)

// ActionCatalog lists registered action types; *action.Registry satisfies it.
type ActionCatalog interface {
	Types() []string
	Resolve(actionType string) (action.Handler, error)
}

type ActionsController struct {
	AuthController
	Catalog ActionCatalog
}

func NewActionsController(auth AuthController, catalog ActionCatalog) *ActionsController {
	return &ActionsController{AuthController: auth, Catalog: catalog}
}

func (c *ActionsController) handleListActions(w http.ResponseWriter, r *http.Request) {
	types := c.Catalog.Types()
	results := make([]models.ActionApiResponse, 0, len(types))
	for _, t := range types {
		h, err := c.Catalog.Resolve(t)
		if err != nil {
			continue
		}
		item := models.ActionApiResponse{Type: t, Idempotent: h.Idempotent()}
		if d, ok := h.(action.Describer); ok {
			item.Description = d.Description()
			var schema any
			if err := json.Unmarshal([]byte(d.ParamsSchema()), &schema); err == nil {
				item.ParamsSchema = schema
			}
		}
		results = append(results, item)
	}
	util.WriteJSONResponse(w, http.StatusOK, results)
}

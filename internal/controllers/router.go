package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workflows", c.RequireAuth(c.handleListWorkflows))
	mux.HandleFunc("POST /api/workflows", c.RequireAuth(c.handleCreateWorkflow))
	mux.HandleFunc("GET /api/workflows/{id}", c.RequireAuth(c.handleGetWorkflow))
	mux.HandleFunc("PUT /api/workflows/{id}", c.RequireAuth(c.handleUpdateWorkflow))
	mux.HandleFunc("DELETE /api/workflows/{id}", c.RequireAuth(c.handleDeleteWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/enable", c.RequireAuth(c.handleSetEnabled(true)))
	mux.HandleFunc("POST /api/workflows/{id}/disable", c.RequireAuth(c.handleSetEnabled(false)))
}
func (c *RunsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows/{id}/runs", c.RequireAuth(c.handleSubmitRun))
	mux.HandleFunc("POST /api/workflows/{id}/runAndWait", c.RequireAuth(c.handleRunAndWait))
	mux.HandleFunc("GET /api/runs", c.RequireAuth(c.handleSearchRuns))
	mux.HandleFunc("GET /api/runs/{id}", c.RequireAuth(c.handleGetRun))
	mux.HandleFunc("POST /api/runs/{id}/cancel", c.RequireAuth(c.handleCancelRun))
}
func (c *ActionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions", c.RequireAuth(c.handleListActions))
}
func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireAuth(c.handleGetExecutors))
}

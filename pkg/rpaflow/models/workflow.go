package models

import (
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/definition"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// WorkflowApiResponse is a stored workflow with its definition document.
type WorkflowApiResponse struct {
	ID         string                   `json:"id"`
	Version    int                      `json:"version"`
	Created    time.Time                `json:"created"`
	Updated    time.Time                `json:"updated"`
	NextRun    *time.Time               `json:"nextRun,omitempty"`
	Definition *definition.Document     `json:"definition"`
	RunCounts  map[domain.RunStatus]int `json:"runCounts,omitempty"`
}

func NewWorkflowApiResponse(wf *domain.Workflow) WorkflowApiResponse {
	return WorkflowApiResponse{
		ID:         wf.ID,
		Version:    wf.Version,
		Created:    wf.Created,
		Updated:    wf.Updated,
		Definition: definition.FromWorkflow(wf),
	}
}

// ActionApiResponse describes one registered action type.
type ActionApiResponse struct {
	Type         string `json:"type"`
	Description  string `json:"description,omitempty"`
	ParamsSchema any    `json:"paramsSchema,omitempty"`
	Idempotent   bool   `json:"idempotent"`
}

type ExecutorApiResponse struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Started    time.Time `json:"started"`
	LastActive time.Time `json:"lastActive"`
}

package models

import (
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// RunAndWaitRequest is the optional body of runAndWait; the wait defaults to 30 seconds.
type RunAndWaitRequest struct {
	WaitSeconds int `json:"waitSeconds"`
}

type StepResultApiResponse struct {
	Index     int            `json:"index"`
	StepID    string         `json:"stepId"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Attempts  int            `json:"attempts"`
	Output    map[string]any `json:"output,omitempty"`
	ErrorKind string         `json:"errorKind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Started   time.Time      `json:"started"`
	Ended     time.Time      `json:"ended"`
}

type RunApiResponse struct {
	ID              string                  `json:"id"`
	WorkflowID      string                  `json:"workflowId"`
	WorkflowName    string                  `json:"workflowName"`
	WorkflowVersion int                     `json:"workflowVersion"`
	Trigger         string                  `json:"trigger"`
	TriggerData     map[string]any          `json:"triggerData,omitempty"`
	Status          string                  `json:"status"`
	Created         time.Time               `json:"created"`
	Started         *time.Time              `json:"started,omitempty"`
	Ended           *time.Time              `json:"ended,omitempty"`
	ExecutorID      *int64                  `json:"executorId,omitempty"`
	Error           string                  `json:"error,omitempty"`
	Steps           []StepResultApiResponse `json:"steps,omitempty"`
}

func NewRunApiResponse(run *domain.Run) RunApiResponse {
	out := RunApiResponse{
		ID:              run.ID,
		WorkflowID:      run.WorkflowID,
		WorkflowName:    run.WorkflowName,
		WorkflowVersion: run.WorkflowVersion,
		Trigger:         string(run.Trigger),
		TriggerData:     run.TriggerData,
		Status:          string(run.Status),
		Created:         run.Created,
	}
	if run.Started.Valid {
		out.Started = &run.Started.Time
	}
	if run.Ended.Valid {
		out.Ended = &run.Ended.Time
	}
	if run.ExecutorID.Valid {
		out.ExecutorID = &run.ExecutorID.Int64
	}
	if run.Error.Valid {
		out.Error = run.Error.String
	}
	for _, sr := range run.StepResults {
		out.Steps = append(out.Steps, StepResultApiResponse{
			Index:     sr.StepIndex,
			StepID:    sr.StepID,
			Action:    sr.Action,
			Status:    string(sr.Status),
			Attempts:  sr.Attempts,
			Output:    sr.Output,
			ErrorKind: string(sr.ErrorKind),
			Error:     sr.Error,
			Started:   sr.Started,
			Ended:     sr.Ended,
		})
	}
	return out
}

type RunSearchApiResponse struct {
	Runs   []RunApiResponse `json:"runs"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
}

type CancelRunResponse struct {
	Cancelled bool `json:"cancelled"`
}

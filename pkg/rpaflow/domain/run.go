package domain

import (
	"database/sql"
	"time"
)

type RunStatus string

const (
	RunPending            RunStatus = "PENDING"
	RunRunning            RunStatus = "RUNNING"
	RunSucceeded          RunStatus = "SUCCEEDED"
	RunFailed             RunStatus = "FAILED"
	RunPartiallySucceeded RunStatus = "PARTIALLY_SUCCEEDED"
	RunCancelled          RunStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSucceeded, RunFailed, RunPartiallySucceeded, RunCancelled:
		return true
	}
	return false
}

type StepStatus string

const (
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
)

type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindValidation    ErrorKind = "validation"
	ErrorKindExecution     ErrorKind = "execution"
	ErrorKindTimeout       ErrorKind = "timeout"
	ErrorKindUnknownAction ErrorKind = "unknown_action"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerAPI      Trigger = "api"
	TriggerFile     Trigger = "file"
)

type Run struct {
	ID              string
	WorkflowID      string
	WorkflowVersion int
	WorkflowName    string
	Trigger         Trigger
	TriggerData     map[string]any // event details, such as the path of a file event
	Status          RunStatus
	Created         time.Time
	Started         sql.NullTime
	Ended           sql.NullTime
	ExecutorID      sql.NullInt64
	Error           sql.NullString
	StepResults     []StepResult
}

type StepResult struct {
	RunID     string
	StepIndex int
	StepID    string
	Action    string
	Attempts  int
	Status    StepStatus
	Output    map[string]any
	ErrorKind ErrorKind
	Error     string
	Started   time.Time
	Ended     time.Time
}

// Retried reports whether the step needed more than one attempt.
func (r StepResult) Retried() bool {
	return r.Attempts > 1
}

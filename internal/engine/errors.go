package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrQueueFull        = errors.New("run queue is full")
	ErrWorkflowDisabled = errors.New("workflow is disabled")
	ErrNotRunning       = errors.New("engine is not running")
	ErrAlreadyStarted   = errors.New("engine already started")
	errCancelled        = errors.New("run cancelled")
)

// TimeoutError reports that a run used up its time budget.
type TimeoutError struct {
	Timeout time.Duration
	StepID  string
}

func (e *TimeoutError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("run exceeded its timeout of %s", e.Timeout)
	}
	return fmt.Sprintf("run exceeded its timeout of %s during step %s", e.Timeout, e.StepID)
}

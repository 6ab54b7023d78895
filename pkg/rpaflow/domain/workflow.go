package domain

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

type BackoffShape string

const (
	BackoffExponential BackoffShape = "exponential"
	BackoffLinear      BackoffShape = "linear"
	BackoffConstant    BackoffShape = "constant"
)

const (
	DefaultMaxAttempts     = 1
	DefaultInitialInterval = 1 * time.Second
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
)

// Workflow is the current definition of a workflow. Every edit bumps Version.
type Workflow struct {
	ID          string
	Name        string
	Description string
	Version     int
	Schedule    string        // cron expression, empty means manual only
	Timeout     time.Duration // run level budget, zero uses the engine default
	Enabled     bool
	Watch       *Watch // nil means no filesystem trigger
	Steps       []Step
	Created     time.Time
	Updated     time.Time
}

type WatchEvent string

const (
	WatchCreated  WatchEvent = "created"
	WatchModified WatchEvent = "modified"
	WatchDeleted  WatchEvent = "deleted"
	WatchRenamed  WatchEvent = "renamed"
)

// DefaultWatchEvents apply when a watch lists no events.
var DefaultWatchEvents = []WatchEvent{WatchCreated, WatchModified}

// Watch fires a workflow when files change under Paths.
type Watch struct {
	Paths     []string
	Recursive bool
	Patterns  []string // globs matched against the file name, none matches every file
	Events    []WatchEvent
	Debounce  time.Duration // repeated events for one file within this window fire once
}

// Matches reports whether an event of kind ev on path fires the watch.
func (w *Watch) Matches(ev WatchEvent, path string) bool {
	events := w.Events
	if len(events) == 0 {
		events = DefaultWatchEvents
	}
	if !slices.Contains(events, ev) {
		return false
	}
	if !w.Covers(path) {
		return false
	}
	if len(w.Patterns) == 0 {
		return true
	}
	name := filepath.Base(path)
	for _, p := range w.Patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Covers reports whether path lies directly in a watched directory, or below
// one when the watch is recursive.
func (w *Watch) Covers(path string) bool {
	path = filepath.Clean(path)
	for _, root := range w.Paths {
		root = filepath.Clean(root)
		if filepath.Dir(path) == root {
			return true
		}
		if w.Recursive && strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

type Step struct {
	ID              string
	Action          string
	Params          map[string]any
	// Retry bounds the attempts of a failing step. A handler that is not
	// idempotent runs once whatever MaxAttempts says, unless it marks the
	// error with action.Retryable.
	Retry           RetryPolicy
	ContinueOnError bool
	Timeout         time.Duration // per attempt, zero means no limit
}

type RetryPolicy struct {
	MaxAttempts     int
	Backoff         BackoffShape
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Normalized fills in the defaults for every unset field.
func (p RetryPolicy) Normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// ScheduleEnabled reports whether the scheduler should fire this workflow.
func (w *Workflow) ScheduleEnabled() bool {
	return w.Enabled && w.Schedule != ""
}

// WatchEnabled reports whether filesystem events should fire this workflow.
func (w *Workflow) WatchEnabled() bool {
	return w.Enabled && w.Watch != nil && len(w.Watch.Paths) > 0
}

// StepIDOrDefault returns the step id, or step-<n> for an unnamed step.
func StepIDOrDefault(step Step, index int) string {
	if step.ID != "" {
		return step.ID
	}
	return fmt.Sprintf("step-%d", index+1)
}

// CloneSteps copies the step list so a run never sees later edits.
func (w *Workflow) CloneSteps() []Step {
	out := make([]Step, len(w.Steps))
	for i, s := range w.Steps {
		params := make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		s.Params = params
		s.ID = StepIDOrDefault(s, i)
		out[i] = s
	}
	return out
}

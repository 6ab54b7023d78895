package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/template"
	"github.com/RealZimboGuy/rpaflow/internal/tracing"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// runHandle tracks one accepted run from Submit until it is recorded.
type runHandle struct {
	run      *domain.Run
	workflow *domain.Workflow

	cancelOnce sync.Once
	cancel     chan struct{}
	done       chan struct{}
	result     *domain.Run
	err        error
}

func newRunHandle(run *domain.Run, wf *domain.Workflow) *runHandle {
	return &runHandle{
		run:      run,
		workflow: wf,
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (h *runHandle) requestCancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *runHandle) cancelled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

func (h *runHandle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

type stepOutcome int

const (
	stepSucceeded stepOutcome = iota
	stepFailed
	stepTimedOut
	stepCancelled
)

// runExecutor walks the steps of a single run. It never runs two steps of
// the same run concurrently.
type runExecutor struct {
	registry       *action.Registry
	runs           RunRepo
	clock          core.Clock
	tracer         trace.Tracer
	events         Publisher
	defaultTimeout time.Duration

	recordAttempts int
	recordInterval time.Duration
}

func (x *runExecutor) logger(ctx context.Context, run *domain.Run) *slog.Logger {
	return slog.Default().With(
		"run_id", run.ID,
		"workflow_id", run.WorkflowID,
		"worker_id", core.WorkerID(ctx),
	)
}

// execute drives the run to a terminal status and records it. It returns the
// recorded run, or an error when no terminal status could be stored.
func (x *runExecutor) execute(ctx context.Context, h *runHandle) (*domain.Run, error) {
	run := h.run
	log := x.logger(ctx, run)

	if h.cancelled() {
		return x.abandon(ctx, h, errCancelled)
	}

	started := x.clock.Now().UTC()
	if err := x.runs.MarkRunning(ctx, run.ID, started); err != nil {
		log.Error("Unable to mark run as running", "error", err)
		run.Status = domain.RunFailed
		run.Error = sql.NullString{String: fmt.Sprintf("could not start run: %v", err), Valid: true}
		return x.complete(ctx, h, log)
	}
	run.Status = domain.RunRunning
	run.Started = sql.NullTime{Time: started, Valid: true}
	x.events.RunStarted(ctx, run)

	timeout := h.workflow.Timeout
	if timeout <= 0 {
		timeout = x.defaultTimeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	runCtx, span := tracing.StartSpan(runCtx, x.tracer, "rpaflow.run",
		attribute.String(tracing.RunIDKey, run.ID),
		attribute.String(tracing.WorkflowIDKey, run.WorkflowID),
		attribute.String(tracing.WorkflowNameKey, run.WorkflowName),
		attribute.String(tracing.TriggerKey, string(run.Trigger)),
		attribute.Int(tracing.WorkerIDKey, core.WorkerID(ctx)),
	)
	defer span.End()

	log.Info("Run started", "workflow", run.WorkflowName, "version", run.WorkflowVersion, "steps", len(h.workflow.Steps))

	steps := h.workflow.CloneSteps()
	outputs := make(map[string]map[string]any, len(steps))
	results := make([]domain.StepResult, 0, len(steps))
	var (
		succeeded, failed int
		aborted           bool
		cancelled         bool
		runErr            error
	)

	for i, step := range steps {
		if h.cancelled() {
			cancelled = true
			break
		}
		if runCtx.Err() != nil {
			res, outcome, err := x.interrupted(runCtx, run, i, step, timeout)
			if outcome == stepCancelled {
				cancelled = true
				break
			}
			results = append(results, res)
			aborted, runErr = true, err
			break
		}

		res, outcome, err := x.executeStep(runCtx, h, i, step, outputs, timeout)
		results = append(results, res)

		switch outcome {
		case stepSucceeded:
			succeeded++
			outputs[step.ID] = res.Output
			continue
		case stepCancelled:
			cancelled = true
		case stepTimedOut:
			aborted, runErr = true, err
		case stepFailed:
			failed++
			if step.ContinueOnError {
				log.Warn("Step failed, continuing", "step_id", step.ID, "error", res.Error)
				continue
			}
			aborted, runErr = true, fmt.Errorf("step %s: %w", step.ID, err)
		}
		break
	}

	run.StepResults = results
	switch {
	case cancelled:
		run.Status = domain.RunCancelled
		runErr = errCancelled
	case aborted:
		run.Status = domain.RunFailed
	case failed == 0:
		run.Status = domain.RunSucceeded
	case succeeded > 0:
		run.Status = domain.RunPartiallySucceeded
	default:
		run.Status = domain.RunFailed
		runErr = errors.New("every step failed")
	}
	if runErr != nil {
		run.Error = sql.NullString{String: runErr.Error(), Valid: true}
		if run.Status != domain.RunCancelled {
			tracing.SetError(span, runErr)
		}
	}
	span.SetAttributes(attribute.String("rpaflow.run.status", string(run.Status)))
	return x.complete(ctx, h, log)
}

// interrupted records the step that would have run when the run context is
// already done before it starts.
func (x *runExecutor) interrupted(runCtx context.Context, run *domain.Run, index int, step domain.Step, timeout time.Duration) (domain.StepResult, stepOutcome, error) {
	if !errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return domain.StepResult{}, stepCancelled, errCancelled
	}
	now := x.clock.Now().UTC()
	terr := &TimeoutError{Timeout: timeout, StepID: step.ID}
	return domain.StepResult{
		RunID:     run.ID,
		StepIndex: index,
		StepID:    step.ID,
		Action:    step.Action,
		Status:    domain.StepFailed,
		ErrorKind: domain.ErrorKindTimeout,
		Error:     terr.Error(),
		Started:   now,
		Ended:     now,
	}, stepTimedOut, terr
}

// abandon records a run that never started as CANCELLED.
func (x *runExecutor) abandon(ctx context.Context, h *runHandle, reason error) (*domain.Run, error) {
	log := x.logger(ctx, h.run)
	log.Info("Run cancelled before start", "reason", reason)
	h.run.Status = domain.RunCancelled
	h.run.Error = sql.NullString{String: reason.Error(), Valid: true}
	return x.complete(ctx, h, log)
}

// complete stores the terminal run. When the result cannot be stored the run
// is recorded as FAILED without step outputs instead, so it never stays
// RUNNING behind a live heartbeat.
func (x *runExecutor) complete(ctx context.Context, h *runHandle, log *slog.Logger) (*domain.Run, error) {
	run := h.run
	run.Ended = sql.NullTime{Time: x.clock.Now().UTC(), Valid: true}
	// the outcome is recorded even when the engine is shutting down
	recordCtx := context.WithoutCancel(ctx)
	if err := x.record(recordCtx, run); err != nil {
		log.Error("Failed to record run result, recording it as failed", "status", run.Status, "error", err)
		run.Status = domain.RunFailed
		run.Error = sql.NullString{String: fmt.Sprintf("could not record run result: %v", err), Valid: true}
		for i := range run.StepResults {
			run.StepResults[i].Output = nil
		}
		if ferr := x.record(recordCtx, run); ferr != nil {
			log.Error("Failed to record run failure", "error", ferr)
			return nil, fmt.Errorf("record run %s: %w", run.ID, errors.Join(err, ferr))
		}
	}
	log.Info("Run finished", "status", run.Status, "steps", len(run.StepResults))
	x.events.RunCompleted(ctx, run)
	return run, nil
}

// record calls Complete up to recordAttempts times with a doubling pause.
func (x *runExecutor) record(ctx context.Context, run *domain.Run) error {
	attempts := max(x.recordAttempts, 1)
	interval := x.recordInterval
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			<-x.clock.After(interval)
			interval *= 2
		}
		if err = x.runs.Complete(ctx, run); err == nil {
			return nil
		}
	}
	return err
}

func (x *runExecutor) executeStep(runCtx context.Context, h *runHandle, index int, step domain.Step,
	outputs map[string]map[string]any, timeout time.Duration) (domain.StepResult, stepOutcome, error) {

	run := h.run
	log := x.logger(runCtx, run).With("step_id", step.ID, "action", step.Action)
	res := domain.StepResult{
		RunID:     run.ID,
		StepIndex: index,
		StepID:    step.ID,
		Action:    step.Action,
		Started:   x.clock.Now().UTC(),
	}
	fail := func(kind domain.ErrorKind, err error) {
		res.Status = domain.StepFailed
		res.ErrorKind = kind
		res.Error = err.Error()
		res.Ended = x.clock.Now().UTC()
	}

	handler, err := x.registry.Resolve(step.Action)
	if err != nil {
		fail(domain.ErrorKindUnknownAction, err)
		return res, stepFailed, err
	}

	params, err := template.RenderParams(step.Params, template.Context{
		Steps:       outputs,
		Workflow:    map[string]any{"id": run.WorkflowID, "name": run.WorkflowName, "version": run.WorkflowVersion},
		Run:         map[string]any{"id": run.ID, "trigger": string(run.Trigger)},
		Trigger:     string(run.Trigger),
		TriggerData: run.TriggerData,
		Now:         x.clock.Now(),
	})
	if err != nil {
		verr := &action.ValidationError{Action: step.Action, Message: err.Error(), Cause: err}
		fail(domain.ErrorKindValidation, verr)
		return res, stepFailed, verr
	}
	if err := handler.Validate(action.Params(params)); err != nil {
		fail(domain.ErrorKindValidation, err)
		return res, stepFailed, err
	}

	state := newRetryState(step.Retry)
	for {
		attempt := state.begin()
		res.Attempts = attempt

		out, err := x.attempt(runCtx, handler, params, step, action.ExecutionContext{
			RunID:       run.ID,
			WorkflowID:  run.WorkflowID,
			StepID:      step.ID,
			Attempt:     attempt,
			MaxAttempts: state.policy.MaxAttempts,
			Logger:      log.With("attempt", attempt),
		})
		if err == nil {
			res.Status = domain.StepSucceeded
			res.Output = out
			res.Ended = x.clock.Now().UTC()
			log.Info("Step succeeded", "attempts", attempt)
			return res, stepSucceeded, nil
		}

		if runCtx.Err() != nil {
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				terr := &TimeoutError{Timeout: timeout, StepID: step.ID}
				fail(domain.ErrorKindTimeout, terr)
				return res, stepTimedOut, terr
			}
			fail(domain.ErrorKindExecution, err)
			return res, stepCancelled, errCancelled
		}
		if verr, ok := action.AsValidationError(err); ok {
			fail(domain.ErrorKindValidation, verr)
			return res, stepFailed, verr
		}

		kind := domain.ErrorKindExecution
		if errors.Is(err, context.DeadlineExceeded) {
			kind = domain.ErrorKindTimeout
		}
		if state.exhausted() || !shouldRetry(handler, err) {
			log.Warn("Step failed", "attempts", attempt, "error", err)
			fail(kind, err)
			return res, stepFailed, err
		}
		if h.cancelled() {
			fail(kind, err)
			return res, stepCancelled, errCancelled
		}

		delay := state.nextDelay()
		log.Info("Retrying step", "attempt", attempt, "delay", delay.String(), "error", err)
		select {
		case <-x.clock.After(delay):
		case <-h.cancel:
			fail(kind, err)
			return res, stepCancelled, errCancelled
		case <-runCtx.Done():
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				terr := &TimeoutError{Timeout: timeout, StepID: step.ID}
				fail(domain.ErrorKindTimeout, terr)
				return res, stepTimedOut, terr
			}
			fail(kind, err)
			return res, stepCancelled, errCancelled
		}
	}
}

type attemptResult struct {
	out action.Output
	err error
}

// attempt calls the handler once. A panic becomes an ExecutionError. When the
// run or attempt deadline passes the call is abandoned and its result dropped.
func (x *runExecutor) attempt(runCtx context.Context, handler action.Handler, params map[string]any,
	step domain.Step, ec action.ExecutionContext) (map[string]any, error) {

	attemptCtx := runCtx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(runCtx, step.Timeout)
		defer cancel()
	}
	attemptCtx, span := tracing.StartSpan(attemptCtx, x.tracer, "rpaflow.step",
		attribute.String(tracing.StepIDKey, step.ID),
		attribute.String(tracing.ActionTypeKey, step.Action),
		attribute.Int(tracing.AttemptKey, ec.Attempt),
	)
	defer span.End()

	resCh := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- attemptResult{err: &action.ExecutionError{
					Action:  step.Action,
					Attempt: ec.Attempt,
					Cause:   fmt.Errorf("handler panicked: %v", r),
				}}
			}
		}()
		out, err := handler.Execute(attemptCtx, action.Params(params), ec)
		resCh <- attemptResult{out: out, err: err}
	}()

	var res attemptResult
	select {
	case res = <-resCh:
	case <-attemptCtx.Done():
		res = attemptResult{err: attemptCtx.Err()}
	}
	if res.err != nil {
		var execErr *action.ExecutionError
		if _, isValidation := action.AsValidationError(res.err); !isValidation && !errors.As(res.err, &execErr) {
			res.err = &action.ExecutionError{Action: step.Action, Attempt: ec.Attempt, Cause: res.err}
		}
		tracing.SetError(span, res.err)
		return nil, res.err
	}
	if res.out == nil {
		return map[string]any{}, nil
	}
	return map[string]any(res.out), nil
}

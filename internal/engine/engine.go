package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/internal/tracing"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Options size the worker pool and the background services.
type Options struct {
	Workers           int
	QueueSize         int
	RunTimeout        time.Duration
	HeartbeatInterval time.Duration
	StaleRunsInterval time.Duration
	StaleRunAfter     time.Duration
	WaitPollInterval  time.Duration
	ExecutorName      string
	// RecordAttempts bounds the tries to store a finished run, RecordInterval
	// is the first pause between them.
	RecordAttempts int
	RecordInterval time.Duration
}

// OptionsFromConfig reads the RPA_ENGINE_* settings.
func OptionsFromConfig() Options {
	return Options{
		Workers:           config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE),
		QueueSize:         config.GetSystemSettingInteger(config.ENGINE_QUEUE_SIZE),
		RunTimeout:        config.GetSystemSettingDuration(config.ENGINE_RUN_TIMEOUT),
		HeartbeatInterval: config.GetSystemSettingDuration(config.ENGINE_HEARTBEAT_INTERVAL),
		StaleRunsInterval: config.GetSystemSettingDuration(config.ENGINE_STALE_RUNS_INTERVAL),
		StaleRunAfter:     time.Duration(config.GetSystemSettingInteger(config.ENGINE_STALE_RUN_MINUTES)) * time.Minute,
		ExecutorName:      config.GetSystemSettingString(config.EXECUTOR_NAME),
	}
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 5
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.StaleRunsInterval <= 0 {
		o.StaleRunsInterval = time.Minute
	}
	if o.StaleRunAfter <= 0 {
		o.StaleRunAfter = 5 * time.Minute
	}
	if o.WaitPollInterval <= 0 {
		o.WaitPollInterval = 500 * time.Millisecond
	}
	if o.RecordAttempts <= 0 {
		o.RecordAttempts = 3
	}
	if o.RecordInterval <= 0 {
		o.RecordInterval = 200 * time.Millisecond
	}
	return o
}

// Engine accepts runs, queues them and executes them on a bounded pool of
// workers. Runs execute in parallel; the steps of one run never do.
type Engine struct {
	registry  *action.Registry
	workflows WorkflowRepo
	runs      RunRepo
	executors ExecutorRepo
	clock     core.Clock
	opts      Options
	executor  *runExecutor

	mu         sync.Mutex
	queue      chan *runHandle
	active     map[string]*runHandle
	unrecorded map[string]error // runs whose outcome never reached the store
	reserved   int
	started    bool
	stopping   bool
	executorID int64

	workerCancel context.CancelFunc
	bgCancel     context.CancelFunc
	workers      sync.WaitGroup
	background   sync.WaitGroup
}

func NewEngine(registry *action.Registry, workflows WorkflowRepo, runs RunRepo, executors ExecutorRepo,
	clock core.Clock, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		registry:  registry,
		workflows: workflows,
		runs:      runs,
		executors: executors,
		clock:     clock,
		opts:      opts,
		executor: &runExecutor{
			registry:       registry,
			runs:           runs,
			clock:          clock,
			tracer:         tracing.Noop(),
			events:         nopPublisher{},
			defaultTimeout: opts.RunTimeout,
			recordAttempts: opts.RecordAttempts,
			recordInterval: opts.RecordInterval,
		},
		active:     make(map[string]*runHandle),
		unrecorded: make(map[string]error),
	}
}

// SetTracer replaces the no-op tracer. Call before Start.
func (e *Engine) SetTracer(tracer trace.Tracer) {
	e.executor.tracer = tracer
}

// SetPublisher installs the run lifecycle publisher. Call before Start.
func (e *Engine) SetPublisher(p Publisher) {
	e.executor.events = p
}

func (e *Engine) ExecutorID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executorID
}

// Start freezes the action registry, registers this executor and starts the
// workers, the heartbeat and the stale run recovery.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}
	e.registry.Freeze()

	if err := e.registerExecutorInstance(ctx); err != nil {
		return err
	}

	e.queue = make(chan *runHandle, e.opts.QueueSize)
	workerCtx, workerCancel := context.WithCancel(context.WithoutCancel(ctx))
	workerCtx = context.WithValue(workerCtx, core.CtxKeyExecutorId, e.executorID)
	e.workerCancel = workerCancel
	bgCtx, bgCancel := context.WithCancel(workerCtx)
	e.bgCancel = bgCancel

	slog.Info("Starting workflow engine", "workers", e.opts.Workers, "queue_size", e.opts.QueueSize, "executor_id", e.executorID)
	for i := 0; i < e.opts.Workers; i++ {
		e.workers.Add(1)
		go e.worker(workerCtx, i)
	}

	e.background.Add(2)
	go e.heartbeat(bgCtx)
	go e.staleRunService(bgCtx)

	e.started = true
	return nil
}

// Submit records a PENDING run for the workflow's current version and queues
// it. It fails fast with ErrQueueFull instead of blocking.
func (e *Engine) Submit(ctx context.Context, workflowID string, trigger domain.Trigger) (*domain.Run, error) {
	return e.submit(ctx, workflowID, trigger, nil, false)
}

// SubmitEvent is Submit for event triggers; data is stored with the run and
// visible to templates as .trigger.
func (e *Engine) SubmitEvent(ctx context.Context, workflowID string, trigger domain.Trigger, data map[string]any) (*domain.Run, error) {
	return e.submit(ctx, workflowID, trigger, data, false)
}

// SubmitManual queues a manual run even when the workflow is disabled. The
// stored enabled flag is not changed.
func (e *Engine) SubmitManual(ctx context.Context, workflowID string) (*domain.Run, error) {
	return e.submit(ctx, workflowID, domain.TriggerManual, nil, true)
}

func (e *Engine) submit(ctx context.Context, workflowID string, trigger domain.Trigger, data map[string]any,
	ignoreDisabled bool) (*domain.Run, error) {
	wf, err := e.workflows.FindByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if !wf.Enabled && !ignoreDisabled {
		return nil, ErrWorkflowDisabled
	}

	// a queue slot is reserved before the insert so the lock is not held
	// across the database write
	e.mu.Lock()
	if !e.started || e.stopping {
		e.mu.Unlock()
		return nil, ErrNotRunning
	}
	if len(e.queue)+e.reserved >= cap(e.queue) {
		e.mu.Unlock()
		return nil, ErrQueueFull
	}
	e.reserved++
	executorID := e.executorID
	e.mu.Unlock()

	run := &domain.Run{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		WorkflowName:    wf.Name,
		Trigger:         trigger,
		TriggerData:     data,
		Status:          domain.RunPending,
		Created:         e.clock.Now().UTC(),
		ExecutorID:      sql.NullInt64{Int64: executorID, Valid: true},
	}
	if err := e.runs.Create(ctx, run); err != nil {
		e.mu.Lock()
		e.reserved--
		e.mu.Unlock()
		return nil, fmt.Errorf("record run: %w", err)
	}

	h := newRunHandle(run, wf)
	snapshot := *run
	e.mu.Lock()
	e.reserved--
	if e.stopping {
		e.mu.Unlock()
		e.closeRejected(ctx, run)
		return nil, ErrNotRunning
	}
	e.active[run.ID] = h
	// the reserved slot guarantees room
	e.queue <- h
	e.mu.Unlock()
	slog.InfoContext(ctx, "Run submitted", "run_id", snapshot.ID, "workflow_id", wf.ID, "trigger", trigger)
	return &snapshot, nil
}

// Cancel signals a queued or running run to stop. The step in flight is not
// interrupted; no further step or retry starts. It reports whether the run
// was still active on this engine.
func (e *Engine) Cancel(runID string) bool {
	e.mu.Lock()
	h, ok := e.active[runID]
	e.mu.Unlock()
	if !ok || h.finished() {
		return false
	}
	h.requestCancel()
	slog.Info("Run cancellation requested", "run_id", runID)
	return true
}

// Wait blocks until the run is terminal and returns it as recorded. A run of
// this engine whose outcome could not be stored returns the store error.
func (e *Engine) Wait(ctx context.Context, runID string) (*domain.Run, error) {
	e.mu.Lock()
	h, ok := e.active[runID]
	lost := e.unrecorded[runID]
	e.mu.Unlock()
	if lost != nil {
		return nil, lost
	}
	if ok {
		select {
		case <-h.done:
			if h.err != nil {
				return nil, h.err
			}
			if h.result != nil {
				return h.result, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for {
		run, err := e.runs.FindByID(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() {
			return run, nil
		}
		select {
		case <-e.clock.After(e.opts.WaitPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Stop refuses new submissions, cancels queued runs that have not started
// and waits for the running ones. When ctx expires first the remaining runs
// are abandoned and recorded as CANCELLED.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.stopping {
		e.mu.Unlock()
		return nil
	}
	e.stopping = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Workflow engine stop deadline reached, abandoning running steps")
		e.workerCancel()
		<-done
		err = ctx.Err()
	}

	// the heartbeat keeps running while runs drain so no other executor recovers them
	e.bgCancel()
	e.background.Wait()
	e.workerCancel()
	slog.Info("Workflow engine stopped")
	return err
}

// closeRejected records a run that was stored but never queued because the
// engine began stopping during Submit.
func (e *Engine) closeRejected(ctx context.Context, run *domain.Run) {
	run.Status = domain.RunCancelled
	run.Error = sql.NullString{String: errEngineStopped.Error(), Valid: true}
	run.Ended = sql.NullTime{Time: e.clock.Now().UTC(), Valid: true}
	if err := e.runs.Complete(context.WithoutCancel(ctx), run); err != nil {
		slog.WarnContext(ctx, "Could not close rejected run", "run_id", run.ID, "error", err)
	}
}

func (e *Engine) isStopping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopping
}

func (e *Engine) release(h *runHandle, result *domain.Run, err error) {
	h.result, h.err = result, err
	close(h.done)
	e.mu.Lock()
	delete(e.active, h.run.ID)
	if err != nil {
		e.unrecorded[h.run.ID] = err
	}
	e.mu.Unlock()
}

// ActiveRuns returns the number of runs queued or executing on this engine.
func (e *Engine) ActiveRuns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

var errEngineStopped = errors.New("engine stopped before the run started")

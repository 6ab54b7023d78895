package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

func (e *Engine) registerExecutorInstance(ctx context.Context) error {
	name := e.opts.ExecutorName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "rpaflow-engine"
		} else {
			name = hostname
		}
	}
	now := e.clock.Now().UTC()
	exec := &domain.Executor{Name: name, Started: now, LastActive: now}
	id, err := e.executors.Save(ctx, exec)
	if err != nil {
		return fmt.Errorf("register executor: %w", err)
	}
	e.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name)
	return nil
}

// heartbeat keeps last_active fresh so other executors do not treat this
// one's runs as abandoned.
func (e *Engine) heartbeat(ctx context.Context) {
	defer e.background.Done()
	id := e.ExecutorID()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.clock.After(e.opts.HeartbeatInterval):
			if err := e.executors.UpdateLastActive(ctx, id, e.clock.Now().UTC()); err != nil {
				slog.Error("Failed to update executor last_active", "executor_id", id, "error", err)
			} else {
				slog.Debug("Updated executor last_active", "executor_id", id)
			}
		}
	}
}

// staleRunService finds runs left PENDING or RUNNING by executors that
// stopped sending heartbeats and records them as FAILED.
func (e *Engine) staleRunService(ctx context.Context) {
	defer e.background.Done()
	e.RecoverStaleRuns(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stale run service stopping due to context cancel")
			return
		case <-e.clock.After(e.opts.StaleRunsInterval):
			e.RecoverStaleRuns(ctx)
		}
	}
}

// RecoverStaleRuns runs one recovery pass and returns the number of runs closed.
func (e *Engine) RecoverStaleRuns(ctx context.Context) int {
	stale, err := e.runs.FindStale(ctx, e.opts.StaleRunAfter, 100)
	if err != nil {
		slog.Error("Error finding stale runs", "error", err)
		return 0
	}
	own := e.ExecutorID()
	recovered := 0
	for _, run := range stale {
		if run.ExecutorID.Valid && run.ExecutorID.Int64 == own {
			continue
		}
		reason := "abandoned before an executor claimed it"
		if run.ExecutorID.Valid {
			reason = fmt.Sprintf("abandoned by executor %d", run.ExecutorID.Int64)
		}
		slog.Warn("Recovering stale run", "run_id", run.ID, "workflow_id", run.WorkflowID, "status", run.Status, "reason", reason)

		run.Status = domain.RunFailed
		run.Error = sql.NullString{String: reason, Valid: true}
		run.Ended = sql.NullTime{Time: e.clock.Now().UTC(), Valid: true}
		run.StepResults = nil
		if err := e.runs.Complete(ctx, run); err != nil {
			slog.Warn("Could not close stale run", "run_id", run.ID, "error", err)
			continue
		}
		e.executor.events.RunCompleted(ctx, run)
		recovered++
	}
	return recovered
}

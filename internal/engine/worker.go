package engine

import (
	"context"
	"log/slog"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
)

// worker processes runs from the queue until it is closed.
func (e *Engine) worker(ctx context.Context, id int) {
	defer e.workers.Done()
	ctx = context.WithValue(ctx, core.CtxKeyWorkerId, id)
	for h := range e.queue { // blocks until a run arrives
		if e.isStopping() {
			run, err := e.executor.abandon(ctx, h, errEngineStopped)
			e.release(h, run, err)
			continue
		}
		slog.Debug("Worker starting run", "worker_id", id, "run_id", h.run.ID)
		run, err := e.executor.execute(ctx, h)
		e.release(h, run, err)
		slog.Debug("Worker finished run", "worker_id", id, "run_id", h.run.ID)
	}
}

package core

import "context"

type ctxKey string

const (
	CtxKeyExecutorId ctxKey = ctxKey("executorId")
	CtxKeyWorkerId   ctxKey = ctxKey("workerId")
)

// ExecutorID returns the executor id stored in ctx, or 0.
func ExecutorID(ctx context.Context) int64 {
	id, _ := ctx.Value(CtxKeyExecutorId).(int64)
	return id
}

// WorkerID returns the worker id stored in ctx, or -1 outside a worker.
func WorkerID(ctx context.Context) int {
	id, ok := ctx.Value(CtxKeyWorkerId).(int)
	if !ok {
		return -1
	}
	return id
}

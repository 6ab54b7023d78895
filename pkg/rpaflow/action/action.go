// Package action defines the contract between the execution engine and the
// handlers that perform the actual automation work.
package action

import (
	"context"
	"log/slog"
)

// Params are the rendered step parameters handed to a handler.
type Params map[string]any

// Output is the value a handler produces; later steps can reference it in
// their parameter templates as .steps.<step id>.<key>.
type Output map[string]any

// ExecutionContext describes the attempt being executed.
type ExecutionContext struct {
	RunID       string
	WorkflowID  string
	StepID      string
	Attempt     int
	MaxAttempts int
	Logger      *slog.Logger
}

// Handler is implemented by every action type.
//
// Validate must be free of side effects; it is called once per step before
// the first attempt. Execute may be called up to the step's max attempts.
// Idempotent declares whether repeating Execute with the same params is safe;
// non-idempotent handlers are only retried for errors marked with Retryable.
type Handler interface {
	Validate(params Params) error
	Execute(ctx context.Context, params Params, ec ExecutionContext) (Output, error)
	Idempotent() bool
}

// Describer can be implemented by handlers to expose a description and the
// JSON schema of their parameters through the API.
type Describer interface {
	Description() string
	ParamsSchema() string
}

// HandlerFunc adapts a plain function into an idempotent Handler without validation.
type HandlerFunc func(ctx context.Context, params Params, ec ExecutionContext) (Output, error)

func (f HandlerFunc) Validate(Params) error { return nil }

func (f HandlerFunc) Execute(ctx context.Context, params Params, ec ExecutionContext) (Output, error) {
	return f(ctx, params, ec)
}

func (f HandlerFunc) Idempotent() bool { return true }

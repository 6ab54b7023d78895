package actions

import (
	"context"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
)

const waitSchema = `{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h)([0-9]+(\\.[0-9]+)?(ns|us|ms|s|m|h))*$"}
  },
  "additionalProperties": false
}`

// WaitAction pauses the run, giving up early when the context ends.
type WaitAction struct {
	*action.SchemaValidator
	clock core.Clock
}

func NewWaitAction(clock core.Clock) *WaitAction {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &WaitAction{SchemaValidator: action.MustSchemaValidator(TypeWait, waitSchema), clock: clock}
}

func (a *WaitAction) Description() string { return "Pause for a fixed duration" }

func (a *WaitAction) Idempotent() bool { return true }

func (a *WaitAction) Execute(ctx context.Context, params action.Params, _ action.ExecutionContext) (action.Output, error) {
	d, err := durationParam(params, "duration")
	if err != nil {
		return nil, err
	}
	select {
	case <-a.clock.After(d):
		return action.Output{"waited": d.String()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

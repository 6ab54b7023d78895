package actions

import (
	"context"
	"log/slog"
	"strings"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
)

const logSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string", "minLength": 1},
    "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
    "fields": {"type": "object"}
  },
  "additionalProperties": false
}`

// LogAction writes a message to the run logger.
type LogAction struct {
	*action.SchemaValidator
}

func NewLogAction() *LogAction {
	return &LogAction{SchemaValidator: action.MustSchemaValidator(TypeLog, logSchema)}
}

func (a *LogAction) Description() string { return "Write a message to the engine log" }

func (a *LogAction) Idempotent() bool { return true }

func (a *LogAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	logger := ec.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(stringParam(params, "level")))); err != nil {
		level = slog.LevelInfo
	}
	attrs := []any{"step_id", ec.StepID}
	if fields, ok := params["fields"].(map[string]any); ok {
		for k, v := range fields {
			attrs = append(attrs, k, v)
		}
	}
	message := stringParam(params, "message")
	logger.Log(ctx, level, message, attrs...)
	return action.Output{"message": message, "level": strings.ToLower(level.String())}, nil
}

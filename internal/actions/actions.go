// Package actions holds the built-in action handlers.
package actions

import (
	"fmt"
	"net/http"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
)

const (
	TypeLog         = "log"
	TypeWait        = "wait"
	TypeFileCopy    = "file_copy"
	TypeFileMove    = "file_move"
	TypeFileDelete  = "file_delete"
	TypeFileRename  = "file_rename"
	TypeFileArchive = "file_archive"
	TypeHTTPRequest = "http_request"
)

// RegisterBuiltins adds every built-in handler to r. A nil client gets a
// default one with a 30 second timeout.
func RegisterBuiltins(r *action.Registry, clock core.Clock, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	handlers := map[string]action.Handler{
		TypeLog:         NewLogAction(),
		TypeWait:        NewWaitAction(clock),
		TypeFileCopy:    NewCopyAction(),
		TypeFileMove:    NewMoveAction(),
		TypeFileDelete:  NewDeleteAction(),
		TypeFileRename:  NewRenameAction(clock),
		TypeFileArchive: NewArchiveAction(clock),
		TypeHTTPRequest: NewHTTPRequestAction(client),
	}
	for _, name := range []string{TypeLog, TypeWait, TypeFileCopy, TypeFileMove, TypeFileDelete, TypeFileRename, TypeFileArchive, TypeHTTPRequest} {
		if err := r.Register(name, handlers[name]); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

func stringParam(p action.Params, key string) string {
	s, _ := p[key].(string)
	return s
}

func boolParam(p action.Params, key string) bool {
	b, _ := p[key].(bool)
	return b
}

// intParam accepts the number types produced by both JSON and YAML decoding.
func intParam(p action.Params, key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func durationParam(p action.Params, key string) (time.Duration, error) {
	s := stringParam(p, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, action.NewValidationError(key, err.Error())
	}
	return d, nil
}

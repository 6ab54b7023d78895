package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
)

const copySchema = `{
  "type": "object",
  "required": ["source", "destination"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "destination": {"type": "string", "minLength": 1},
    "overwrite": {"type": "boolean"}
  },
  "additionalProperties": false
}`

const deleteSchema = `{
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "toTrash": {"type": "boolean"},
    "missingOk": {"type": "boolean"}
  },
  "additionalProperties": false
}`

const renameSchema = `{
  "type": "object",
  "required": ["path", "pattern"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "pattern": {"type": "string", "minLength": 1, "not": {"pattern": "[/\\\\]"}}
  },
  "additionalProperties": false
}`

// sourceFile stats a regular file; a missing source is permanent.
func sourceFile(actionType, path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, action.Permanent(fmt.Errorf("%s: source file does not exist: %s", actionType, path))
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, action.Permanent(fmt.Errorf("%s: source is a directory: %s", actionType, path))
	}
	return info, nil
}

// destinationPath places the source file name inside the destination directory.
func destinationPath(actionType, source, destDir string, overwrite bool) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("%s: create destination: %w", actionType, err)
	}
	dest := filepath.Join(destDir, filepath.Base(source))
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return "", action.Permanent(fmt.Errorf("%s: destination already exists and overwrite is disabled: %s", actionType, dest))
		}
	}
	return dest, nil
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// CopyAction copies a file into a destination directory.
type CopyAction struct {
	*action.SchemaValidator
}

func NewCopyAction() *CopyAction {
	return &CopyAction{SchemaValidator: action.MustSchemaValidator(TypeFileCopy, copySchema)}
}

func (a *CopyAction) Description() string { return "Copy a file into a directory" }

func (a *CopyAction) Idempotent() bool { return true }

func (a *CopyAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	source := stringParam(params, "source")
	info, err := sourceFile(TypeFileCopy, source)
	if err != nil {
		return nil, err
	}
	// a retried attempt may overwrite its own earlier copy
	overwrite := boolParam(params, "overwrite") || ec.Attempt > 1
	dest, err := destinationPath(TypeFileCopy, source, stringParam(params, "destination"), overwrite)
	if err != nil {
		return nil, err
	}
	if err := copyFile(source, dest, info.Mode()); err != nil {
		return nil, fmt.Errorf("copy %s: %w", source, err)
	}
	if ec.Logger != nil {
		ec.Logger.InfoContext(ctx, "Copied file", "source", source, "destination", dest)
	}
	return action.Output{"path": dest, "source": source, "bytes": info.Size()}, nil
}

// MoveAction moves a file into a destination directory, copying across
// filesystems when a rename is not possible.
type MoveAction struct {
	*action.SchemaValidator
}

func NewMoveAction() *MoveAction {
	return &MoveAction{SchemaValidator: action.MustSchemaValidator(TypeFileMove, copySchema)}
}

func (a *MoveAction) Description() string { return "Move a file into a directory" }

func (a *MoveAction) Idempotent() bool { return false }

func (a *MoveAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	source := stringParam(params, "source")
	info, err := sourceFile(TypeFileMove, source)
	if err != nil {
		return nil, err
	}
	dest, err := destinationPath(TypeFileMove, source, stringParam(params, "destination"), boolParam(params, "overwrite"))
	if err != nil {
		if action.IsPermanent(err) {
			return nil, err
		}
		// nothing has been touched yet
		return nil, action.Retryable(err)
	}
	if err := os.Rename(source, dest); err != nil {
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) {
			return nil, fmt.Errorf("move %s: %w", source, err)
		}
		if err := copyFile(source, dest, info.Mode()); err != nil {
			return nil, fmt.Errorf("move %s: %w", source, err)
		}
		if err := os.Remove(source); err != nil {
			return nil, fmt.Errorf("move %s: remove source: %w", source, err)
		}
	}
	if ec.Logger != nil {
		ec.Logger.InfoContext(ctx, "Moved file", "source", source, "destination", dest)
	}
	return action.Output{"path": dest, "source": source}, nil
}

// DeleteAction removes a file, or renames it with a .trash suffix.
type DeleteAction struct {
	*action.SchemaValidator
}

func NewDeleteAction() *DeleteAction {
	return &DeleteAction{SchemaValidator: action.MustSchemaValidator(TypeFileDelete, deleteSchema)}
}

func (a *DeleteAction) Description() string { return "Delete a file or move it to trash" }

func (a *DeleteAction) Idempotent() bool { return false }

func (a *DeleteAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	path := stringParam(params, "path")
	if _, err := sourceFile(TypeFileDelete, path); err != nil {
		if action.IsPermanent(err) && boolParam(params, "missingOk") {
			return action.Output{"path": path, "deleted": false}, nil
		}
		return nil, err
	}
	if boolParam(params, "toTrash") {
		trash := path + ".trash"
		if err := os.Rename(path, trash); err != nil {
			return nil, fmt.Errorf("trash %s: %w", path, err)
		}
		if ec.Logger != nil {
			ec.Logger.InfoContext(ctx, "Moved file to trash", "path", path, "trash", trash)
		}
		return action.Output{"path": path, "deleted": true, "trash": trash}, nil
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}
	if ec.Logger != nil {
		ec.Logger.InfoContext(ctx, "Deleted file", "path", path)
	}
	return action.Output{"path": path, "deleted": true}, nil
}

// RenameAction renames a file in place. The pattern may use {name}, {ext},
// {date}, {time}, {datetime} and {counter}.
type RenameAction struct {
	*action.SchemaValidator
	clock core.Clock
}

func NewRenameAction(clock core.Clock) *RenameAction {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &RenameAction{SchemaValidator: action.MustSchemaValidator(TypeFileRename, renameSchema), clock: clock}
}

func (a *RenameAction) Description() string { return "Rename a file using a name pattern" }

func (a *RenameAction) Idempotent() bool { return false }

func (a *RenameAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	path := stringParam(params, "path")
	if _, err := sourceFile(TypeFileRename, path); err != nil {
		return nil, err
	}
	target, err := a.apply(path, stringParam(params, "pattern"))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(target); err == nil {
		return nil, action.Permanent(fmt.Errorf("%s: target already exists: %s", TypeFileRename, target))
	}
	if err := os.Rename(path, target); err != nil {
		return nil, fmt.Errorf("rename %s: %w", path, err)
	}
	if ec.Logger != nil {
		ec.Logger.InfoContext(ctx, "Renamed file", "from", path, "to", target)
	}
	return action.Output{"path": target, "source": path, "name": filepath.Base(target)}, nil
}

func (a *RenameAction) apply(path, pattern string) (string, error) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	now := a.clock.Now()

	name := strings.NewReplacer(
		"{name}", strings.TrimSuffix(base, filepath.Ext(base)),
		"{ext}", ext,
		"{date}", now.Format("2006-01-02"),
		"{time}", now.Format("15-04-05"),
		"{datetime}", now.Format("20060102_150405"),
	).Replace(pattern)

	if !strings.Contains(name, "{counter}") {
		return filepath.Join(dir, name), nil
	}
	for counter := 1; counter <= 9999; counter++ {
		candidate := filepath.Join(dir, strings.ReplaceAll(name, "{counter}", strconv.Itoa(counter)))
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", action.Permanent(fmt.Errorf("%s: no free name for pattern %q", TypeFileRename, pattern))
}

package actions

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
)

const archiveSchema = `{
  "type": "object",
  "required": ["source", "destination"],
  "properties": {
    "source": {"type": "string", "minLength": 1},
    "destination": {"type": "string", "minLength": 1},
    "format": {"type": "string", "enum": ["tar.gz", "zip"]},
    "deleteSource": {"type": "boolean"}
  },
  "additionalProperties": false
}`

// ArchiveAction packs a single file into a timestamped tar.gz or zip archive.
type ArchiveAction struct {
	*action.SchemaValidator
	clock core.Clock
}

func NewArchiveAction(clock core.Clock) *ArchiveAction {
	if clock == nil {
		clock = core.NewRealClock()
	}
	return &ArchiveAction{SchemaValidator: action.MustSchemaValidator(TypeFileArchive, archiveSchema), clock: clock}
}

func (a *ArchiveAction) Description() string { return "Archive a file as tar.gz or zip" }

// Idempotent: each attempt writes a fresh archive. With deleteSource the
// source is only removed after the archive is complete.
func (a *ArchiveAction) Idempotent() bool { return true }

func (a *ArchiveAction) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	source := stringParam(params, "source")
	info, err := sourceFile(TypeFileArchive, source)
	if err != nil {
		return nil, err
	}
	format := stringParam(params, "format")
	if format == "" {
		format = "tar.gz"
	}
	destDir := stringParam(params, "destination")
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: create destination: %w", TypeFileArchive, err)
	}

	stem := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	archivePath := filepath.Join(destDir, fmt.Sprintf("%s_%s.%s", stem, a.clock.Now().Format("20060102_150405"), format))

	write := writeTarGz
	if format == "zip" {
		write = writeZip
	}
	if err := write(source, info, archivePath); err != nil {
		os.Remove(archivePath)
		return nil, fmt.Errorf("archive %s: %w", source, err)
	}

	deleted := false
	if boolParam(params, "deleteSource") {
		if err := os.Remove(source); err != nil {
			return nil, fmt.Errorf("archive %s: remove source: %w", source, err)
		}
		deleted = true
	}
	if ec.Logger != nil {
		ec.Logger.InfoContext(ctx, "Archived file", "source", source, "archive", archivePath, "source_deleted", deleted)
	}
	return action.Output{"path": archivePath, "source": source, "format": format, "sourceDeleted": deleted}, nil
}

func writeTarGz(source string, info fs.FileInfo, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(source)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if err := copyInto(tw, source); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func writeZip(source string, info fs.FileInfo, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(source)
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	if err := copyInto(w, source); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

package definition

// Example is the starter document written by `rpaflow init`: back up new
// invoices, archive them and clean the inbox.
func Example() *Document {
	enabled := true
	return &Document{
		Name:        "example-workflow",
		Description: "Example filesystem workflow",
		Schedule:    "*/15 * * * *",
		Timeout:     "10m",
		Enabled:     &enabled,
		Steps: []StepDocument{
			{
				ID:     "announce",
				Action: "log",
				Params: map[string]any{
					"message": "Starting {{ .workflow.name }} run {{ .run.id }} ({{ .trigger }})",
				},
			},
			{
				ID:     "backup",
				Action: "file_copy",
				Params: map[string]any{
					"source":      "/tmp/watch/invoice.pdf",
					"destination": "/tmp/backup",
					"overwrite":   false,
				},
				Retry: &RetryDocument{MaxAttempts: 3, Backoff: "exponential", InitialInterval: "1s", MaxInterval: "10s"},
			},
			{
				ID:     "archive",
				Action: "file_archive",
				Params: map[string]any{
					"source":      "{{ .steps.backup.path }}",
					"destination": "/tmp/archive",
					"format":      "tar.gz",
				},
			},
			{
				ID:              "cleanup",
				Action:          "file_delete",
				Params:          map[string]any{"path": "/tmp/watch/invoice.pdf", "toTrash": true},
				ContinueOnError: true,
			},
		},
	}
}

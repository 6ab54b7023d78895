// Package common holds the HTTP scenarios shared by the per-database
// integration suites.
package common

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/controllers"
	"github.com/RealZimboGuy/rpaflow/internal/util"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const APIKey = "b5f0e8c4-daa6-465c-bded-50ca22b798b2"

// Client talks to a running server on localhost.
type Client struct {
	t    *testing.T
	base string
	http *http.Client
}

func NewClient(t *testing.T, port int) *Client {
	return &Client{t: t, base: fmt.Sprintf("http://localhost:%d", port), http: &http.Client{Timeout: 60 * time.Second}}
}

func (c *Client) Do(method, path, contentType string, body []byte) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(body))
	require.NoError(c.t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-API-Key", APIKey)
	resp, err := c.http.Do(req)
	require.NoError(c.t, err, "%s %s", method, path)
	return resp
}

// StartServer runs rpaflow.Start in the background with an API key set and
// waits until the API answers. The server stops when the test ends. Start
// may only be called once per test binary.
func StartServer(t *testing.T, port int) *Client {
	hash, err := controllers.HashAPIKey(APIKey)
	require.NoError(t, err)
	t.Setenv("RPA_API_KEY_HASH", hash)
	t.Setenv("HTTP_ADDR", fmt.Sprintf(":%d", port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rpaflow.Start(ctx, nil) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(45 * time.Second):
			t.Error("server did not stop")
		}
	})

	client := NewClient(t, port)
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-done:
			t.Fatalf("server exited early: %v", err)
		default:
		}
		req, _ := http.NewRequest(http.MethodGet, client.base+"/api/actions", nil)
		req.Header.Set("X-API-Key", APIKey)
		if resp, err := client.http.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return client
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatal("server did not become ready")
	return nil
}

func (c *Client) CreateWorkflow(yamlDoc string) models.WorkflowApiResponse {
	c.t.Helper()
	resp := c.Do(http.MethodPost, "/api/workflows", "application/yaml", []byte(yamlDoc))
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusCreated, resp.StatusCode)
	wf, err := util.DecodeJSONBodyResponse[models.WorkflowApiResponse](resp)
	require.NoError(c.t, err)
	return wf
}

func (c *Client) RunAndWait(workflowID string) models.RunApiResponse {
	c.t.Helper()
	resp := c.Do(http.MethodPost, "/api/workflows/"+workflowID+"/runAndWait", "application/json", []byte(`{"waitSeconds":30}`))
	defer resp.Body.Close()
	require.Equal(c.t, http.StatusOK, resp.StatusCode)
	run, err := util.DecodeJSONBodyResponse[models.RunApiResponse](resp)
	require.NoError(c.t, err)
	return run
}

// RunScenarios exercises authoring, run outcomes and the read endpoints
// against a started server.
func RunScenarios(t *testing.T, c *Client) {
	dir := t.TempDir()
	inbox := filepath.Join(dir, "inbox")
	backup := filepath.Join(dir, "backup")
	archive := filepath.Join(dir, "archive")
	for _, d := range []string{inbox, backup, archive} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}
	invoice := filepath.Join(inbox, "invoice.pdf")
	require.NoError(t, os.WriteFile(invoice, []byte("%PDF-1.4"), 0o644))

	t.Run("file pipeline succeeds", func(t *testing.T) {
		wf := c.CreateWorkflow(fmt.Sprintf(`
name: invoices
steps:
  - id: announce
    action: log
    params:
      message: "run {{ .run.id }}"
  - id: backup
    action: file_copy
    params:
      source: %q
      destination: %q
  - id: pack
    action: file_archive
    params:
      source: "{{ .steps.backup.path }}"
      destination: %q
`, invoice, backup, archive))
		assert.Equal(t, 1, wf.Version)

		run := c.RunAndWait(wf.ID)
		assert.Equal(t, "SUCCEEDED", run.Status)
		require.Len(t, run.Steps, 3)
		assert.Equal(t, []string{"announce", "backup", "pack"},
			[]string{run.Steps[0].StepID, run.Steps[1].StepID, run.Steps[2].StepID})
		assert.FileExists(t, filepath.Join(backup, "invoice.pdf"))

		entries, err := os.ReadDir(archive)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, strings.HasSuffix(entries[0].Name(), ".tar.gz"))
	})

	t.Run("continue on error partially succeeds", func(t *testing.T) {
		wf := c.CreateWorkflow(fmt.Sprintf(`
name: tolerant
steps:
  - id: missing
    action: file_copy
    continueOnError: true
    retry:
      maxAttempts: 3
      backoff: constant
      initialInterval: 10ms
    params:
      source: %q
      destination: %q
  - id: after
    action: log
    params:
      message: still here
`, filepath.Join(inbox, "nope.pdf"), backup))

		run := c.RunAndWait(wf.ID)
		assert.Equal(t, "PARTIALLY_SUCCEEDED", run.Status)
		require.Len(t, run.Steps, 2)
		assert.Equal(t, "FAILED", run.Steps[0].Status)
		assert.Equal(t, 1, run.Steps[0].Attempts, "a missing source is not retried")
		assert.Equal(t, "SUCCEEDED", run.Steps[1].Status)

		resp := c.Do(http.MethodGet, "/api/runs?workflowId="+wf.ID, "", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		search, err := util.DecodeJSONBodyResponse[models.RunSearchApiResponse](resp)
		require.NoError(t, err)
		require.Len(t, search.Runs, 1)
		assert.Equal(t, run.ID, search.Runs[0].ID)
	})

	t.Run("disabled workflow refuses runs", func(t *testing.T) {
		wf := c.CreateWorkflow(`
name: dormant
steps:
  - action: log
    params:
      message: hi
`)
		resp := c.Do(http.MethodPost, "/api/workflows/"+wf.ID+"/disable", "", nil)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp = c.Do(http.MethodPost, "/api/workflows/"+wf.ID+"/runs", "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		resp := c.Do(http.MethodPost, "/api/workflows", "application/yaml", []byte("name: dormant\nsteps: []\n"))
		resp.Body.Close()
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("executor is registered", func(t *testing.T) {
		resp := c.Do(http.MethodGet, "/api/executors", "", nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		executors, err := util.DecodeJSONBodyResponse[[]models.ExecutorApiResponse](resp)
		require.NoError(t, err)
		assert.NotEmpty(t, executors)
	})

	t.Run("requests without key are rejected", func(t *testing.T) {
		resp, err := c.http.Get(c.base + "/api/workflows")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

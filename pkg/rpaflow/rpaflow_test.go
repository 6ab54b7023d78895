package rpaflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const disabledDoc = `
name: paused-cleanup
schedule: "*/5 * * * *"
enabled: false
steps:
  - action: log
    params:
      message: "run by {{ .trigger }}"
`

func TestRunFile_KeepsWorkflowDisabled(t *testing.T) {
	dir := t.TempDir()
	db, err := repository.OpenSqlLite(filepath.Join(dir, "rpaflow.db"))
	require.NoError(t, err)
	defer db.Close()
	path := filepath.Join(dir, "cleanup.yaml")
	require.NoError(t, os.WriteFile(path, []byte(disabledDoc), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	workflows := repository.NewWorkflowRepository(db, core.NewRealClock())

	for i := 1; i <= 2; i++ {
		run, err := RunFile(ctx, db, action.NewRegistry(), path)
		require.NoError(t, err)
		assert.Equal(t, domain.RunSucceeded, run.Status)
		assert.Equal(t, domain.TriggerManual, run.Trigger)

		stored, err := workflows.FindByName(ctx, "paused-cleanup")
		require.NoError(t, err)
		assert.False(t, stored.Enabled, "run %d enabled the workflow", i)
		assert.False(t, stored.ScheduleEnabled())
	}
}

func TestTriggers_FanOut(t *testing.T) {
	db, err := repository.OpenSqlLite(filepath.Join(t.TempDir(), "rpaflow.db"))
	require.NoError(t, err)
	defer db.Close()
	services, err := NewServices(context.Background(), db, action.NewRegistry())
	require.NoError(t, err)
	defer services.Close(context.Background())

	tr := triggers{schedule: services.Scheduler, watch: services.Watch}
	wf := &domain.Workflow{ID: "wf", Name: "wf", Enabled: true, Schedule: "0 * * * *",
		Watch: &domain.Watch{Paths: []string{t.TempDir()}}}
	require.NoError(t, tr.Upsert(wf))
	_, ok := tr.Next("wf")
	assert.True(t, ok)

	wf.Schedule = "0 0 30 2 *"
	assert.ErrorContains(t, tr.Upsert(wf), "never fires")

	tr.Remove("wf")
	_, ok = tr.Next("wf")
	assert.False(t, ok)
}

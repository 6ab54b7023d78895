package repository

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) (*sql.DB, *core.FakeClock) {
	t.Helper()
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)
	db, err := OpenSqlLite(filepath.Join(t.TempDir(), "rpaflow-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, core.NewFakeClock(testStart)
}

func sampleWorkflow(name string) *domain.Workflow {
	return &domain.Workflow{
		Name:     name,
		Schedule: "*/5 * * * *",
		Timeout:  90 * time.Second,
		Enabled:  true,
		Steps: []domain.Step{
			{ID: "fetch", Action: "http_request", Params: map[string]any{"url": "http://example.com"},
				Retry: domain.RetryPolicy{MaxAttempts: 3, Backoff: domain.BackoffLinear, InitialInterval: time.Second}},
			{Action: "log", Params: map[string]any{"message": "{{ .steps.fetch.status }}"}, ContinueOnError: true},
		},
	}
}

func TestWorkflowRepository_CreateAndFind(t *testing.T) {
	db, clock := newTestDB(t)
	repo := NewWorkflowRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("invoices")
	require.NoError(t, repo.Create(ctx, wf))
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, 1, wf.Version)

	got, err := repo.FindByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoices", got.Name)
	assert.Equal(t, 90*time.Second, got.Timeout)
	assert.True(t, got.Enabled)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "fetch", got.Steps[0].ID)
	assert.Equal(t, "step-2", got.Steps[1].ID)
	assert.Equal(t, 3, got.Steps[0].Retry.MaxAttempts)
	assert.Equal(t, domain.BackoffLinear, got.Steps[0].Retry.Backoff)
	assert.True(t, got.Steps[1].ContinueOnError)
	assert.WithinDuration(t, testStart, got.Created, time.Millisecond)

	byName, err := repo.FindByName(ctx, "invoices")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, byName.ID)

	_, err = repo.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, repo.Create(ctx, sampleWorkflow("invoices")), ErrWorkflowNameTaken)
}

func TestWorkflowRepository_UpdateKeepsHistory(t *testing.T) {
	db, clock := newTestDB(t)
	repo := NewWorkflowRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("payroll")
	require.NoError(t, repo.Create(ctx, wf))

	clock.Add(time.Minute)
	wf.Description = "second draft"
	wf.Steps = wf.Steps[:1]
	require.NoError(t, repo.Update(ctx, wf))
	assert.Equal(t, 2, wf.Version)

	current, err := repo.FindByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Len(t, current.Steps, 1)

	v1, err := repo.FindVersion(ctx, wf.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Len(t, v1.Steps, 2)
	assert.Equal(t, "", v1.Description)

	_, err = repo.FindVersion(ctx, wf.ID, 3)
	assert.ErrorIs(t, err, ErrNotFound)

	disabled, err := repo.SetEnabled(ctx, wf.ID, false)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	assert.Equal(t, 3, disabled.Version)

	missing := sampleWorkflow("ghost")
	missing.ID = "nope"
	assert.ErrorIs(t, repo.Update(ctx, missing), ErrNotFound)
}

func TestWorkflowRepository_FindScheduled(t *testing.T) {
	db, clock := newTestDB(t)
	repo := NewWorkflowRepository(db, clock)
	ctx := context.Background()

	a := sampleWorkflow("a")
	b := sampleWorkflow("b")
	b.Schedule = ""
	c := sampleWorkflow("c")
	c.Enabled = false
	for _, wf := range []*domain.Workflow{a, b, c} {
		require.NoError(t, repo.Create(ctx, wf))
	}

	scheduled, err := repo.FindScheduled(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "a", scheduled[0].Name)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestWorkflowRepository_WatchRoundTripAndFindWatched(t *testing.T) {
	db, clock := newTestDB(t)
	repo := NewWorkflowRepository(db, clock)
	ctx := context.Background()

	watched := sampleWorkflow("inbox")
	watched.Watch = &domain.Watch{
		Paths:     []string{"/data/inbox"},
		Recursive: true,
		Patterns:  []string{"*.pdf"},
		Events:    []domain.WatchEvent{domain.WatchCreated},
		Debounce:  2 * time.Second,
	}
	plain := sampleWorkflow("plain")
	off := sampleWorkflow("off")
	off.Enabled = false
	off.Watch = &domain.Watch{Paths: []string{"/data/off"}}
	for _, wf := range []*domain.Workflow{watched, plain, off} {
		require.NoError(t, repo.Create(ctx, wf))
	}

	got, err := repo.FindByID(ctx, watched.ID)
	require.NoError(t, err)
	assert.Equal(t, watched.Watch, got.Watch)

	got, err = repo.FindByID(ctx, plain.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Watch)

	list, err := repo.FindWatched(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "inbox", list[0].Name)

	// dropping the watch is a new version; the old one keeps it
	watched.Watch = nil
	require.NoError(t, repo.Update(ctx, watched))
	list, err = repo.FindWatched(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	v1, err := repo.FindVersion(ctx, watched.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, v1.Watch)
	assert.Equal(t, []string{"*.pdf"}, v1.Watch.Patterns)
}

func TestWorkflowRepository_DeleteRefusesReferenced(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	ctx := context.Background()

	used := sampleWorkflow("used")
	unused := sampleWorkflow("unused")
	require.NoError(t, workflows.Create(ctx, used))
	require.NoError(t, workflows.Create(ctx, unused))
	require.NoError(t, runs.Create(ctx, newRun(used)))

	assert.ErrorIs(t, workflows.Delete(ctx, used.ID), ErrWorkflowReferenced)
	require.NoError(t, workflows.Delete(ctx, unused.ID))
	_, err := workflows.FindByID(ctx, unused.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, workflows.Delete(ctx, unused.ID), ErrNotFound)
}

func newRun(wf *domain.Workflow) *domain.Run {
	return &domain.Run{
		ID:              uuid.NewString(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		WorkflowName:    wf.Name,
		Trigger:         domain.TriggerManual,
	}
}

func TestRunRepository_Lifecycle(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("lifecycle")
	require.NoError(t, workflows.Create(ctx, wf))

	run := newRun(wf)
	run.ExecutorID = sql.NullInt64{Int64: 4, Valid: true}
	require.NoError(t, runs.Create(ctx, run))

	got, err := runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, got.Status)
	assert.False(t, got.Started.Valid)
	assert.Equal(t, int64(4), got.ExecutorID.Int64)

	clock.Add(time.Second)
	require.NoError(t, runs.MarkRunning(ctx, run.ID, clock.Now()))
	assert.ErrorIs(t, runs.MarkRunning(ctx, run.ID, clock.Now()), ErrRunNotActive)

	got, err = runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, got.Status)
	assert.Empty(t, got.StepResults)

	clock.Add(time.Second)
	run.Status = domain.RunPartiallySucceeded
	run.Started = got.Started
	run.StepResults = []domain.StepResult{
		{StepIndex: 0, StepID: "fetch", Action: "http_request", Attempts: 3, Status: domain.StepFailed,
			ErrorKind: domain.ErrorKindExecution, Error: "boom", Started: clock.Now(), Ended: clock.Now()},
		{StepIndex: 1, StepID: "step-2", Action: "log", Attempts: 1, Status: domain.StepSucceeded,
			Output: map[string]any{"message": "hi"}, Started: clock.Now(), Ended: clock.Now()},
	}
	require.NoError(t, runs.Complete(ctx, run))

	got, err = runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPartiallySucceeded, got.Status)
	assert.True(t, got.Ended.Valid)
	require.Len(t, got.StepResults, 2)
	assert.Equal(t, "fetch", got.StepResults[0].StepID)
	assert.True(t, got.StepResults[0].Retried())
	assert.Equal(t, domain.ErrorKindExecution, got.StepResults[0].ErrorKind)
	assert.Nil(t, got.StepResults[0].Output)
	assert.Equal(t, "hi", got.StepResults[1].Output["message"])

	run.Status = domain.RunFailed
	assert.ErrorIs(t, runs.Complete(ctx, run), ErrRunNotActive)

	run.Status = domain.RunRunning
	assert.Error(t, runs.Complete(ctx, run))
}

func TestRunRepository_TriggerData(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("events")
	require.NoError(t, workflows.Create(ctx, wf))
	run := newRun(wf)
	run.Trigger = domain.TriggerFile
	run.TriggerData = map[string]any{"path": "/data/inbox/a.pdf", "event": "created"}
	require.NoError(t, runs.Create(ctx, run))

	got, err := runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerFile, got.Trigger)
	assert.Equal(t, run.TriggerData, got.TriggerData)
}

func TestRunRepository_CompleteRejectsUnencodableOutput(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("ratio")
	require.NoError(t, workflows.Create(ctx, wf))
	run := newRun(wf)
	require.NoError(t, runs.Create(ctx, run))
	require.NoError(t, runs.MarkRunning(ctx, run.ID, clock.Now()))

	run.Status = domain.RunSucceeded
	run.StepResults = []domain.StepResult{{StepID: "calc", Action: "calc", Attempts: 1, Status: domain.StepSucceeded,
		Output: map[string]any{"ratio": math.Inf(1)}, Started: clock.Now(), Ended: clock.Now()}}
	assert.ErrorContains(t, runs.Complete(ctx, run), "encode output of step calc")

	// the failed transaction leaves the run active so it can still be closed
	got, err := runs.FindByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, got.Status)
}

func TestRunRepository_SearchAndCount(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	ctx := context.Background()

	a := sampleWorkflow("a")
	b := sampleWorkflow("b")
	require.NoError(t, workflows.Create(ctx, a))
	require.NoError(t, workflows.Create(ctx, b))

	for i := 0; i < 3; i++ {
		clock.Add(time.Second)
		require.NoError(t, runs.Create(ctx, newRun(a)))
	}
	done := newRun(b)
	require.NoError(t, runs.Create(ctx, done))
	done.Status = domain.RunSucceeded
	require.NoError(t, runs.Complete(ctx, done))

	found, err := runs.Search(ctx, RunFilter{WorkflowID: a.ID})
	require.NoError(t, err)
	assert.Len(t, found, 3)
	assert.True(t, !found[0].Created.Before(found[1].Created))

	found, err = runs.Search(ctx, RunFilter{Status: domain.RunSucceeded})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, done.ID, found[0].ID)

	found, err = runs.Search(ctx, RunFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, found, 2)

	counts, err := runs.CountByStatus(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[domain.RunPending])
	assert.Equal(t, 1, counts[domain.RunSucceeded])

	counts, err = runs.CountByStatus(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[domain.RunPending])
}

func TestRunRepository_FindStale(t *testing.T) {
	db, clock := newTestDB(t)
	workflows := NewWorkflowRepository(db, clock)
	runs := NewRunRepository(db, clock)
	executors := NewExecutorRepository(db, clock)
	ctx := context.Background()

	wf := sampleWorkflow("stale")
	require.NoError(t, workflows.Create(ctx, wf))

	deadID, err := executors.Save(ctx, &domain.Executor{Name: "dead"})
	require.NoError(t, err)
	aliveID, err := executors.Save(ctx, &domain.Executor{Name: "alive"})
	require.NoError(t, err)

	orphan := newRun(wf)
	orphan.ExecutorID = sql.NullInt64{Int64: deadID, Valid: true}
	require.NoError(t, runs.Create(ctx, orphan))
	require.NoError(t, runs.MarkRunning(ctx, orphan.ID, clock.Now()))

	healthy := newRun(wf)
	healthy.ExecutorID = sql.NullInt64{Int64: aliveID, Valid: true}
	require.NoError(t, runs.Create(ctx, healthy))

	clock.Add(10 * time.Minute)
	require.NoError(t, executors.UpdateLastActive(ctx, aliveID, clock.Now()))

	stale, err := runs.FindStale(ctx, 5*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, orphan.ID, stale[0].ID)

	list, err := executors.GetExecutorsByLastActive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alive", list[0].Name)
}

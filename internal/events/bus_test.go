package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(id string, status domain.RunStatus) *domain.Run {
	return &domain.Run{
		ID:           id,
		WorkflowID:   "wf-1",
		WorkflowName: "nightly",
		Trigger:      domain.TriggerSchedule,
		Status:       status,
		StepResults:  []domain.StepResult{{StepID: "a"}},
	}
}

func TestBus_SubscribeReceivesEvents(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started, err := bus.Subscribe(ctx, TopicRunStarted)
	require.NoError(t, err)

	bus.RunStarted(ctx, run("r1", domain.RunRunning))
	select {
	case ev := <-started:
		assert.Equal(t, "r1", ev.RunID)
		assert.Equal(t, domain.RunRunning, ev.Status)
		assert.Equal(t, domain.TriggerSchedule, ev.Trigger)
		assert.Equal(t, 1, ev.Steps)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}

func TestWaiter_SkipsOtherRuns(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := bus.NewWaiter(ctx)
	require.NoError(t, err)
	defer w.Close()

	failed := run("target", domain.RunFailed)
	failed.Error = sql.NullString{String: "step a: boom", Valid: true}
	bus.RunCompleted(ctx, run("other", domain.RunSucceeded))
	bus.RunCompleted(ctx, failed)

	ev, err := w.Wait(ctx, "target")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, ev.Status)
	assert.Equal(t, "step a: boom", ev.Error)
}

func TestWaiter_ContextDone(t *testing.T) {
	bus := NewBus(nil)
	defer bus.Close()
	w, err := bus.NewWaiter(context.Background())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.Wait(ctx, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

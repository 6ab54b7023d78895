package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockWorkflowSource struct {
	mu        sync.Mutex
	workflows []*domain.Workflow
	err       error
}

func (m *MockWorkflowSource) FindScheduled(context.Context) ([]*domain.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workflows, m.err
}

func (m *MockWorkflowSource) set(wfs ...*domain.Workflow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workflows = wfs
}

type MockSubmitter struct {
	mu         sync.Mutex
	SubmitFunc func(workflowID string) error
	submitted  []string
}

func (m *MockSubmitter) Submit(_ context.Context, workflowID string, trigger domain.Trigger) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SubmitFunc != nil {
		if err := m.SubmitFunc(workflowID); err != nil {
			return nil, err
		}
	}
	m.submitted = append(m.submitted, workflowID)
	return &domain.Run{ID: "run-" + workflowID, WorkflowID: workflowID, Trigger: trigger}, nil
}

func (m *MockSubmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}

var start = time.Date(2026, 3, 2, 10, 0, 30, 0, time.UTC)

func scheduled(id, expr string) *domain.Workflow {
	return &domain.Workflow{ID: id, Name: id, Enabled: true, Schedule: expr}
}

func newScheduler(clock core.Clock, source WorkflowSource, sub Submitter) *Scheduler {
	return New(NewTable(), source, sub, clock, Options{TickInterval: time.Second, RefreshInterval: time.Hour})
}

func TestLoad_ComputesNextFutureOccurrence(t *testing.T) {
	clock := core.NewFakeClock(start)
	source := &MockWorkflowSource{workflows: []*domain.Workflow{
		scheduled("every-minute", "* * * * *"),
		scheduled("bad", "not a cron"),
		{ID: "off", Enabled: false, Schedule: "* * * * *"},
	}}
	s := newScheduler(clock, source, &MockSubmitter{})

	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 1, s.Table().Len())
	next, ok := s.Table().Next("every-minute")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC), next)
}

func TestLoad_StoreError(t *testing.T) {
	s := newScheduler(core.NewFakeClock(start), &MockWorkflowSource{err: errors.New("db down")}, &MockSubmitter{})
	assert.ErrorContains(t, s.Load(context.Background()), "db down")
}

func TestTick_FiresDueEntriesOnce(t *testing.T) {
	clock := core.NewFakeClock(start)
	sub := &MockSubmitter{}
	s := newScheduler(clock, &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("wf", "* * * * *")}}, sub)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 0, s.Tick(context.Background()))

	clock.Add(30 * time.Second)
	assert.Equal(t, 1, s.Tick(context.Background()))
	assert.Equal(t, 0, s.Tick(context.Background()))

	next, _ := s.Table().Next("wf")
	assert.Equal(t, time.Date(2026, 3, 2, 10, 2, 0, 0, time.UTC), next)
}

func TestTick_NoBackfill(t *testing.T) {
	clock := core.NewFakeClock(start)
	sub := &MockSubmitter{}
	s := newScheduler(clock, &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("wf", "* * * * *")}}, sub)
	require.NoError(t, s.Load(context.Background()))

	// ten occurrences pass without a tick
	clock.Add(10 * time.Minute)
	assert.Equal(t, 1, s.Tick(context.Background()))
	assert.Equal(t, 0, s.Tick(context.Background()))
	next, _ := s.Table().Next("wf")
	assert.True(t, next.After(clock.Now()))
}

func TestTick_FailedDispatchWaitsForNextOccurrence(t *testing.T) {
	clock := core.NewFakeClock(start)
	sub := &MockSubmitter{SubmitFunc: func(string) error { return errors.New("run queue is full") }}
	s := newScheduler(clock, &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("wf", "* * * * *")}}, sub)
	require.NoError(t, s.Load(context.Background()))

	clock.Add(30 * time.Second)
	assert.Equal(t, 0, s.Tick(context.Background()))

	sub.mu.Lock()
	sub.SubmitFunc = nil
	sub.mu.Unlock()

	clock.Add(10 * time.Second)
	assert.Equal(t, 0, s.Tick(context.Background()))
	clock.Add(20 * time.Second)
	assert.Equal(t, 1, s.Tick(context.Background()))
}

func TestRestart_SchedulesExactlyOneFutureRun(t *testing.T) {
	clock := core.NewFakeClock(start)
	source := &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("wf", "*/5 * * * *")}}
	sub := &MockSubmitter{}

	first := newScheduler(clock, source, sub)
	require.NoError(t, first.Load(context.Background()))

	// the process is down for an hour
	clock.Add(time.Hour)
	restarted := newScheduler(clock, source, sub)
	require.NoError(t, restarted.Load(context.Background()))

	entries := restarted.Table().Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Next.After(clock.Now()))
	assert.Equal(t, 0, restarted.Tick(context.Background()))

	clock.Set(entries[0].Next)
	assert.Equal(t, 1, restarted.Tick(context.Background()))
	assert.Equal(t, 1, sub.count())
}

func TestUpsertAndRemove(t *testing.T) {
	clock := core.NewFakeClock(start)
	s := newScheduler(clock, &MockWorkflowSource{}, &MockSubmitter{})

	require.NoError(t, s.Upsert(scheduled("wf", "@hourly")))
	next, ok := s.Table().Next("wf")
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC), next)

	// unchanged expression keeps the pending occurrence
	clock.Add(10 * time.Minute)
	require.NoError(t, s.Upsert(scheduled("wf", "@hourly")))
	again, _ := s.Table().Next("wf")
	assert.Equal(t, next, again)

	require.NoError(t, s.Upsert(scheduled("wf", "*/15 * * * *")))
	changed, _ := s.Table().Next("wf")
	assert.Equal(t, time.Date(2026, 3, 2, 10, 15, 0, 0, time.UTC), changed)

	assert.Error(t, s.Upsert(scheduled("wf", "61 * * * *")))

	disabled := scheduled("wf", "@hourly")
	disabled.Enabled = false
	require.NoError(t, s.Upsert(disabled))
	_, ok = s.Table().Next("wf")
	assert.False(t, ok)

	require.NoError(t, s.Upsert(scheduled("other", "@daily")))
	s.Remove("other")
	assert.Equal(t, 0, s.Table().Len())
}

func TestLoad_DropsRemovedWorkflows(t *testing.T) {
	clock := core.NewFakeClock(start)
	source := &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("a", "@hourly"), scheduled("b", "@hourly")}}
	s := newScheduler(clock, source, &MockSubmitter{})
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 2, s.Table().Len())

	source.set(scheduled("b", "@hourly"))
	require.NoError(t, s.Load(context.Background()))
	entries := s.Table().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "b", entries[0].WorkflowID)
}

func TestRun_TicksOnClock(t *testing.T) {
	clock := core.NewFakeClock(start)
	sub := &MockSubmitter{}
	s := newScheduler(clock, &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("wf", "* * * * *")}}, sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.True(t, clock.BlockUntil(1, time.Second))
	clock.Add(30 * time.Second)
	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestParseSchedule(t *testing.T) {
	_, err := ParseSchedule("@every 10m")
	assert.NoError(t, err)
	_, err = ParseSchedule("0 9 * * MON-FRI")
	assert.NoError(t, err)
	_, err = ParseSchedule("* * * *")
	assert.Error(t, err)

	next, err := NextAfter("0 0 * * *", start)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), next)
}

type neverSchedule struct{}

func (neverSchedule) Next(time.Time) time.Time { return time.Time{} }

func TestImpossibleSchedule_NeverFires(t *testing.T) {
	_, err := ParseSchedule("0 0 30 2 *")
	assert.ErrorContains(t, err, "never fires")

	clock := core.NewFakeClock(start)
	sub := &MockSubmitter{}
	s := newScheduler(clock, &MockWorkflowSource{workflows: []*domain.Workflow{scheduled("feb30", "0 0 30 2 *")}}, sub)
	require.NoError(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Table().Len())
	assert.Error(t, s.Upsert(scheduled("feb30", "0 0 30 2 *")))

	// an entry whose schedule runs out of occurrences stays idle
	s.table.mu.Lock()
	s.table.set(scheduled("exhausted", "custom"), neverSchedule{}, clock.Now())
	s.table.mu.Unlock()
	for i := 0; i < 5; i++ {
		clock.Add(time.Second)
		assert.Equal(t, 0, s.Tick(context.Background()))
	}
	assert.Equal(t, 0, sub.count())
}

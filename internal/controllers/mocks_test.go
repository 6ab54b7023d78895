package controllers

import (
	"context"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/events"
	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

type MockWorkflowStore struct {
	CreateFunc     func(wf *domain.Workflow) error
	UpdateFunc     func(wf *domain.Workflow) error
	SetEnabledFunc func(id string, enabled bool) (*domain.Workflow, error)
	FindByIDFunc   func(id string) (*domain.Workflow, error)
	FindAllFunc    func() ([]*domain.Workflow, error)
	DeleteFunc     func(id string) error
}

func (m *MockWorkflowStore) Create(_ context.Context, wf *domain.Workflow) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(wf)
	}
	wf.ID = "wf-new"
	wf.Version = 1
	return nil
}

func (m *MockWorkflowStore) Update(_ context.Context, wf *domain.Workflow) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(wf)
	}
	return nil
}

func (m *MockWorkflowStore) SetEnabled(_ context.Context, id string, enabled bool) (*domain.Workflow, error) {
	if m.SetEnabledFunc != nil {
		return m.SetEnabledFunc(id, enabled)
	}
	return &domain.Workflow{ID: id, Name: "wf", Enabled: enabled, Version: 2}, nil
}

func (m *MockWorkflowStore) FindByID(_ context.Context, id string) (*domain.Workflow, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockWorkflowStore) FindAll(context.Context) ([]*domain.Workflow, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return nil, nil
}

func (m *MockWorkflowStore) Delete(_ context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(id)
	}
	return nil
}

type MockRunStore struct {
	FindByIDFunc      func(id string) (*domain.Run, error)
	SearchFunc        func(filter repository.RunFilter) ([]*domain.Run, error)
	CountByStatusFunc func(workflowID string) (map[domain.RunStatus]int, error)
}

func (m *MockRunStore) FindByID(_ context.Context, id string) (*domain.Run, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockRunStore) Search(_ context.Context, filter repository.RunFilter) ([]*domain.Run, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(filter)
	}
	return nil, nil
}

func (m *MockRunStore) CountByStatus(_ context.Context, workflowID string) (map[domain.RunStatus]int, error) {
	if m.CountByStatusFunc != nil {
		return m.CountByStatusFunc(workflowID)
	}
	return map[domain.RunStatus]int{}, nil
}

type MockRunEngine struct {
	SubmitFunc func(workflowID string, trigger domain.Trigger) (*domain.Run, error)
	CancelFunc func(runID string) bool
	WaitFunc   func(ctx context.Context, runID string) (*domain.Run, error)
}

func (m *MockRunEngine) Submit(_ context.Context, workflowID string, trigger domain.Trigger) (*domain.Run, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(workflowID, trigger)
	}
	return &domain.Run{ID: "run-1", WorkflowID: workflowID, Trigger: trigger, Status: domain.RunPending}, nil
}

func (m *MockRunEngine) Cancel(runID string) bool {
	if m.CancelFunc != nil {
		return m.CancelFunc(runID)
	}
	return false
}

func (m *MockRunEngine) Wait(ctx context.Context, runID string) (*domain.Run, error) {
	if m.WaitFunc != nil {
		return m.WaitFunc(ctx, runID)
	}
	return &domain.Run{ID: runID, Status: domain.RunSucceeded}, nil
}

type MockWaiter struct {
	WaitFunc func(ctx context.Context, runID string) (events.RunEvent, error)
	closed   bool
}

func (m *MockWaiter) Wait(ctx context.Context, runID string) (events.RunEvent, error) {
	return m.WaitFunc(ctx, runID)
}

func (m *MockWaiter) Close() { m.closed = true }

type MockScheduleTable struct {
	upserted []string
	removed  []string
	next     map[string]time.Time
}

func (m *MockScheduleTable) Upsert(wf *domain.Workflow) error {
	m.upserted = append(m.upserted, wf.ID)
	return nil
}

func (m *MockScheduleTable) Remove(workflowID string) { m.removed = append(m.removed, workflowID) }

func (m *MockScheduleTable) Next(workflowID string) (time.Time, bool) {
	t, ok := m.next[workflowID]
	return t, ok
}

type MockExecutorStore struct {
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorStore) GetExecutorsByLastActive(_ context.Context, limit int) ([]*domain.Executor, error) {
	return m.GetExecutorsByLastActiveFunc(limit)
}

// catalogOf returns a registry with no-op handlers for the given types.
func catalogOf(types ...string) *action.Registry {
	r := action.NewRegistry()
	for _, t := range types {
		r.MustRegister(t, action.HandlerFunc(func(context.Context, action.Params, action.ExecutionContext) (action.Output, error) {
			return nil, nil
		}))
	}
	return r
}

package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// MockWorkflowRepo implements WorkflowRepo for testing
type MockWorkflowRepo struct {
	FindByIDFunc func(ctx context.Context, id string) (*domain.Workflow, error)
}

func (m *MockWorkflowRepo) FindByID(ctx context.Context, id string) (*domain.Workflow, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, errors.New("not found")
}

func workflowsOf(wfs ...*domain.Workflow) *MockWorkflowRepo {
	byID := make(map[string]*domain.Workflow, len(wfs))
	for _, wf := range wfs {
		byID[wf.ID] = wf
	}
	return &MockWorkflowRepo{FindByIDFunc: func(_ context.Context, id string) (*domain.Workflow, error) {
		wf, ok := byID[id]
		if !ok {
			return nil, errors.New("not found")
		}
		return wf, nil
	}}
}

// MockRunRepo keeps runs in memory; the Func fields override single calls.
type MockRunRepo struct {
	mu   sync.Mutex
	runs map[string]domain.Run

	CreateFunc    func(ctx context.Context, run *domain.Run) error
	CompleteFunc  func(ctx context.Context, run *domain.Run) error
	FindStaleFunc func(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Run, error)
}

func newMockRunRepo() *MockRunRepo {
	return &MockRunRepo{runs: make(map[string]domain.Run)}
}

func (m *MockRunRepo) Create(ctx context.Context, run *domain.Run) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, run)
	}
	return m.insert(run)
}

func (m *MockRunRepo) insert(run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *MockRunRepo) MarkRunning(_ context.Context, id string, started time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok || run.Status != domain.RunPending {
		return errors.New("run is not pending")
	}
	run.Status = domain.RunRunning
	run.Started.Time, run.Started.Valid = started, true
	m.runs[id] = run
	return nil
}

func (m *MockRunRepo) Complete(ctx context.Context, run *domain.Run) error {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, run)
	}
	return m.finish(run)
}

func (m *MockRunRepo) finish(run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.runs[run.ID]
	if ok && current.Status.Terminal() {
		return errors.New("run already terminal")
	}
	stored := *run
	stored.StepResults = append([]domain.StepResult(nil), run.StepResults...)
	m.runs[run.ID] = stored
	return nil
}

func (m *MockRunRepo) FindByID(_ context.Context, id string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &run, nil
}

func (m *MockRunRepo) FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Run, error) {
	if m.FindStaleFunc != nil {
		return m.FindStaleFunc(ctx, olderThan, limit)
	}
	return nil, nil
}

func (m *MockRunRepo) get(id string) domain.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

type MockExecutorRepo struct {
	SaveFunc                     func(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActiveFunc         func(ctx context.Context, id int64, ts time.Time) error
	GetExecutorsByLastActiveFunc func(ctx context.Context, limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(ctx context.Context, e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, e)
	}
	return 1, nil
}

func (m *MockExecutorRepo) UpdateLastActive(ctx context.Context, id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(ctx, id, ts)
	}
	return nil
}

func (m *MockExecutorRepo) GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(ctx, limit)
	}
	return nil, nil
}

// MockHandler counts Execute calls and delegates to ExecuteFunc.
type MockHandler struct {
	ValidateFunc  func(params action.Params) error
	ExecuteFunc   func(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error)
	NotIdempotent bool

	calls atomic.Int32
}

func (m *MockHandler) Validate(params action.Params) error {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(params)
	}
	return nil
}

func (m *MockHandler) Execute(ctx context.Context, params action.Params, ec action.ExecutionContext) (action.Output, error) {
	m.calls.Add(1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, params, ec)
	}
	return action.Output{}, nil
}

func (m *MockHandler) Idempotent() bool { return !m.NotIdempotent }

func (m *MockHandler) Calls() int { return int(m.calls.Load()) }

type MockPublisher struct {
	mu        sync.Mutex
	started   []string
	completed []domain.RunStatus
}

func (p *MockPublisher) RunStarted(_ context.Context, run *domain.Run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, run.ID)
}

func (p *MockPublisher) RunCompleted(_ context.Context, run *domain.Run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, run.Status)
}

package engine

import (
	"context"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// WorkflowRepo is the part of repository.WorkflowRepository the engine reads.
type WorkflowRepo interface {
	FindByID(ctx context.Context, id string) (*domain.Workflow, error)
}

// RunRepo defines the run log operations, matching repository.RunRepository.
type RunRepo interface {
	Create(ctx context.Context, run *domain.Run) error
	MarkRunning(ctx context.Context, id string, started time.Time) error
	Complete(ctx context.Context, run *domain.Run) error
	FindByID(ctx context.Context, id string) (*domain.Run, error)
	FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Run, error)
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(ctx context.Context, e *domain.Executor) (int64, error)
	UpdateLastActive(ctx context.Context, id int64, ts time.Time) error
	GetExecutorsByLastActive(ctx context.Context, limit int) ([]*domain.Executor, error)
}

// Publisher receives run lifecycle notifications. Implementations must not block.
type Publisher interface {
	RunStarted(ctx context.Context, run *domain.Run)
	RunCompleted(ctx context.Context, run *domain.Run)
}

type nopPublisher struct{}

func (nopPublisher) RunStarted(context.Context, *domain.Run)   {}
func (nopPublisher) RunCompleted(context.Context, *domain.Run) {}

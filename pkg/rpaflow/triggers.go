package rpaflow

import (
	"errors"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/scheduler"
	"github.com/RealZimboGuy/rpaflow/internal/trigger/watch"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// triggers forwards authoring changes to the scheduler and the filesystem
// watcher.
type triggers struct {
	schedule *scheduler.Scheduler
	watch    *watch.Trigger
}

func (t triggers) Upsert(wf *domain.Workflow) error {
	return errors.Join(t.schedule.Upsert(wf), t.watch.Upsert(wf))
}

func (t triggers) Remove(workflowID string) {
	t.schedule.Remove(workflowID)
	t.watch.Remove(workflowID)
}

func (t triggers) Next(workflowID string) (time.Time, bool) { return t.schedule.Next(workflowID) }

// Package scheduler fires runs for workflows that carry a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/robfig/cron/v3"
)

// Submitter starts a run. *engine.Engine satisfies it.
type Submitter interface {
	Submit(ctx context.Context, workflowID string, trigger domain.Trigger) (*domain.Run, error)
}

// WorkflowSource lists the enabled workflows with a schedule.
type WorkflowSource interface {
	FindScheduled(ctx context.Context) ([]*domain.Workflow, error)
}

type entry struct {
	workflowID string
	name       string
	expr       string
	schedule   cron.Schedule
	next       time.Time
}

// Entry is a read-only view of one scheduled workflow.
type Entry struct {
	WorkflowID string
	Name       string
	Schedule   string
	Next       time.Time
}

// Table maps workflow ids to their next fire time.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewTable() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Entries returns the table sorted by next fire time.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Entry{WorkflowID: e.workflowID, Name: e.name, Schedule: e.expr, Next: e.next})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].WorkflowID < out[j].WorkflowID
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Next returns the next fire time of a workflow.
func (t *Table) Next(workflowID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[workflowID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// set adds or replaces an entry. An entry whose expression did not change
// keeps its pending fire time.
func (t *Table) set(wf *domain.Workflow, sched cron.Schedule, now time.Time) {
	if current, ok := t.entries[wf.ID]; ok && current.expr == wf.Schedule {
		current.name = wf.Name
		return
	}
	t.entries[wf.ID] = &entry{
		workflowID: wf.ID,
		name:       wf.Name,
		expr:       wf.Schedule,
		schedule:   sched,
		next:       sched.Next(now),
	}
}

// due advances every entry with next <= now to its first occurrence after
// now and returns the entries that fired. A zero next time means the
// schedule has no further occurrence and the entry never fires.
func (t *Table) due(now time.Time) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var fired []Entry
	for _, e := range t.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		fired = append(fired, Entry{WorkflowID: e.workflowID, Name: e.name, Schedule: e.expr, Next: e.next})
		e.next = e.schedule.Next(now)
	}
	sort.Slice(fired, func(i, j int) bool { return fired[i].WorkflowID < fired[j].WorkflowID })
	return fired
}

type Options struct {
	TickInterval    time.Duration
	RefreshInterval time.Duration
}

func OptionsFromConfig() Options {
	return Options{
		TickInterval:    config.GetSystemSettingDuration(config.SCHEDULER_TICK_INTERVAL),
		RefreshInterval: config.GetSystemSettingDuration(config.SCHEDULER_REFRESH_INTERVAL),
	}
}

type Scheduler struct {
	table     *Table
	workflows WorkflowSource
	submitter Submitter
	clock     core.Clock
	opts      Options
}

func New(table *Table, workflows WorkflowSource, submitter Submitter, clock core.Clock, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	return &Scheduler{table: table, workflows: workflows, submitter: submitter, clock: clock, opts: opts}
}

func (s *Scheduler) Table() *Table { return s.table }

func (s *Scheduler) Next(workflowID string) (time.Time, bool) { return s.table.Next(workflowID) }

// Load synchronises the table with the store. New entries get their next
// future occurrence; occurrences that passed while the process was down are
// not fired.
func (s *Scheduler) Load(ctx context.Context) error {
	workflows, err := s.workflows.FindScheduled(ctx)
	if err != nil {
		return fmt.Errorf("load scheduled workflows: %w", err)
	}
	now := s.clock.Now()
	seen := make(map[string]bool, len(workflows))

	s.table.mu.Lock()
	defer s.table.mu.Unlock()
	for _, wf := range workflows {
		if !wf.ScheduleEnabled() {
			continue
		}
		sched, err := ParseSchedule(wf.Schedule)
		if err != nil {
			slog.ErrorContext(ctx, "Skipping workflow with invalid schedule", "workflow_id", wf.ID, "schedule", wf.Schedule, "error", err)
			continue
		}
		seen[wf.ID] = true
		s.table.set(wf, sched, now)
	}
	for id := range s.table.entries {
		if !seen[id] {
			delete(s.table.entries, id)
		}
	}
	slog.DebugContext(ctx, "Schedule table loaded", "entries", len(s.table.entries))
	return nil
}

// Upsert reflects a created or edited workflow in the table.
func (s *Scheduler) Upsert(wf *domain.Workflow) error {
	if !wf.ScheduleEnabled() {
		s.Remove(wf.ID)
		return nil
	}
	sched, err := ParseSchedule(wf.Schedule)
	if err != nil {
		return err
	}
	s.table.mu.Lock()
	s.table.set(wf, sched, s.clock.Now())
	s.table.mu.Unlock()
	return nil
}

func (s *Scheduler) Remove(workflowID string) {
	s.table.mu.Lock()
	delete(s.table.entries, workflowID)
	s.table.mu.Unlock()
}

// Tick submits a run for every due entry and returns how many were accepted.
// A rejected dispatch is not retried until the entry's next occurrence.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.clock.Now()
	submitted := 0
	for _, e := range s.table.due(now) {
		run, err := s.submitter.Submit(ctx, e.WorkflowID, domain.TriggerSchedule)
		if err != nil {
			slog.ErrorContext(ctx, "Scheduled dispatch failed", "workflow_id", e.WorkflowID, "workflow", e.Name, "due_at", e.Next, "error", err)
			continue
		}
		slog.InfoContext(ctx, "Scheduled run submitted", "workflow_id", e.WorkflowID, "run_id", run.ID, "due_at", e.Next)
		submitted++
	}
	return submitted
}

// Run loads the table, then ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Scheduler started", "entries", s.table.Len(), "tick", s.opts.TickInterval.String())
	lastRefresh := s.clock.Now()
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Scheduler stopping due to context cancel")
			return nil
		case <-s.clock.After(s.opts.TickInterval):
		}
		if s.clock.Now().Sub(lastRefresh) >= s.opts.RefreshInterval {
			if err := s.Load(ctx); err != nil {
				slog.ErrorContext(ctx, "Failed to refresh schedule table", "error", err)
			}
			lastRefresh = s.clock.Now()
		}
		s.Tick(ctx)
	}
}

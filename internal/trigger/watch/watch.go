// Package watch fires runs for workflows when files change in the
// directories they watch.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/fsnotify/fsnotify"
)

// Submitter starts a run carrying event data. *engine.Engine satisfies it.
type Submitter interface {
	SubmitEvent(ctx context.Context, workflowID string, trigger domain.Trigger, data map[string]any) (*domain.Run, error)
}

// WorkflowSource lists the enabled workflows with a watch.
type WorkflowSource interface {
	FindWatched(ctx context.Context) ([]*domain.Workflow, error)
}

// Notifier is the part of fsnotify.Watcher that registers directories.
type Notifier interface {
	Add(name string) error
	Remove(name string) error
}

type rule struct {
	workflowID string
	name       string
	watch      domain.Watch
}

type Options struct {
	RefreshInterval time.Duration
}

func OptionsFromConfig() Options {
	return Options{RefreshInterval: config.GetSystemSettingDuration(config.WATCH_REFRESH_INTERVAL)}
}

// Trigger maps filesystem events onto runs of the workflows whose watch
// matches them.
type Trigger struct {
	workflows WorkflowSource
	submitter Submitter
	clock     core.Clock
	opts      Options

	mu        sync.Mutex
	rules     map[string]rule
	notifier  Notifier
	watched   map[string]bool
	lastFired map[string]time.Time
}

func New(workflows WorkflowSource, submitter Submitter, clock core.Clock, opts Options) *Trigger {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 30 * time.Second
	}
	return &Trigger{
		workflows: workflows,
		submitter: submitter,
		clock:     clock,
		opts:      opts,
		rules:     make(map[string]rule),
		watched:   make(map[string]bool),
		lastFired: make(map[string]time.Time),
	}
}

// attach installs the notifier directory changes are registered with.
func (t *Trigger) attach(ctx context.Context, n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
	t.watched = make(map[string]bool)
	if n != nil {
		t.syncDirs(ctx)
	}
}

// Directories returns the directories currently registered, sorted.
func (t *Trigger) Directories() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.watched))
	for dir := range t.watched {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Load replaces the rules with the watched workflows in the store.
func (t *Trigger) Load(ctx context.Context) error {
	workflows, err := t.workflows.FindWatched(ctx)
	if err != nil {
		return fmt.Errorf("load watched workflows: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = make(map[string]rule, len(workflows))
	for _, wf := range workflows {
		if wf.WatchEnabled() {
			t.rules[wf.ID] = rule{workflowID: wf.ID, name: wf.Name, watch: *wf.Watch}
		}
	}
	t.pruneFired()
	t.syncDirs(ctx)
	slog.DebugContext(ctx, "Watch rules loaded", "workflows", len(t.rules), "directories", len(t.watched))
	return nil
}

// Upsert reflects a created or edited workflow.
func (t *Trigger) Upsert(wf *domain.Workflow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if wf.WatchEnabled() {
		t.rules[wf.ID] = rule{workflowID: wf.ID, name: wf.Name, watch: *wf.Watch}
	} else {
		delete(t.rules, wf.ID)
	}
	t.syncDirs(context.Background())
	return nil
}

func (t *Trigger) Remove(workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rules, workflowID)
	t.syncDirs(context.Background())
}

// syncDirs registers every directory the rules need and drops the rest.
// Missing roots are created. Callers hold t.mu.
func (t *Trigger) syncDirs(ctx context.Context) {
	if t.notifier == nil {
		return
	}
	want := make(map[string]bool)
	for _, r := range t.rules {
		for _, root := range r.watch.Paths {
			root = filepath.Clean(root)
			if err := os.MkdirAll(root, 0o755); err != nil {
				slog.WarnContext(ctx, "Cannot create watched directory", "workflow_id", r.workflowID, "path", root, "error", err)
				continue
			}
			want[root] = true
			if r.watch.Recursive {
				collectDirs(root, want)
			}
		}
	}
	for dir := range want {
		if t.watched[dir] {
			continue
		}
		if err := t.notifier.Add(dir); err != nil {
			slog.WarnContext(ctx, "Cannot watch directory", "path", dir, "error", err)
			continue
		}
		t.watched[dir] = true
	}
	for dir := range t.watched {
		if !want[dir] {
			_ = t.notifier.Remove(dir)
			delete(t.watched, dir)
		}
	}
}

func collectDirs(root string, into map[string]bool) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			into[path] = true
		}
		return nil
	})
}

// pruneFired forgets debounce entries whose window has passed. Callers hold t.mu.
func (t *Trigger) pruneFired() {
	now := t.clock.Now()
	for key, at := range t.lastFired {
		id, _, _ := strings.Cut(key, "\x00")
		r, ok := t.rules[id]
		if !ok || now.Sub(at) >= r.watch.Debounce {
			delete(t.lastFired, key)
		}
	}
}

func eventKind(op fsnotify.Op) (domain.WatchEvent, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return domain.WatchCreated, true
	case op.Has(fsnotify.Write):
		return domain.WatchModified, true
	case op.Has(fsnotify.Remove):
		return domain.WatchDeleted, true
	case op.Has(fsnotify.Rename):
		return domain.WatchRenamed, true
	}
	return "", false
}

// HandleEvent submits a run for every rule the event matches and returns how
// many were accepted. A directory created below a recursive watch is
// registered and fires nothing.
func (t *Trigger) HandleEvent(ctx context.Context, ev fsnotify.Event) int {
	kind, ok := eventKind(ev.Op)
	if !ok {
		return 0
	}
	path := filepath.Clean(ev.Name)

	t.mu.Lock()
	if kind == domain.WatchCreated {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			t.syncDirs(ctx)
			t.mu.Unlock()
			return 0
		}
	}
	now := t.clock.Now()
	var fire []rule
	for _, r := range t.rules {
		if !r.watch.Matches(kind, path) {
			continue
		}
		key := r.workflowID + "\x00" + path
		if last, seen := t.lastFired[key]; seen && now.Sub(last) < r.watch.Debounce {
			continue
		}
		if r.watch.Debounce > 0 {
			t.lastFired[key] = now
		}
		fire = append(fire, r)
	}
	t.mu.Unlock()

	sort.Slice(fire, func(i, j int) bool { return fire[i].workflowID < fire[j].workflowID })
	data := map[string]any{
		"path":  path,
		"name":  filepath.Base(path),
		"dir":   filepath.Dir(path),
		"event": string(kind),
	}
	submitted := 0
	for _, r := range fire {
		run, err := t.submitter.SubmitEvent(ctx, r.workflowID, domain.TriggerFile, data)
		if err != nil {
			slog.ErrorContext(ctx, "File triggered dispatch failed", "workflow_id", r.workflowID, "workflow", r.name, "path", path, "error", err)
			continue
		}
		slog.InfoContext(ctx, "File triggered run submitted", "workflow_id", r.workflowID, "run_id", run.ID, "path", path, "event", kind)
		submitted++
	}
	return submitted
}

// Run watches the filesystem until ctx is done, reloading the rules every
// refresh interval.
func (t *Trigger) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	defer fsw.Close()
	t.attach(ctx, fsw)
	defer t.attach(ctx, nil)

	if err := t.Load(ctx); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Filesystem trigger started", "directories", len(t.Directories()))

	refresh := t.clock.After(t.opts.RefreshInterval)
	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Filesystem trigger stopping due to context cancel")
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			t.HandleEvent(ctx, ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "Filesystem watch error", "error", err)
		case <-refresh:
			if err := t.Load(ctx); err != nil {
				slog.ErrorContext(ctx, "Failed to refresh watch rules", "error", err)
			}
			refresh = t.clock.After(t.opts.RefreshInterval)
		}
	}
}

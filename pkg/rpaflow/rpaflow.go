package rpaflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/RealZimboGuy/rpaflow/internal/actions"
	"github.com/RealZimboGuy/rpaflow/internal/config"
	"github.com/RealZimboGuy/rpaflow/internal/controllers"
	"github.com/RealZimboGuy/rpaflow/internal/definition"
	"github.com/RealZimboGuy/rpaflow/internal/engine"
	"github.com/RealZimboGuy/rpaflow/internal/events"
	"github.com/RealZimboGuy/rpaflow/internal/repository"
	"github.com/RealZimboGuy/rpaflow/internal/scheduler"
	"github.com/RealZimboGuy/rpaflow/internal/tracing"
	"github.com/RealZimboGuy/rpaflow/internal/trigger/watch"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/action"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/lmittmann/tint"
)

const serviceName = "rpaflow"

// ActionRegistry holds the action types available to workflows. Embedders
// register their own handlers here before calling Start; the built-in
// actions are added by Start.
var ActionRegistry = action.NewRegistry()

// Services is the wired object graph over one database.
type Services struct {
	DB        *sql.DB
	Clock     core.Clock
	Registry  *action.Registry
	Workflows *repository.WorkflowRepository
	Runs      *repository.RunRepository
	Executors *repository.ExecutorRepository
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Watch     *watch.Trigger
	Bus       *events.Bus

	shutdownTracing func(context.Context) error
}

// NewServices registers the built-in actions into registry and builds the
// engine, scheduler, filesystem trigger and event bus. Nothing is started.
func NewServices(ctx context.Context, db *sql.DB, registry *action.Registry) (*Services, error) {
	clock := core.NewRealClock()
	if err := actions.RegisterBuiltins(registry, clock, nil); err != nil {
		return nil, fmt.Errorf("register built-in actions: %w", err)
	}

	tracer, shutdown, err := tracing.Setup(ctx, serviceName, config.GetSystemSettingString(config.OTEL_EXPORTER_ENDPOINT))
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	s := &Services{
		DB:              db,
		Clock:           clock,
		Registry:        registry,
		Workflows:       repository.NewWorkflowRepository(db, clock),
		Runs:            repository.NewRunRepository(db, clock),
		Executors:       repository.NewExecutorRepository(db, clock),
		Bus:             events.NewBus(slog.Default()),
		shutdownTracing: shutdown,
	}
	s.Engine = engine.NewEngine(registry, s.Workflows, s.Runs, s.Executors, clock, engine.OptionsFromConfig())
	s.Engine.SetTracer(tracer)
	s.Engine.SetPublisher(s.Bus)
	s.Scheduler = scheduler.New(scheduler.NewTable(), s.Workflows, s.Engine, clock, scheduler.OptionsFromConfig())
	s.Watch = watch.New(s.Workflows, s.Engine, clock, watch.OptionsFromConfig())
	return s, nil
}

// RegisterRoutes mounts the HTTP API on mux.
func (s *Services) RegisterRoutes(mux *http.ServeMux) {
	auth := controllers.NewAuthController(config.GetSystemSettingString(config.API_KEY_HASH))
	waiters := func(ctx context.Context) (controllers.CompletionWaiter, error) {
		w, err := s.Bus.NewWaiter(ctx)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
	controllers.NewWorkflowsController(auth, s.Workflows, s.Runs, s.Registry, triggers{schedule: s.Scheduler, watch: s.Watch}).RegisterRoutes(mux)
	controllers.NewRunsController(auth, s.Engine, s.Runs, waiters).RegisterRoutes(mux)
	controllers.NewActionsController(auth, s.Registry).RegisterRoutes(mux)
	controllers.NewExecutorsController(auth, s.Executors).RegisterRoutes(mux)
}

// Close stops the engine, flushes traces and closes the bus. The database is
// left to its owner.
func (s *Services) Close(ctx context.Context) error {
	var errs []error
	if err := s.Engine.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop engine: %w", err))
	}
	if err := s.Bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close event bus: %w", err))
	}
	if err := s.shutdownTracing(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	return errors.Join(errs...)
}

// Start boots the engine, the triggers and the HTTP server and blocks until
// ctx is cancelled or the server fails. A nil mux gets a fresh one.
func Start(ctx context.Context, mux *http.ServeMux) error {
	db, err := repository.Open()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	services, err := NewServices(ctx, db, ActionRegistry)
	if err != nil {
		return err
	}
	if err := services.Engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := services.Close(stopCtx); err != nil {
			slog.Error("Shutdown incomplete", "error", err)
		}
	}()

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	go func() {
		if err := services.Scheduler.Run(schedCtx); err != nil {
			slog.Error("Scheduler exited", "error", err)
		}
	}()
	go func() {
		if err := services.Watch.Run(schedCtx); err != nil {
			slog.Error("Filesystem trigger exited", "error", err)
		}
	}()

	if mux == nil {
		mux = http.NewServeMux()
	}
	services.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server")
	stopScheduler()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// RunFile stores the definition at path (creating or updating the workflow
// of the same name), executes it once and returns the terminal run. A
// disabled workflow is run anyway and stays disabled.
func RunFile(ctx context.Context, db *sql.DB, registry *action.Registry, path string) (*domain.Run, error) {
	doc, err := definition.ParseFile(path)
	if err != nil {
		return nil, err
	}
	services, err := NewServices(ctx, db, registry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := services.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()
	if err := doc.Validate(registry); err != nil {
		return nil, err
	}
	wf, err := doc.Workflow()
	if err != nil {
		return nil, err
	}
	existing, err := services.Workflows.FindByName(ctx, wf.Name)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		err = services.Workflows.Create(ctx, wf)
	case err == nil:
		wf.ID = existing.ID
		// the stored flag decides whether the schedule stays active
		wf.Enabled = existing.Enabled
		err = services.Workflows.Update(ctx, wf)
	}
	if err != nil {
		return nil, fmt.Errorf("store workflow %s: %w", wf.Name, err)
	}

	if err := services.Engine.Start(ctx); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	// an explicit run of the file ignores the enabled flag
	run, err := services.Engine.SubmitManual(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "Run submitted", "run_id", run.ID, "workflow", wf.Name, "version", wf.Version)
	return services.Engine.Wait(ctx, run.ID)
}

// SetupLogger installs a tint handler on the default slog logger. level is
// one of debug, info, warn or error; anything else means info.
func SetupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

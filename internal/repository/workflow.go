package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
	"github.com/google/uuid"
)

// WorkflowRepository stores workflow definitions. The workflows table holds
// the current version; workflow_versions keeps every version ever written.
type WorkflowRepository struct {
	db    *sql.DB
	clock core.Clock
}

const WORKFLOW_COLUMNS = ` id, name, description, version, schedule, timeout_ms, enabled, steps, created, updated, watch `

const VERSION_COLUMNS = ` workflow_id, name, description, version, schedule, timeout_ms, enabled, steps, created, created, watch `

type stepRecord struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	Params          map[string]any `json:"params,omitempty"`
	MaxAttempts     int            `json:"maxAttempts,omitempty"`
	Backoff         string         `json:"backoff,omitempty"`
	InitialInterval time.Duration  `json:"initialInterval,omitempty"`
	MaxInterval     time.Duration  `json:"maxInterval,omitempty"`
	Multiplier      float64        `json:"multiplier,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty"`
	Timeout         time.Duration  `json:"timeout,omitempty"`
}

type watchRecord struct {
	Paths     []string      `json:"paths"`
	Recursive bool          `json:"recursive,omitempty"`
	Patterns  []string      `json:"patterns,omitempty"`
	Events    []string      `json:"events,omitempty"`
	Debounce  time.Duration `json:"debounce,omitempty"`
}

func NewWorkflowRepository(db *sql.DB, clock core.Clock) *WorkflowRepository {
	return &WorkflowRepository{db: db, clock: clock}
}

func encodeSteps(steps []domain.Step) (string, error) {
	records := make([]stepRecord, len(steps))
	for i, s := range steps {
		records[i] = stepRecord{
			ID:              domain.StepIDOrDefault(s, i),
			Action:          s.Action,
			Params:          s.Params,
			MaxAttempts:     s.Retry.MaxAttempts,
			Backoff:         string(s.Retry.Backoff),
			InitialInterval: s.Retry.InitialInterval,
			MaxInterval:     s.Retry.MaxInterval,
			Multiplier:      s.Retry.Multiplier,
			ContinueOnError: s.ContinueOnError,
			Timeout:         s.Timeout,
		}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode steps: %w", err)
	}
	return string(b), nil
}

func decodeSteps(raw string) ([]domain.Step, error) {
	var records []stepRecord
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	steps := make([]domain.Step, len(records))
	for i, r := range records {
		steps[i] = domain.Step{
			ID:     r.ID,
			Action: r.Action,
			Params: r.Params,
			Retry: domain.RetryPolicy{
				MaxAttempts:     r.MaxAttempts,
				Backoff:         domain.BackoffShape(r.Backoff),
				InitialInterval: r.InitialInterval,
				MaxInterval:     r.MaxInterval,
				Multiplier:      r.Multiplier,
			},
			ContinueOnError: r.ContinueOnError,
			Timeout:         r.Timeout,
		}
	}
	return steps, nil
}

func encodeWatch(w *domain.Watch) (sql.NullString, error) {
	if w == nil {
		return sql.NullString{}, nil
	}
	rec := watchRecord{Paths: w.Paths, Recursive: w.Recursive, Patterns: w.Patterns, Debounce: w.Debounce}
	for _, ev := range w.Events {
		rec.Events = append(rec.Events, string(ev))
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode watch: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeWatch(raw sql.NullString) (*domain.Watch, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var rec watchRecord
	if err := json.Unmarshal([]byte(raw.String), &rec); err != nil {
		return nil, fmt.Errorf("decode watch: %w", err)
	}
	w := &domain.Watch{Paths: rec.Paths, Recursive: rec.Recursive, Patterns: rec.Patterns, Debounce: rec.Debounce}
	for _, ev := range rec.Events {
		w.Events = append(w.Events, domain.WatchEvent(ev))
	}
	return w, nil
}

func scanWorkflow(s scanner) (*domain.Workflow, error) {
	var (
		wf        domain.Workflow
		timeoutMs int64
		steps     string
		watch     sql.NullString
	)
	err := s.Scan(&wf.ID, &wf.Name, &wf.Description, &wf.Version, &wf.Schedule, &timeoutMs,
		&wf.Enabled, &steps, &wf.Created, &wf.Updated, &watch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	wf.Timeout = time.Duration(timeoutMs) * time.Millisecond
	if wf.Steps, err = decodeSteps(steps); err != nil {
		return nil, err
	}
	if wf.Watch, err = decodeWatch(watch); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Create inserts version 1 of a new workflow. An empty ID is assigned a uuid.
func (r *WorkflowRepository) Create(ctx context.Context, wf *domain.Workflow) error {
	if _, err := r.FindByName(ctx, wf.Name); err == nil {
		return ErrWorkflowNameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := r.clock.Now().UTC()
	wf.Version = 1
	wf.Created = now
	wf.Updated = now

	steps, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	watch, err := encodeWatch(wf.Watch)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO workflows (` + WORKFLOW_COLUMNS + `) VALUES (` + placeholders(1, 11) + `)`
	if _, err := tx.ExecContext(ctx, query, wf.ID, wf.Name, wf.Description, wf.Version, wf.Schedule,
		wf.Timeout.Milliseconds(), wf.Enabled, steps, formatDateInDatabase(now), formatDateInDatabase(now), watch); err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	if err := insertVersion(ctx, tx, wf, steps, watch); err != nil {
		return err
	}
	return tx.Commit()
}

func insertVersion(ctx context.Context, tx *sql.Tx, wf *domain.Workflow, steps string, watch sql.NullString) error {
	query := `INSERT INTO workflow_versions (workflow_id, version, name, description, schedule, timeout_ms, enabled, steps, created, watch)
		VALUES (` + placeholders(1, 10) + `)`
	_, err := tx.ExecContext(ctx, query, wf.ID, wf.Version, wf.Name, wf.Description, wf.Schedule,
		wf.Timeout.Milliseconds(), wf.Enabled, steps, formatDateInDatabase(wf.Updated), watch)
	if err != nil {
		return fmt.Errorf("insert workflow version: %w", err)
	}
	return nil
}

// Update stores wf as the next version of an existing workflow. wf.Version
// and wf.Updated are set to the stored values.
func (r *WorkflowRepository) Update(ctx context.Context, wf *domain.Workflow) error {
	if other, err := r.FindByName(ctx, wf.Name); err == nil && other.ID != wf.ID {
		return ErrWorkflowNameTaken
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	steps, err := encodeSteps(wf.Steps)
	if err != nil {
		return err
	}
	watch, err := encodeWatch(wf.Watch)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflows WHERE id = `+placeholder(1), wf.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := r.clock.Now().UTC()
	query := `UPDATE workflows SET name = ` + placeholder(1) +
		`, description = ` + placeholder(2) +
		`, version = ` + placeholder(3) +
		`, schedule = ` + placeholder(4) +
		`, timeout_ms = ` + placeholder(5) +
		`, enabled = ` + placeholder(6) +
		`, steps = ` + placeholder(7) +
		`, updated = ` + placeholder(8) +
		`, watch = ` + placeholder(9) +
		` WHERE id = ` + placeholder(10) + ` AND version = ` + placeholder(11)
	res, err := tx.ExecContext(ctx, query, wf.Name, wf.Description, current+1, wf.Schedule,
		wf.Timeout.Milliseconds(), wf.Enabled, steps, formatDateInDatabase(now), watch, wf.ID, current)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update workflow %s: concurrent modification", wf.ID)
	}

	wf.Version = current + 1
	wf.Updated = now
	if err := insertVersion(ctx, tx, wf, steps, watch); err != nil {
		return err
	}
	return tx.Commit()
}

// SetEnabled flips the enabled flag; like any edit it produces a new version.
func (r *WorkflowRepository) SetEnabled(ctx context.Context, id string, enabled bool) (*domain.Workflow, error) {
	wf, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.Enabled == enabled {
		return wf, nil
	}
	wf.Enabled = enabled
	if err := r.Update(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

func (r *WorkflowRepository) FindByID(ctx context.Context, id string) (*domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows WHERE id = ` + placeholder(1)
	return scanWorkflow(r.db.QueryRowContext(ctx, query, id))
}

func (r *WorkflowRepository) FindByName(ctx context.Context, name string) (*domain.Workflow, error) {
	query := `SELECT ` + WORKFLOW_COLUMNS + ` FROM workflows WHERE name = ` + placeholder(1)
	return scanWorkflow(r.db.QueryRowContext(ctx, query, name))
}

func (r *WorkflowRepository) FindAll(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, `SELECT `+WORKFLOW_COLUMNS+` FROM workflows ORDER BY name`)
}

// FindScheduled returns the enabled workflows that carry a schedule.
func (r *WorkflowRepository) FindScheduled(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, `SELECT `+WORKFLOW_COLUMNS+` FROM workflows WHERE enabled = `+placeholder(1)+` AND schedule <> '' ORDER BY name`, true)
}

// FindWatched returns the enabled workflows that carry a filesystem watch.
func (r *WorkflowRepository) FindWatched(ctx context.Context) ([]*domain.Workflow, error) {
	return r.list(ctx, `SELECT `+WORKFLOW_COLUMNS+` FROM workflows WHERE enabled = `+placeholder(1)+` AND watch IS NOT NULL ORDER BY name`, true)
}

// FindVersion returns a historical version of a workflow.
func (r *WorkflowRepository) FindVersion(ctx context.Context, id string, version int) (*domain.Workflow, error) {
	query := `SELECT ` + VERSION_COLUMNS + ` FROM workflow_versions WHERE workflow_id = ` + placeholder(1) +
		` AND version = ` + placeholder(2)
	return scanWorkflow(r.db.QueryRowContext(ctx, query, id, version))
}

// Delete removes a workflow and its history. Workflows with runs are kept
// so the run log stays resolvable.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var runs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE workflow_id = `+placeholder(1), id).Scan(&runs); err != nil {
		return err
	}
	if runs > 0 {
		return ErrWorkflowReferenced
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_versions WHERE workflow_id = `+placeholder(1), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM workflows WHERE id = `+placeholder(1), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *WorkflowRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/core"
	"github.com/RealZimboGuy/rpaflow/pkg/rpaflow/domain"
)

// RunRepository is the append-only run log. Step results are written together
// with the terminal status so readers never observe one without the other.
type RunRepository struct {
	db    *sql.DB
	clock core.Clock
}

const RUN_COLUMNS = ` id, workflow_id, workflow_version, workflow_name, trigger_type, status,
		       created, started, ended, executor_id, error, trigger_data `

const STEP_RESULT_COLUMNS = ` run_id, step_index, step_id, action, attempts, status, output, error_kind, error, started, ended `

// RunFilter narrows Search; zero values match everything.
type RunFilter struct {
	WorkflowID string
	Status     domain.RunStatus
	Limit      int
	Offset     int
}

func NewRunRepository(db *sql.DB, clock core.Clock) *RunRepository {
	return &RunRepository{db: db, clock: clock}
}

// Create records a new PENDING run.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	if run.Created.IsZero() {
		run.Created = r.clock.Now().UTC()
	}
	run.Status = domain.RunPending
	var triggerData sql.NullString
	if len(run.TriggerData) > 0 {
		b, err := json.Marshal(run.TriggerData)
		if err != nil {
			return fmt.Errorf("encode trigger data: %w", err)
		}
		triggerData = sql.NullString{String: string(b), Valid: true}
	}
	query := `INSERT INTO runs (` + RUN_COLUMNS + `) VALUES (` + placeholders(1, 12) + `)`
	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.WorkflowVersion, run.WorkflowName, string(run.Trigger), string(run.Status),
		formatDateInDatabase(run.Created), formatDateInDatabaseNull(run.Started), formatDateInDatabaseNull(run.Ended),
		run.ExecutorID, run.Error, triggerData)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// MarkRunning moves a PENDING run to RUNNING. ErrRunNotActive means the run
// was already picked up or finished.
func (r *RunRepository) MarkRunning(ctx context.Context, id string, started time.Time) error {
	query := `UPDATE runs SET status = ` + placeholder(1) + `, started = ` + placeholder(2) +
		` WHERE id = ` + placeholder(3) + ` AND status = ` + placeholder(4)
	res, err := r.db.ExecContext(ctx, query, string(domain.RunRunning), formatDateInDatabase(started), id, string(domain.RunPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotActive
	}
	return nil
}

// Complete writes the terminal status and every step result in one
// transaction. A run that is already terminal is left untouched.
func (r *RunRepository) Complete(ctx context.Context, run *domain.Run) error {
	if !run.Status.Terminal() {
		return fmt.Errorf("complete run %s: status %s is not terminal", run.ID, run.Status)
	}
	if !run.Ended.Valid {
		run.Ended = sql.NullTime{Time: r.clock.Now().UTC(), Valid: true}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `UPDATE runs SET status = ` + placeholder(1) +
		`, started = ` + placeholder(2) +
		`, ended = ` + placeholder(3) +
		`, error = ` + placeholder(4) +
		` WHERE id = ` + placeholder(5) + ` AND status IN (` + placeholders(6, 2) + `)`
	res, err := tx.ExecContext(ctx, query, string(run.Status), formatDateInDatabaseNull(run.Started),
		formatDateInDatabaseNull(run.Ended), run.Error, run.ID, string(domain.RunPending), string(domain.RunRunning))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotActive
	}

	insert := `INSERT INTO step_results (` + STEP_RESULT_COLUMNS + `) VALUES (` + placeholders(1, 11) + `)`
	for _, sr := range run.StepResults {
		var output sql.NullString
		if sr.Output != nil {
			b, err := json.Marshal(sr.Output)
			if err != nil {
				return fmt.Errorf("encode output of step %s: %w", sr.StepID, err)
			}
			output = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert, run.ID, sr.StepIndex, sr.StepID, sr.Action, sr.Attempts,
			string(sr.Status), output, string(sr.ErrorKind), sr.Error,
			formatDateInDatabase(sr.Started), formatDateInDatabase(sr.Ended)); err != nil {
			return fmt.Errorf("insert step result %d: %w", sr.StepIndex, err)
		}
	}
	return tx.Commit()
}

func scanRun(s scanner) (*domain.Run, error) {
	var (
		run       domain.Run
		trigger   string
		status    string
		started   sql.NullTime
		ended     sql.NullTime
		executor  sql.NullInt64
		errorText sql.NullString
		data      sql.NullString
	)
	err := s.Scan(&run.ID, &run.WorkflowID, &run.WorkflowVersion, &run.WorkflowName, &trigger, &status,
		&run.Created, &started, &ended, &executor, &errorText, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Trigger = domain.Trigger(trigger)
	run.Status = domain.RunStatus(status)
	run.Started = started
	run.Ended = ended
	run.ExecutorID = executor
	run.Error = errorText
	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &run.TriggerData); err != nil {
			return nil, fmt.Errorf("decode trigger data of run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

// FindByID returns the run with its step results in step order.
func (r *RunRepository) FindByID(ctx context.Context, id string) (*domain.Run, error) {
	query := `SELECT ` + RUN_COLUMNS + ` FROM runs WHERE id = ` + placeholder(1)
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return run, nil
	}
	run.StepResults, err = r.stepResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *RunRepository) stepResults(ctx context.Context, runID string) ([]domain.StepResult, error) {
	query := `SELECT ` + STEP_RESULT_COLUMNS + ` FROM step_results WHERE run_id = ` + placeholder(1) + ` ORDER BY step_index`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StepResult
	for rows.Next() {
		var (
			sr     domain.StepResult
			status string
			kind   string
			output sql.NullString
		)
		if err := rows.Scan(&sr.RunID, &sr.StepIndex, &sr.StepID, &sr.Action, &sr.Attempts, &status,
			&output, &kind, &sr.Error, &sr.Started, &sr.Ended); err != nil {
			return nil, err
		}
		sr.Status = domain.StepStatus(status)
		sr.ErrorKind = domain.ErrorKind(kind)
		if output.Valid {
			if err := json.Unmarshal([]byte(output.String), &sr.Output); err != nil {
				return nil, fmt.Errorf("decode output of step %s: %w", sr.StepID, err)
			}
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Search lists runs newest first, without step results.
func (r *RunRepository) Search(ctx context.Context, filter RunFilter) ([]*domain.Run, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		args = append(args, filter.WorkflowID)
		where = append(where, "workflow_id = "+placeholder(len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, "status = "+placeholder(len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `SELECT ` + RUN_COLUMNS + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += ` ORDER BY created DESC, id LIMIT ` + placeholder(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}
	return r.listRuns(ctx, query, args...)
}

// FindStale returns non-terminal runs whose executor has not sent a heartbeat
// within olderThan, or that were never claimed by an executor.
func (r *RunRepository) FindStale(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Run, error) {
	threshold := r.clock.Now().Add(-olderThan)
	query := `SELECT ` + RUN_COLUMNS + ` FROM runs
		WHERE status IN (` + placeholders(1, 2) + `)
		  AND ((executor_id IS NULL AND ` + dateBefore("created", threshold) + `)
		    OR executor_id IN (SELECT id FROM executors WHERE ` + dateBefore("last_active", threshold) + `))
		ORDER BY created
		LIMIT ` + placeholder(3)
	return r.listRuns(ctx, query, string(domain.RunPending), string(domain.RunRunning), limit)
}

// CountByStatus groups runs by status, optionally for one workflow.
func (r *RunRepository) CountByStatus(ctx context.Context, workflowID string) (map[domain.RunStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM runs`
	var args []any
	if workflowID != "" {
		query += ` WHERE workflow_id = ` + placeholder(1)
		args = append(args, workflowID)
	}
	query += ` GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *RunRepository) listRuns(ctx context.Context, query string, args ...any) ([]*domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

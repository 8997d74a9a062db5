package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gleaner/internal/queue"
	"gleaner/internal/status"
)

const orphanedStepError = "pipeline run finalized before step finished"

// Tracker persists runs in the queue database.
type Tracker struct {
	db *sql.DB
}

// New returns a tracker writing to db.
func New(db *sql.DB) *Tracker {
	return &Tracker{db: db}
}

// NewForStore returns a tracker sharing the store's connection.
func NewForStore(store *queue.Store) *Tracker {
	return New(store.DB())
}

const runColumns = "id, item_id, trigger_reason, status, actor, error, started_at, finished_at"

const stepColumns = "id, run_id, step, input_snapshot, status, result, error, started_at, finished_at"

// EnsureRun returns the open run for the item, creating one when none exists.
// The boolean reports whether a new run was created.
func (t *Tracker) EnsureRun(ctx context.Context, itemID int64, trigger Trigger, actor string) (Run, bool, error) {
	var (
		run     Run
		created bool
	)
	err := queue.RetryOnBusy(ctx, func() error {
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		existing, err := scanRun(tx.QueryRowContext(ctx,
			`SELECT `+runColumns+` FROM pipeline_runs WHERE item_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
			itemID, StatusRunning))
		switch {
		case err == nil:
			run, created = existing, false
			return tx.Commit()
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("find open run: %w", err)
		}

		now := time.Now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO pipeline_runs (item_id, trigger_reason, status, actor, started_at) VALUES (?, ?, ?, ?, ?)`,
			itemID, string(trigger), StatusRunning, actor, queue.FormatTimestamp(now))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		run = Run{ID: id, ItemID: itemID, Trigger: trigger, Status: StatusRunning, Actor: actor, StartedAt: now.UTC()}
		created = true
		return nil
	})
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		// Another writer opened the run between our read and insert.
		open, lookupErr := t.OpenRun(ctx, itemID)
		if lookupErr != nil {
			return Run{}, false, lookupErr
		}
		return open, false, nil
	}
	if err != nil {
		return Run{}, false, err
	}
	return run, created, nil
}

// OpenRun returns the item's running pipeline run.
func (t *Tracker) OpenRun(ctx context.Context, itemID int64) (Run, error) {
	run, err := scanRun(t.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE item_id = ? AND status = ? ORDER BY id DESC LIMIT 1`,
		itemID, StatusRunning))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("item %d: %w", itemID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("find open run: %w", err)
	}
	return run, nil
}

// GetRun fetches a pipeline run by id.
func (t *Tracker) GetRun(ctx context.Context, runID int64) (Run, error) {
	run, err := scanRun(t.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM pipeline_runs WHERE id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// StartStep records the start of a step inside an open run and returns the
// step run id. input is stored as a JSON snapshot.
func (t *Tracker) StartStep(ctx context.Context, runID int64, step status.Step, input any) (int64, error) {
	snapshot, err := encodeJSON(input)
	if err != nil {
		return 0, fmt.Errorf("encode step input: %w", err)
	}
	var id int64
	err = queue.RetryOnBusy(ctx, func() error {
		res, err := t.db.ExecContext(ctx,
			`INSERT INTO step_runs (run_id, step, input_snapshot, status, started_at)
             SELECT id, ?, ?, ?, ? FROM pipeline_runs WHERE id = ? AND status = ?`,
			string(step), snapshot, StatusRunning, queue.FormatTimestamp(time.Now()), runID, StatusRunning)
		if err != nil {
			return fmt.Errorf("insert step run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			if _, getErr := t.GetRun(ctx, runID); getErr != nil {
				return getErr
			}
			return fmt.Errorf("run %d: %w", runID, ErrRunClosed)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CompleteStep marks a running step run as completed with result. Steps that
// already reached a terminal status are left untouched.
func (t *Tracker) CompleteStep(ctx context.Context, stepRunID int64, result any) error {
	encoded, err := encodeJSON(result)
	if err != nil {
		return fmt.Errorf("encode step result: %w", err)
	}
	return t.finishStep(ctx, stepRunID, StatusCompleted, encoded, nil)
}

// FailStep marks a running step run as failed with cause's message.
func (t *Tracker) FailStep(ctx context.Context, stepRunID int64, cause error) error {
	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	return t.finishStep(ctx, stepRunID, StatusFailed, nil, message)
}

func (t *Tracker) finishStep(ctx context.Context, stepRunID int64, to RunStatus, result, message any) error {
	return queue.RetryOnBusy(ctx, func() error {
		res, err := t.db.ExecContext(ctx,
			`UPDATE step_runs SET status = ?, result = ?, error = ?, finished_at = ?
             WHERE id = ? AND status = ?`,
			to, result, message, queue.FormatTimestamp(time.Now()), stepRunID, StatusRunning)
		if err != nil {
			return fmt.Errorf("finish step run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}
		var exists int
		if err := t.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM step_runs WHERE id = ?`, stepRunID).Scan(&exists); err != nil {
			return fmt.Errorf("check step run: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("step run %d: %w", stepRunID, ErrStepNotFound)
		}
		return nil
	})
}

// FinalizeRun sets the run's terminal status once. Any step runs still
// running are failed first. It reports whether this call applied the
// outcome; finalizing an already terminal run returns false and no error.
func (t *Tracker) FinalizeRun(ctx context.Context, runID int64, outcome Outcome) (bool, error) {
	if outcome.Status != StatusCompleted && outcome.Status != StatusFailed {
		return false, fmt.Errorf("finalize run: invalid outcome status %q", outcome.Status)
	}
	var applied bool
	err := queue.RetryOnBusy(ctx, func() error {
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		timestamp := queue.FormatTimestamp(time.Now())
		if _, err := tx.ExecContext(ctx,
			`UPDATE step_runs SET status = ?, error = COALESCE(error, ?), finished_at = ?
             WHERE run_id = ? AND status = ?`,
			StatusFailed, orphanedStepError, timestamp, runID, StatusRunning); err != nil {
			return fmt.Errorf("close step runs: %w", err)
		}

		var message any
		if outcome.Error != "" {
			message = outcome.Error
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE pipeline_runs SET status = ?, error = ?, finished_at = ?
             WHERE id = ? AND status = ?`,
			outcome.Status, message, timestamp, runID, StatusRunning)
		if err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM pipeline_runs WHERE id = ?`, runID).Scan(&exists); err != nil {
				return fmt.Errorf("check run: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("run %d: %w", runID, ErrRunNotFound)
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		applied = affected > 0
		return nil
	})
	return applied, err
}

// RunsForItem lists an item's runs, newest first.
func (t *Tracker) RunsForItem(ctx context.Context, itemID int64) ([]Run, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs WHERE item_id = ? ORDER BY id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// StepsForRun lists a run's step runs in execution order.
func (t *Tracker) StepsForRun(ctx context.Context, runID int64) ([]StepRun, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_runs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query step runs: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		step, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run         Run
		trigger     string
		state       string
		errText     sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := row.Scan(&run.ID, &run.ItemID, &trigger, &state, &run.Actor, &errText, &startedRaw, &finishedRaw); err != nil {
		return Run{}, err
	}
	run.Trigger = Trigger(trigger)
	run.Status = RunStatus(state)
	run.Error = errText.String
	if ts, err := queue.ParseTimestamp(startedRaw); err == nil {
		run.StartedAt = ts
	}
	run.FinishedAt = parseOptional(finishedRaw)
	return run, nil
}

func scanStepRun(row scanner) (StepRun, error) {
	var (
		step        StepRun
		name        string
		state       string
		input       sql.NullString
		result      sql.NullString
		errText     sql.NullString
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := row.Scan(&step.ID, &step.RunID, &name, &input, &state, &result, &errText, &startedRaw, &finishedRaw); err != nil {
		return StepRun{}, err
	}
	step.Step = status.Step(name)
	step.Status = RunStatus(state)
	if input.Valid {
		step.InputSnapshot = json.RawMessage(input.String)
	}
	if result.Valid {
		step.Result = json.RawMessage(result.String)
	}
	step.Error = errText.String
	if ts, err := queue.ParseTimestamp(startedRaw); err == nil {
		step.StartedAt = ts
	}
	step.FinishedAt = parseOptional(finishedRaw)
	return step, nil
}

func parseOptional(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	ts, err := queue.ParseTimestamp(value.String)
	if err != nil {
		return nil
	}
	return &ts
}

func encodeJSON(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(json.RawMessage); ok {
		return string(raw), nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

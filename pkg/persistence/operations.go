package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"genforge/pkg/plan"
	"genforge/pkg/sandbox"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// ErrNoCheckpoint is returned when a run has never been checkpointed.
var ErrNoCheckpoint = errors.New("no checkpoint for run")

// DefaultListLimit caps ListRuns when no limit is given.
const DefaultListLimit = 50

// DatabaseOperations provides methods for database operations.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// CreateRun records a new run in the running state.
func (ops *DatabaseOperations) CreateRun(ctx context.Context, id, prompt, model string) error {
	_, err := ops.db.ExecContext(ctx,
		`INSERT INTO runs (id, prompt, model, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, prompt, model, RunStatusRunning, now())
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", id, err)
	}
	return nil
}

// ReopenRun puts a finished run back into the running state for a resume.
func (ops *DatabaseOperations) ReopenRun(ctx context.Context, id string) error {
	res, err := ops.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = '', error_kind = '', finished_at = NULL WHERE id = ?`,
		RunStatusRunning, id)
	if err != nil {
		return fmt.Errorf("failed to reopen run %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

// FinishRun records a run's terminal status.
func (ops *DatabaseOperations) FinishRun(ctx context.Context, id, status, errMsg, errKind string) error {
	res, err := ops.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, error_kind = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, errKind, now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return expectOneRow(res, id)
}

func expectOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, prompt, model, status, error, error_kind, created_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r        Run
		created  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Prompt, &r.Model, &r.Status, &r.Error, &r.ErrorKind, &created, &finished); err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	r.CreatedAt = parseTime(created)
	if finished.Valid {
		t := parseTime(finished.String)
		r.FinishedAt = &t
	}
	return &r, nil
}

// GetRun returns one run.
func (ops *DatabaseOperations) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(ops.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (ops *DatabaseOperations) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := ops.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// SaveCheckpoint replaces the run's checkpoint with state.
func (ops *DatabaseOperations) SaveCheckpoint(ctx context.Context, state *plan.RunState) error {
	data, err := state.Encode()
	if err != nil {
		return err
	}
	_, err = ops.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, stage, state_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			stage = excluded.stage,
			state_json = excluded.state_json,
			updated_at = excluded.updated_at
	`, state.RunID, string(state.Stage()), string(data), now())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for run %s: %w", state.RunID, err)
	}
	return nil
}

// GetCheckpoint returns the raw checkpoint row of a run.
func (ops *DatabaseOperations) GetCheckpoint(ctx context.Context, runID string) (*Checkpoint, error) {
	var (
		cp      Checkpoint
		updated string
	)
	err := ops.db.QueryRowContext(ctx,
		`SELECT run_id, stage, state_json, updated_at FROM checkpoints WHERE run_id = ?`, runID,
	).Scan(&cp.RunID, &cp.Stage, &cp.StateJSON, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoCheckpoint, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint for run %s: %w", runID, err)
	}
	cp.UpdatedAt = parseTime(updated)
	return &cp, nil
}

// LoadRunState decodes the run's checkpoint back into a RunState.
func (ops *DatabaseOperations) LoadRunState(ctx context.Context, runID string) (*plan.RunState, error) {
	cp, err := ops.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	state, err := plan.Decode([]byte(cp.StateJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint for run %s: %w", runID, err)
	}
	return state, nil
}

// AppendFileEvent journals op as the run's next file event.
func (ops *DatabaseOperations) AppendFileEvent(ctx context.Context, runID string, op sandbox.FileOp) error {
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO file_events (run_id, seq, kind, path, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM file_events WHERE run_id = ?), ?, ?, ?)
	`, runID, runID, string(op.Kind), op.Path, now())
	if err != nil {
		return fmt.Errorf("failed to journal %s %s for run %s: %w", op.Kind, op.Path, runID, err)
	}
	return nil
}

// FileEvents returns a run's journaled file events in order.
func (ops *DatabaseOperations) FileEvents(ctx context.Context, runID string) ([]FileEvent, error) {
	rows, err := ops.db.QueryContext(ctx,
		`SELECT run_id, seq, kind, path, created_at FROM file_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []FileEvent
	for rows.Next() {
		var (
			ev      FileEvent
			created string
		)
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Kind, &ev.Path, &created); err != nil {
			return nil, fmt.Errorf("failed to scan file event: %w", err)
		}
		ev.CreatedAt = parseTime(created)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file events: %w", err)
	}
	return events, nil
}

// RunStats summarizes the run history.
type RunStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Running    int `json:"running"`
	FileEvents int `json:"file_events"`
}

// Stats counts runs by status and journaled file events.
func (ops *DatabaseOperations) Stats(ctx context.Context) (*RunStats, error) {
	var s RunStats
	err := ops.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			(SELECT COUNT(*) FROM file_events)
		FROM runs
	`).Scan(&s.Total, &s.Completed, &s.Failed, &s.Running, &s.FileEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to compute run stats: %w", err)
	}
	return &s, nil
}

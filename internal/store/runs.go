package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/logging"
)

// RunRecord is one orchestrator run.
type RunRecord struct {
	RunID      string     `json:"run_id"`
	Request    string     `json:"request"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	FromMemory bool       `json:"from_memory"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// SubtaskRecord is one executed subtask of a run.
type SubtaskRecord struct {
	RunID       string `json:"run_id"`
	Seq         int    `json:"seq"`
	TaskID      string `json:"task_id"`
	Name        string `json:"name"`
	Script      string `json:"script"`
	Explanation string `json:"explanation,omitempty"`
	ResultVar   string `json:"result_var,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts"`
	DurationMs  int64  `json:"duration_ms"`
}

// RunStore persists run history.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates the run tables on db if needed.
func NewRunStore(db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}
	if err := s.initialize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RunStore) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			request TEXT NOT NULL,
			success INTEGER NOT NULL DEFAULT 0,
			error TEXT DEFAULT '',
			from_memory INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			task_id TEXT NOT NULL,
			name TEXT DEFAULT '',
			script TEXT DEFAULT '',
			explanation TEXT DEFAULT '',
			result_var TEXT DEFAULT '',
			result TEXT DEFAULT '',
			error TEXT DEFAULT '',
			attempts INTEGER DEFAULT 1,
			duration_ms INTEGER DEFAULT 0,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize run store: %w", err)
		}
	}
	return RunMigrations(s.db)
}

// BeginRun records the start of a run.
func (s *RunStore) BeginRun(ctx context.Context, runID, request string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, request, started_at) VALUES (?, ?, ?)`,
		runID, request, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	logging.StoreDebug("Run %s started", runID)
	return nil
}

// FinishRun records the outcome of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID string, success, fromMemory bool, runErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET success = ?, from_memory = ?, error = ?, finished_at = ? WHERE run_id = ?`,
		success, fromMemory, runErr, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.Errorf(apperr.KindNotFound, "store.finish_run", "run %s not found", runID)
	}
	return nil
}

// RecordSubtask stores one subtask row. The result is kept as JSON.
func (s *RunStore) RecordSubtask(ctx context.Context, rec SubtaskRecord) error {
	result := ""
	if rec.Result != nil {
		data, err := json.Marshal(rec.Result)
		if err != nil {
			data = []byte(fmt.Sprintf("%q", fmt.Sprint(rec.Result)))
		}
		result = string(data)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO subtasks
			(run_id, seq, task_id, name, script, explanation, result_var, result, error, attempts, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Seq, rec.TaskID, rec.Name, rec.Script, rec.Explanation,
		rec.ResultVar, result, rec.Error, rec.Attempts, rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to record subtask %s: %w", rec.TaskID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, request, success, error, from_memory, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns a run and its subtasks in execution order.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunRecord, []SubtaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, request, success, error, from_memory, started_at, finished_at
		FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, apperr.Errorf(apperr.KindNotFound, "store.get_run", "run %s not found", runID)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, task_id, name, script, explanation, result_var, result, error, attempts, duration_ms
		FROM subtasks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load subtasks: %w", err)
	}
	defer rows.Close()

	var subtasks []SubtaskRecord
	for rows.Next() {
		var (
			st     SubtaskRecord
			result string
		)
		if err := rows.Scan(&st.RunID, &st.Seq, &st.TaskID, &st.Name, &st.Script, &st.Explanation,
			&st.ResultVar, &result, &st.Error, &st.Attempts, &st.DurationMs); err != nil {
			return nil, nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		if result != "" {
			var v any
			if json.Unmarshal([]byte(result), &v) == nil {
				st.Result = v
			} else {
				st.Result = result
			}
		}
		subtasks = append(subtasks, st)
	}
	return run, subtasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		r        RunRecord
		finished sql.NullTime
	)
	if err := row.Scan(&r.RunID, &r.Request, &r.Success, &r.Error, &r.FromMemory, &r.StartedAt, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

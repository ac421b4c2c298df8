package store

import (
	"context"
	"encoding/json"
	"time"
)

// CreateTask registers a scheduled sync definition.
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	cfg := t.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage("{}")
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (name, dialect, cron_expr, config, is_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		t.Name, t.Dialect, t.CronExpr, []byte(cfg), t.IsEnabled,
	).Scan(&t.ID)
	return classifyStoreErr("create_task", err)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, dialect, cron_expr, config, is_enabled,
			last_run, last_status, last_message, run_count, success_count
		FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundOr("get_task", err)
	}
	return t, nil
}

// ListEnabledTasks returns every enabled task.
func (s *Store) ListEnabledTasks(ctx context.Context) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, dialect, cron_expr, config, is_enabled,
			last_run, last_status, last_message, run_count, success_count
		FROM tasks
		WHERE is_enabled
		ORDER BY id`)
	if err != nil {
		return nil, classifyStoreErr("list_tasks", err)
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, classifyStoreErr("list_tasks", err)
		}
		out = append(out, t)
	}
	return out, classifyStoreErr("list_tasks", rows.Err())
}

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		t   Task
		cfg []byte
	)
	err := row.Scan(&t.ID, &t.Name, &t.Dialect, &t.CronExpr, &cfg, &t.IsEnabled,
		&t.LastRun, &t.LastStatus, &t.LastMessage, &t.RunCount, &t.SuccessCount)
	if err != nil {
		return nil, err
	}
	t.Config = json.RawMessage(cfg)
	return &t, nil
}

// RecordTaskRun updates the run bookkeeping after a fire completes.
func (s *Store) RecordTaskRun(ctx context.Context, taskID int64, at time.Time, status, message string, succeeded bool) error {
	successIncr := 0
	if succeeded {
		successIncr = 1
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET last_run = $2, last_status = $3, last_message = $4,
			run_count = run_count + 1, success_count = success_count + $5,
			updated_at = now()
		WHERE id = $1`,
		taskID, at, status, message, successIncr)
	return classifyStoreErr("record_task_run", err)
}

// SetTaskEnabled toggles a task.
func (s *Store) SetTaskEnabled(ctx context.Context, taskID int64, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET is_enabled = $2, updated_at = now() WHERE id = $1`,
		taskID, enabled)
	return classifyStoreErr("set_task_enabled", err)
}

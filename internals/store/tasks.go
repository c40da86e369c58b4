package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type taskRepository struct {
	q querier
}

// Fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, status, prompt, model, params_json, webhook_url, result_json, error, created_at, updated_at`

func (r *taskRepository) Create(ctx context.Context, task *tasks.Task) error {
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	if task.Status == "" {
		task.Status = tasks.StatusPending
	}

	paramsJSON, err := marshalParams(task.Params)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, task.ID.String(), string(task.Status), task.Prompt, task.Model, nullIfEmpty(paramsJSON), nullString(task.WebhookURL),
		nullIfEmpty(string(task.Result)), nullString(task.Error), formatTime(task.CreatedAt), formatTime(task.UpdatedAt))
	return err
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	row := r.q.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE id = ?
`, id.String())
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) List(ctx context.Context, limit int) ([]tasks.Task, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.q.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
ORDER BY created_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []tasks.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *task)
	}
	return result, rows.Err()
}

func (r *taskRepository) UpdateByPK(ctx context.Context, id uuid.UUID, update tasks.TaskUpdate) (*tasks.Task, error) {
	res, err := r.q.ExecContext(ctx, `
UPDATE tasks
SET status = ?, result_json = ?, error = ?, updated_at = ?
WHERE id = ?
`, string(update.Status), nullIfEmpty(string(update.Result)), nullString(update.Error), formatTime(time.Now().UTC()), id.String())
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
	}
	return r.Get(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*tasks.Task, error) {
	var task tasks.Task
	var id string
	var status string
	var paramsJSON sql.NullString
	var webhookURL sql.NullString
	var resultJSON sql.NullString
	var errMsg sql.NullString
	var createdAt string
	var updatedAt string
	if err := row.Scan(&id, &status, &task.Prompt, &task.Model, &paramsJSON, &webhookURL, &resultJSON, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid task id %q: %w", id, err)
	}
	task.ID = parsedID
	task.Status = tasks.Status(status)
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &task.Params); err != nil {
			return nil, fmt.Errorf("failed to decode task params: %w", err)
		}
	}
	if webhookURL.Valid {
		task.WebhookURL = &webhookURL.String
	}
	if resultJSON.Valid && resultJSON.String != "" {
		task.Result = json.RawMessage(resultJSON.String)
	}
	if errMsg.Valid {
		task.Error = &errMsg.String
	}
	task.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	task.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &task, nil
}

func marshalParams(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode task params: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

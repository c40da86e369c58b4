// Package sqlite is a durable queue backend on the application database.
// The queue_tasks table is created by the store migrations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/romakot321/higgsfieldai-api/internals/queue"
)

type Config struct {
	DB           *sql.DB
	RetryDelay   queue.Backoff
	RetryMax     int
	PollInterval time.Duration
}

type Backend struct {
	db     *sql.DB
	signal chan struct{}
	cfg    Config
}

func New(cfg Config) (*Backend, error) {
	if cfg.DB == nil {
		return nil, errors.New("sqlite backend requires a db")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	return &Backend{
		db:     cfg.DB,
		signal: make(chan struct{}, 1),
		cfg:    cfg,
	}, nil
}

func (b *Backend) Enqueue(ctx context.Context, task queue.Task) error {
	if task.ID == "" {
		return errors.New("task id is required")
	}

	now := time.Now().UTC().UnixNano()
	_, err := b.db.ExecContext(ctx, `
INSERT INTO queue_tasks (id, job_id, payload, priority, status, attempts, available_at, created_at, updated_at)
VALUES (?, ?, ?, ?, 'pending', ?, ?, ?, ?)
`, task.ID, string(task.JobID), task.Payload, task.Priority, task.Attempts, now, now, now)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", task.ID, err)
	}
	b.notify()
	return nil
}

func (b *Backend) Dequeue(ctx context.Context) (queue.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Task{}, err
		}

		task, ok, err := b.claim(ctx)
		if err != nil {
			return queue.Task{}, err
		}
		if ok {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return queue.Task{}, ctx.Err()
		case <-b.signal:
		case <-time.After(b.cfg.PollInterval):
		}
	}
}

// claim moves the next available task to in_flight in a single statement.
func (b *Backend) claim(ctx context.Context) (queue.Task, bool, error) {
	now := time.Now().UTC().UnixNano()
	row := b.db.QueryRowContext(ctx, `
UPDATE queue_tasks
SET status = 'in_flight', updated_at = ?
WHERE id = (
	SELECT id FROM queue_tasks
	WHERE status = 'pending' AND available_at <= ?
	ORDER BY priority DESC, created_at ASC
	LIMIT 1
)
RETURNING id, job_id, payload, priority, attempts
`, now, now)

	var task queue.Task
	var jobID string
	if err := row.Scan(&task.ID, &jobID, &task.Payload, &task.Priority, &task.Attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Task{}, false, nil
		}
		return queue.Task{}, false, err
	}
	task.JobID = queue.JobID(jobID)
	return task, true, nil
}

func (b *Backend) Ack(ctx context.Context, taskID string) error {
	now := time.Now().UTC().UnixNano()
	res, err := b.db.ExecContext(ctx, `
UPDATE queue_tasks
SET status = 'completed', updated_at = ?, completed_at = ?
WHERE id = ? AND status = 'in_flight'
`, now, now, taskID)
	if err != nil {
		return err
	}
	return expectRow(res, taskID)
}

func (b *Backend) Nack(ctx context.Context, taskID string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts FROM queue_tasks WHERE id = ? AND status = 'in_flight'`, taskID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("unknown task id: %s", taskID)
		}
		return err
	}

	attempts++
	now := time.Now().UTC()
	if attempts > b.cfg.RetryMax {
		if _, err := tx.ExecContext(ctx, `
UPDATE queue_tasks SET status = 'failed', attempts = ?, updated_at = ? WHERE id = ?
`, attempts, now.UnixNano(), taskID); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return queue.ErrRetriesExceeded
	}

	availableAt := now
	if b.cfg.RetryDelay != nil {
		if delay := b.cfg.RetryDelay(attempts); delay > 0 {
			availableAt = now.Add(delay)
		}
	}
	if _, err := tx.ExecContext(ctx, `
UPDATE queue_tasks
SET status = 'pending', attempts = ?, available_at = ?, updated_at = ?
WHERE id = ?
`, attempts, availableAt.UnixNano(), now.UnixNano(), taskID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	b.notify()
	return nil
}

// RequeueInFlight returns tasks left in_flight by a previous process to the
// pending state.
func (b *Backend) RequeueInFlight(ctx context.Context) (int64, error) {
	res, err := b.db.ExecContext(ctx, `
UPDATE queue_tasks SET status = 'pending', updated_at = ? WHERE status = 'in_flight'
`, time.Now().UTC().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Stats counts queue rows per status.
func (b *Backend) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func (b *Backend) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func expectRow(res sql.Result, taskID string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("unknown task id: %s", taskID)
	}
	return nil
}

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	z "github.com/Oudwins/zog"

	"github.com/romakot321/higgsfieldai-api/internals/conf"
	"github.com/romakot321/higgsfieldai-api/internals/queue"
	"github.com/romakot321/higgsfieldai-api/internals/queue/backends/memory"
	"github.com/romakot321/higgsfieldai-api/internals/queue/backends/sqlite"
	"github.com/romakot321/higgsfieldai-api/internals/schemas"
)

const JobRunTask queue.JobID = "run_task"

type RunTaskPayload struct {
	TaskID  uuid.UUID                 `json:"task_id"`
	Request schemas.TaskCreateRequest `json:"request"`
	Image   *schemas.ImageUpload      `json:"image,omitempty"`
}

func newQueue(c *Core) (*queue.Queue, queue.Backend, error) {
	runTaskJob := queue.NewJob(JobRunTask, queue.JobConfig{
		Run: func(ctx context.Context, data []byte) error {
			payload := RunTaskPayload{}
			if err := json.Unmarshal(data, &payload); err != nil {
				c.Logger.Error("Failed to unmarshal payload", slog.String("error", err.Error()))
				return err
			}
			if issues := schemas.TaskCreateSchema.Validate(&payload.Request); len(issues) > 0 {
				return fmt.Errorf("failed to validate payload: %s", z.Issues.FlattenAndCollect(issues))
			}

			task, err := c.Task(ctx, payload.TaskID)
			if err != nil {
				return err
			}
			// A retried or requeued delivery of a task that already ended
			// only owes the webhook.
			if task.Status.IsTerminal() {
				return c.newRunTask(c.Credentials.Token()).Redeliver(ctx, task)
			}

			run, err := c.NewRunTask()
			if err != nil {
				return err
			}
			return run.Execute(ctx, payload.TaskID, payload.Request, payload.Image)
		},
	})

	retryDelay := queue.BackoffExponential(queue.BackoffConfig{Base: c.Config.Runner.PollIntervalDuration(), Max: c.Config.Runner.StartTimeoutDuration()})

	var backend queue.Backend
	switch c.Config.Queue.Backend {
	case conf.QueueBackendMemory:
		backend = memory.New(memory.Config{RetryMax: c.Config.Queue.RetryMax, RetryDelay: retryDelay})
	case conf.QueueBackendSQLite:
		sqliteBackend, err := sqlite.New(sqlite.Config{DB: c.Store.DB(), RetryMax: c.Config.Queue.RetryMax, RetryDelay: retryDelay})
		if err != nil {
			return nil, nil, err
		}
		backend = sqliteBackend
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", c.Config.Queue.Backend)
	}

	q, err := queue.NewQueue(queue.QueueConfig{
		Jobs:    []queue.Job{runTaskJob},
		Backend: backend,
		OnError: func(err error, task queue.Task) error {
			c.Logger.Error("Queue task failed",
				slog.String("error", err.Error()),
				slog.String("job_id", string(task.JobID)),
				slog.String("queue_task_id", task.ID),
				slog.Int("attempts", task.Attempts),
			)
			return nil
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return q, backend, nil
}

package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrRetriesExceeded is returned by Backend.Nack once a task has used up
// its retries. The task is dropped from the queue.
var ErrRetriesExceeded = errors.New("queue: retries exceeded")

type JobID string

type Job struct {
	ID       JobID
	Priority int
	Run      func(ctx context.Context, payload []byte) error
}

type JobConfig struct {
	Priority int
	Run      func(ctx context.Context, payload []byte) error
}

func NewJob(id JobID, cfg JobConfig) Job {
	return Job{ID: id, Priority: cfg.Priority, Run: cfg.Run}
}

type Task struct {
	ID       string
	JobID    JobID
	Payload  []byte
	Priority int
	Attempts int
}

func NewTask(jobID JobID, payload []byte) Task {
	return Task{JobID: jobID, Payload: payload}
}

// OnErrorHandler sees every job or backend failure. Returning a non-nil
// error stops the consumer.
type OnErrorHandler func(err error, task Task) error

type QueueConfig struct {
	Jobs    []Job
	Backend Backend
	OnError OnErrorHandler
}

type Backend interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Ack(ctx context.Context, taskID string) error
	Nack(ctx context.Context, taskID string) error
}

func newTaskID() string {
	return uuid.NewString()
}

package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusFailed   Status = "failed"
)

// IsTerminal reports whether no further transitions happen after s.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusFinished, StatusFailed:
		return true
	}
	return false
}

var ErrNotFound = errors.New("task not found")

type Task struct {
	ID         uuid.UUID
	Status     Status
	Prompt     string
	Model      string
	Params     map[string]any
	WebhookURL *string
	Result     json.RawMessage
	Error      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaskUpdate overwrites status, result and error together. A nil Result or
// Error clears the stored value.
type TaskUpdate struct {
	Status Status
	Result json.RawMessage
	Error  *string
}

// TaskResult is the remote outcome mapped into domain shape.
type TaskResult struct {
	Status Status
	Result json.RawMessage
	Error  *string
}

// TaskRun carries everything the remote runner needs to start a job.
type TaskRun struct {
	Prompt    string
	Model     string
	Params    map[string]any
	Image     []byte
	ImageName string
}

func (r TaskRun) HasImage() bool {
	return len(r.Image) > 0
}

type Repository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	List(ctx context.Context, limit int) ([]Task, error)
	UpdateByPK(ctx context.Context, id uuid.UUID, update TaskUpdate) (*Task, error)
}

// UnitOfWork runs fn inside one transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(repo Repository) error) error
}

func StringPtr(value string) *string {
	return &value
}

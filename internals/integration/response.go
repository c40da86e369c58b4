package integration

import (
	"encoding/json"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusNSFW       JobStatus = "nsfw"
	JobStatusCanceled   JobStatus = "canceled"
)

// Response is the job shape returned by both start and get result.
type Response struct {
	ID     string          `json:"id"`
	Status JobStatus       `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ToDomain maps a runner response into a TaskResult. It never fails: unknown
// statuses are treated as still running.
func ToDomain(resp *Response) tasks.TaskResult {
	if resp == nil {
		return tasks.TaskResult{Status: tasks.StatusRunning}
	}

	result := tasks.TaskResult{Status: mapStatus(resp.Status)}
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		result.Result = resp.Result
	}
	if resp.Error != "" {
		result.Error = tasks.StringPtr(resp.Error)
	}
	return result
}

func mapStatus(status JobStatus) tasks.Status {
	switch status {
	case JobStatusQueued:
		return tasks.StatusPending
	case JobStatusInProgress:
		return tasks.StatusRunning
	case JobStatusCompleted:
		return tasks.StatusFinished
	case JobStatusFailed, JobStatusNSFW, JobStatusCanceled:
		return tasks.StatusFailed
	default:
		return tasks.StatusRunning
	}
}

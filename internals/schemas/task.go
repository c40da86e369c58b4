package schemas

import (
	"encoding/json"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

type TaskCreateRequest struct {
	Prompt     string         `json:"prompt" zog:"prompt"`
	Model      string         `json:"model,omitempty" zog:"model"`
	Params     map[string]any `json:"params,omitempty"`
	WebhookURL *string        `json:"webhook_url,omitempty" zog:"webhook_url"`
}

var TaskCreateSchema = z.Struct(z.Shape{
	"Prompt":     z.String().Required(z.Message("Prompt is required")).Trim().Min(1),
	"Model":      z.String().Optional().Trim(),
	"WebhookURL": z.Ptr(z.String().Trim().URL(z.Message("Webhook url must be a valid url"))),
})

// ToRun builds the immutable command sent to the remote runner.
func (r TaskCreateRequest) ToRun(image []byte, imageName string) tasks.TaskRun {
	return tasks.TaskRun{
		Prompt:    r.Prompt,
		Model:     r.Model,
		Params:    r.Params,
		Image:     image,
		ImageName: imageName,
	}
}

// TaskReadResponse is the public view of a task and the webhook payload.
// Absent result and error encode as null.
type TaskReadResponse struct {
	ID     uuid.UUID       `json:"id"`
	Status tasks.Status    `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func NewTaskReadResponse(id uuid.UUID, result tasks.TaskResult) TaskReadResponse {
	return TaskReadResponse{
		ID:     id,
		Status: result.Status,
		Result: result.Result,
		Error:  result.Error,
	}
}

func TaskReadFromTask(task *tasks.Task) TaskReadResponse {
	return TaskReadResponse{
		ID:     task.ID,
		Status: task.Status,
		Result: task.Result,
		Error:  task.Error,
	}
}

// ImageUpload is the optional binary input of a task.
type ImageUpload struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

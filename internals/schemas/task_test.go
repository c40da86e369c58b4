package schemas

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

func TestTaskCreateSchemaTrims(t *testing.T) {
	hook := "  https://example.com/hook  "
	req := TaskCreateRequest{
		Prompt:     "  a red fox  ",
		Model:      "  soul  ",
		WebhookURL: &hook,
	}

	if issues := TaskCreateSchema.Validate(&req); len(issues) > 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if req.Prompt != "a red fox" {
		t.Fatalf("expected trimmed prompt, got %q", req.Prompt)
	}
	if req.Model != "soul" {
		t.Fatalf("expected trimmed model, got %q", req.Model)
	}
	if req.WebhookURL == nil || *req.WebhookURL != "https://example.com/hook" {
		t.Fatalf("expected trimmed webhook url, got %v", req.WebhookURL)
	}
}

func TestTaskCreateSchemaRequiresPrompt(t *testing.T) {
	req := TaskCreateRequest{}
	if issues := TaskCreateSchema.Validate(&req); len(issues) == 0 {
		t.Fatalf("expected validation issues")
	}
}

func TestTaskCreateSchemaRejectsBadWebhook(t *testing.T) {
	hook := "not a url"
	req := TaskCreateRequest{Prompt: "x", WebhookURL: &hook}
	if issues := TaskCreateSchema.Validate(&req); len(issues) == 0 {
		t.Fatalf("expected validation issues")
	}
}

func TestTaskCreateSchemaWebhookOptional(t *testing.T) {
	req := TaskCreateRequest{Prompt: "x"}
	if issues := TaskCreateSchema.Validate(&req); len(issues) > 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if req.WebhookURL != nil {
		t.Fatalf("expected nil webhook url")
	}
}

func TestToRunCarriesImage(t *testing.T) {
	req := TaskCreateRequest{Prompt: "x", Model: "m", Params: map[string]any{"k": "v"}}
	run := req.ToRun([]byte{1, 2}, "a.png")
	if !run.HasImage() || run.ImageName != "a.png" || run.Model != "m" || run.Params["k"] != "v" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestTaskReadResponseNullFields(t *testing.T) {
	id := uuid.MustParse("0b7f2c3e-6a4e-4d7c-9a55-3f0d3c1f8e21")
	data, err := json.Marshal(NewTaskReadResponse(id, tasks.TaskResult{Status: tasks.StatusFailed, Error: tasks.StringPtr("Timeout")}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"id":"0b7f2c3e-6a4e-4d7c-9a55-3f0d3c1f8e21","status":"failed","result":null,"error":"Timeout"}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

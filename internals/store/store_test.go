package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/romakot321/higgsfieldai-api/internals/tasks"
	"github.com/romakot321/higgsfieldai-api/internals/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTask(t *testing.T, store *Store, webhook *string) *tasks.Task {
	t.Helper()
	task := &tasks.Task{
		ID:         uuid.New(),
		Prompt:     "a cat in a hat",
		Model:      "soul",
		Params:     map[string]any{"seed": float64(42)},
		WebhookURL: webhook,
	}
	if err := store.Tasks().Create(context.Background(), task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestOpenAppliesMigrations(t *testing.T) {
	store := openTestStore(t)

	for _, table := range []string{"tasks", "queue_tasks"} {
		row := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		var name string
		if err := row.Scan(&name); err != nil {
			t.Fatalf("scan %s: %v", table, err)
		}
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate should be a no-op: %v", err)
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	created := createTask(t, store, tasks.StringPtr("https://example.com/hook"))

	got, err := store.Tasks().Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.Prompt != created.Prompt || got.Model != created.Model {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Params["seed"] != float64(42) {
		t.Fatalf("unexpected params %v", got.Params)
	}
	if got.WebhookURL == nil || *got.WebhookURL != "https://example.com/hook" {
		t.Fatalf("unexpected webhook %v", got.WebhookURL)
	}
	if got.Result != nil || got.Error != nil {
		t.Fatalf("expected empty result and error")
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Tasks().Get(context.Background(), uuid.New())
	if !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateByPKInsideUnitOfWork(t *testing.T) {
	store := openTestStore(t)
	created := createTask(t, store, nil)

	var updated *tasks.Task
	err := store.Do(context.Background(), func(repo tasks.Repository) error {
		var err error
		updated, err = repo.UpdateByPK(context.Background(), created.ID, tasks.TaskUpdate{
			Status: tasks.StatusFinished,
			Result: json.RawMessage(`{"text":"ok"}`),
		})
		return err
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if updated.Status != tasks.StatusFinished {
		t.Fatalf("expected finished, got %s", updated.Status)
	}
	if string(updated.Result) != `{"text":"ok"}` {
		t.Fatalf("unexpected result %s", updated.Result)
	}
}

func TestUpdateByPKUnknownFails(t *testing.T) {
	store := openTestStore(t)
	err := store.Do(context.Background(), func(repo tasks.Repository) error {
		_, err := repo.UpdateByPK(context.Background(), uuid.New(), tasks.TaskUpdate{Status: tasks.StatusFailed})
		return err
	})
	if !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	created := createTask(t, store, nil)

	boom := errors.New("boom")
	err := store.Do(context.Background(), func(repo tasks.Repository) error {
		if _, err := repo.UpdateByPK(context.Background(), created.ID, tasks.TaskUpdate{Status: tasks.StatusFailed}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := store.Tasks().Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusPending {
		t.Fatalf("expected rollback to keep pending, got %s", got.Status)
	}
}

func TestUpdateIsLastWriteWins(t *testing.T) {
	store := openTestStore(t)
	created := createTask(t, store, nil)

	update := tasks.TaskUpdate{Status: tasks.StatusFailed, Error: tasks.StringPtr("Timeout")}
	for range 2 {
		if _, err := store.Tasks().UpdateByPK(context.Background(), created.ID, update); err != nil {
			t.Fatalf("UpdateByPK: %v", err)
		}
	}

	got, err := store.Tasks().Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != tasks.StatusFailed || got.Error == nil || *got.Error != "Timeout" {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.Result != nil {
		t.Fatalf("expected no result, got %s", got.Result)
	}
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := &tasks.Task{ID: uuid.New(), Prompt: "first", Model: "soul", CreatedAt: base}
	second := &tasks.Task{ID: uuid.New(), Prompt: "second", Model: "soul", CreatedAt: base.Add(time.Second)}
	for _, task := range []*tasks.Task{first, second} {
		if err := store.Tasks().Create(context.Background(), task); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := store.Tasks().List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", list[0].ID, list[1].ID)
	}
}

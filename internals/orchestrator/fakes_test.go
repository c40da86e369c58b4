package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/romakot321/higgsfieldai-api/internals/integration"
	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

type memoryStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*tasks.Task
	updates []tasks.TaskUpdate
	failDo  error
}

func newMemoryStore(ids ...uuid.UUID) *memoryStore {
	s := &memoryStore{tasks: map[uuid.UUID]*tasks.Task{}}
	for _, id := range ids {
		s.tasks[id] = &tasks.Task{ID: id, Status: tasks.StatusPending}
	}
	return s
}

func (s *memoryStore) Do(ctx context.Context, fn func(repo tasks.Repository) error) error {
	if s.failDo != nil {
		return s.failDo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *memoryStore) Create(ctx context.Context, task *tasks.Task) error {
	s.tasks[task.ID] = task
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	out := *task
	return &out, nil
}

func (s *memoryStore) List(ctx context.Context, limit int) ([]tasks.Task, error) {
	out := make([]tasks.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	return out, nil
}

func (s *memoryStore) UpdateByPK(ctx context.Context, id uuid.UUID, update tasks.TaskUpdate) (*tasks.Task, error) {
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", id, tasks.ErrNotFound)
	}
	s.updates = append(s.updates, update)
	task.Status = update.Status
	task.Result = update.Result
	task.Error = update.Error
	out := *task
	return &out, nil
}

func (s *memoryStore) task(id uuid.UUID) tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

func (s *memoryStore) writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

type step struct {
	resp *integration.Response
	err  error
}

func respond(status integration.JobStatus) step {
	return step{resp: &integration.Response{Status: status}}
}

func fail(err error) step {
	return step{err: err}
}

// fakeRunner replays scripted steps. Start steps are consumed once and fall
// back to a queued response; the last poll step repeats.
type fakeRunner struct {
	mu         sync.Mutex
	startSteps []step
	pollSteps  []step
	blockStart bool

	token       *oauth2.Token
	startTokens []string
	pollTokens  []string
}

func (f *fakeRunner) Start(ctx context.Context, taskID uuid.UUID, command tasks.TaskRun) (*integration.Response, error) {
	f.mu.Lock()
	f.startTokens = append(f.startTokens, accessToken(f.token))
	block := f.blockStart
	var next step
	if len(f.startSteps) > 0 {
		next = f.startSteps[0]
		f.startSteps = f.startSteps[1:]
	} else {
		next = respond(integration.JobStatusQueued)
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("POST /v1/jobs: %w", ctx.Err())
	}
	return next.resp, next.err
}

func (f *fakeRunner) GetResult(ctx context.Context, taskID uuid.UUID) (*integration.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollTokens = append(f.pollTokens, accessToken(f.token))
	if len(f.pollSteps) == 0 {
		return &integration.Response{Status: integration.JobStatusInProgress}, nil
	}
	next := f.pollSteps[0]
	if len(f.pollSteps) > 1 {
		f.pollSteps = f.pollSteps[1:]
	}
	return next.resp, next.err
}

func (f *fakeRunner) SetToken(token *oauth2.Token) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeRunner) starts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.startTokens...)
}

func (f *fakeRunner) polls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pollTokens...)
}

func accessToken(token *oauth2.Token) string {
	if token == nil {
		return ""
	}
	return token.AccessToken
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	return &oauth2.Token{AccessToken: fmt.Sprintf("fresh-%d", f.calls), RefreshToken: old.RefreshToken}, nil
}

type sentWebhook struct {
	url     string
	payload any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentWebhook
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, url string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentWebhook{url: url, payload: payload})
	return f.err
}

func (f *fakeNotifier) calls() []sentWebhook {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentWebhook(nil), f.sent...)
}

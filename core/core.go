// Package core wires configuration, storage, credentials and the job queue
// into the operations the CLI exposes.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/romakot321/higgsfieldai-api/internals/auth"
	"github.com/romakot321/higgsfieldai-api/internals/conf"
	"github.com/romakot321/higgsfieldai-api/internals/env"
	"github.com/romakot321/higgsfieldai-api/internals/integration"
	"github.com/romakot321/higgsfieldai-api/internals/orchestrator"
	"github.com/romakot321/higgsfieldai-api/internals/queue"
	"github.com/romakot321/higgsfieldai-api/internals/queue/backends/sqlite"
	"github.com/romakot321/higgsfieldai-api/internals/schemas"
	"github.com/romakot321/higgsfieldai-api/internals/store"
	"github.com/romakot321/higgsfieldai-api/internals/tasks"
	"github.com/romakot321/higgsfieldai-api/internals/webhook"
)

const DBFileName = "higgsfield.db"

type Options struct {
	ConfigPath string
	// Config and Env replace loading from disk and the process environment.
	Config    *conf.Config
	Env       *env.EnvStruct
	LogOutput io.Writer
}

type Core struct {
	Config      *conf.Config
	Env         *env.EnvStruct
	Logger      *slog.Logger
	Store       *store.Store
	TokenFile   *auth.TokenFile
	Credentials *auth.Credentials
	Refresher   *auth.SharedRefresher
	Notifier    *webhook.Sender
	Queue       *queue.Queue

	backend queue.Backend
}

func New(ctx context.Context, opts Options) (*Core, error) {
	envs := opts.Env
	if envs == nil {
		loaded, err := env.Get()
		if err != nil {
			return nil, err
		}
		envs = loaded
	}

	config := opts.Config
	if config == nil {
		path := opts.ConfigPath
		if path == "" {
			path = envs.CONFIG_PATH
		}
		loaded, err := conf.Load(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}
	config.Server.DataDir = filepath.Clean(config.Server.DataDir)

	logger := InitLogger(config, envs, opts.LogOutput)

	if err := os.MkdirAll(config.Server.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := store.Open(ctx, filepath.Join(config.Server.DataDir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	tokenFile := auth.NewTokenFile(config.Server.DataDir)
	token, err := auth.ResolveToken(envs.ACCESS_TOKEN, envs.REFRESH_TOKEN, tokenFile)
	if err != nil && !errors.Is(err, auth.ErrNoToken) {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	credentials := auth.NewCredentials(token)

	c := &Core{
		Config:      config,
		Env:         envs,
		Logger:      logger,
		Store:       db,
		TokenFile:   tokenFile,
		Credentials: credentials,
		Refresher: auth.NewSharedRefresher(
			credentials,
			auth.NewOAuthRefresher(config.Runner.TokenURL, envs.CLIENT_ID, envs.CLIENT_SECRET, nil),
			tokenFile,
			logger,
		),
		Notifier: webhook.NewSender(
			webhook.WithSecret(envs.WEBHOOK_SECRET),
			webhook.WithTimeout(config.Webhook.TimeoutDuration()),
		),
	}

	q, backend, err := newQueue(c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}
	c.Queue = q
	c.backend = backend

	return c, nil
}

func (c *Core) Close() error {
	return c.Store.Close()
}

// Options translates the config into orchestrator options.
func (c *Core) Options() orchestrator.Options {
	runner := c.Config.Runner
	return orchestrator.Options{
		StartTimeout:   runner.StartTimeoutDuration(),
		PollInterval:   runner.PollIntervalDuration(),
		PollAttempts:   runner.PollAttempts,
		MaxAuthRetries: runner.MaxAuthRetries,
		FailFast:       runner.FailFast,
		WebhookPolicy:  orchestrator.WebhookPolicy(c.Config.Webhook.OnFailure),
	}
}

// NewRunTask builds an orchestrator with its own runner client seeded from
// the shared credentials.
func (c *Core) NewRunTask() (*orchestrator.RunTask, error) {
	token := c.Credentials.Token()
	if token == nil {
		return nil, auth.ErrNoToken
	}
	return c.newRunTask(token), nil
}

func (c *Core) newRunTask(token *oauth2.Token) *orchestrator.RunTask {
	client := integration.NewClient(c.Config.Runner.BaseURL,
		integration.WithRequestTimeout(c.Config.Runner.RequestTimeoutDuration()),
		integration.WithLogger(c.Logger),
	)
	return orchestrator.New(orchestrator.Deps{
		UnitOfWork: c.Store,
		Runner:     client,
		Token:      token,
		Refresher:  c.Refresher,
		Notifier:   c.Notifier,
		Mapper:     integration.ToDomain,
		Logger:     c.Logger,
	}, c.Options())
}

// CreateTask validates request and stores a pending task.
func (c *Core) CreateTask(ctx context.Context, request *schemas.TaskCreateRequest) (*tasks.Task, error) {
	if issues := schemas.TaskCreateSchema.Validate(request); len(issues) > 0 {
		return nil, fmt.Errorf("invalid task:\n%s", z.Issues.Prettify(issues))
	}

	task := &tasks.Task{
		ID:         uuid.New(),
		Status:     tasks.StatusPending,
		Prompt:     request.Prompt,
		Model:      request.Model,
		Params:     request.Params,
		WebhookURL: request.WebhookURL,
	}
	err := c.Store.Do(ctx, func(repo tasks.Repository) error {
		return repo.Create(ctx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	c.Logger.Info("Created task", slog.String("task_id", task.ID.String()))
	return task, nil
}

// Submit creates a task and queues it for a worker.
func (c *Core) Submit(ctx context.Context, request schemas.TaskCreateRequest, image *schemas.ImageUpload) (*tasks.Task, string, error) {
	task, err := c.CreateTask(ctx, &request)
	if err != nil {
		return nil, "", err
	}

	data, err := json.Marshal(RunTaskPayload{TaskID: task.ID, Request: request, Image: image})
	if err != nil {
		return nil, "", err
	}
	queueID, err := c.Queue.Enqueue(ctx, queue.NewTask(JobRunTask, data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to enqueue task: %w", err)
	}
	c.Logger.Info("Queued task", slog.String("task_id", task.ID.String()), slog.String("queue_task_id", queueID))
	return task, queueID, nil
}

// Run creates a task and executes it in the calling goroutine. The stored
// task is returned even when Execute reports an error, so callers still see
// the recorded outcome.
func (c *Core) Run(ctx context.Context, request schemas.TaskCreateRequest, image *schemas.ImageUpload) (*tasks.Task, error) {
	run, err := c.NewRunTask()
	if err != nil {
		return nil, err
	}
	task, err := c.CreateTask(ctx, &request)
	if err != nil {
		return nil, err
	}
	execErr := run.Execute(ctx, task.ID, request, image)

	stored, err := c.Store.Tasks().Get(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return nil, errors.Join(execErr, err)
	}
	return stored, execErr
}

func (c *Core) Task(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	return c.Store.Tasks().Get(ctx, id)
}

func (c *Core) Tasks(ctx context.Context, limit int) ([]tasks.Task, error) {
	return c.Store.Tasks().List(ctx, limit)
}

// NewConsumer prepares a worker pool for the queue. Tasks a crashed worker
// left in flight are handed out again.
func (c *Core) NewConsumer(ctx context.Context) (*queue.Consumer, error) {
	if backend, ok := c.backend.(*sqlite.Backend); ok {
		n, err := backend.RequeueInFlight(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to recover queue: %w", err)
		}
		if n > 0 {
			c.Logger.Warn("Requeued interrupted tasks", slog.Int64("count", n))
		}
	}
	return queue.NewConsumer(c.Queue, queue.ConsumerOptions{Workers: c.Config.Queue.Workers}), nil
}

// SaveToken stores a credential in the token file and the shared store.
func (c *Core) SaveToken(accessToken, refreshToken string) error {
	token := &oauth2.Token{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		Expiry:       auth.ExpiryFromJWT(accessToken),
	}
	if err := c.TokenFile.Write(token); err != nil {
		return err
	}
	c.Credentials.Set(token)
	return nil
}

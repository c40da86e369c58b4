// Package orchestrator drives one task from remote start to a persisted,
// notified terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/romakot321/higgsfieldai-api/internals/assert"
	"github.com/romakot321/higgsfieldai-api/internals/integration"
	"github.com/romakot321/higgsfieldai-api/internals/poll"
	"github.com/romakot321/higgsfieldai-api/internals/schemas"
	"github.com/romakot321/higgsfieldai-api/internals/tasks"
)

const (
	msgStartTimeout   = "Generation run error: Timeout"
	msgPollTimeout    = "Timeout"
	msgAuthLimit      = "Unauthorized: credential refresh limit reached"
	msgRemoteFailed   = "Remote task failed"
	prefixRequest     = "Request error: "
	prefixInternal    = "Internal exception: "
	prefixTokenReload = "Token refresh error: "
)

type Runner interface {
	Start(ctx context.Context, taskID uuid.UUID, command tasks.TaskRun) (*integration.Response, error)
	GetResult(ctx context.Context, taskID uuid.UUID) (*integration.Response, error)
	SetToken(token *oauth2.Token)
}

type TokenRefresher interface {
	Refresh(ctx context.Context, old *oauth2.Token) (*oauth2.Token, error)
}

type Notifier interface {
	Send(ctx context.Context, url string, payload any) error
}

// ResultMapper converts a runner response into domain shape. It must not fail.
type ResultMapper func(resp *integration.Response) tasks.TaskResult

type WebhookPolicy string

const (
	// WebhookLog logs delivery failures and lets Execute succeed.
	WebhookLog WebhookPolicy = "log"
	// WebhookFail returns delivery failures from Execute.
	WebhookFail WebhookPolicy = "fail"
)

type Options struct {
	StartTimeout   time.Duration
	PollInterval   time.Duration
	PollAttempts   int
	MaxAuthRetries int
	// FailFast stops polling as soon as the runner reports a failed job.
	FailFast      bool
	WebhookPolicy WebhookPolicy
}

func DefaultOptions() Options {
	return Options{
		StartTimeout:   300 * time.Second,
		PollInterval:   time.Second,
		PollAttempts:   300,
		MaxAuthRetries: 3,
		WebhookPolicy:  WebhookLog,
	}
}

type Deps struct {
	UnitOfWork tasks.UnitOfWork
	Runner     Runner
	Token      *oauth2.Token
	Refresher  TokenRefresher
	Notifier   Notifier
	Mapper     ResultMapper
	Logger     *slog.Logger
}

// RunTask handles a single invocation. Build a new one per task: it owns the
// credential and the auth retry budget of that invocation.
type RunTask struct {
	uow       tasks.UnitOfWork
	runner    Runner
	token     *oauth2.Token
	refresher TokenRefresher
	notifier  Notifier
	mapper    ResultMapper
	base      *slog.Logger
	logger    *slog.Logger
	opts      Options

	authRetries int
}

func New(deps Deps, opts Options) *RunTask {
	assert.Assert(deps.UnitOfWork != nil, "[ORCHESTRATOR] UnitOfWork is required")
	assert.Assert(deps.Runner != nil, "[ORCHESTRATOR] Runner is required")

	mapper := deps.Mapper
	if mapper == nil {
		mapper = integration.ToDomain
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.WebhookPolicy == "" {
		opts.WebhookPolicy = WebhookLog
	}
	if deps.Token != nil {
		deps.Runner.SetToken(deps.Token)
	}
	return &RunTask{
		uow:       deps.UnitOfWork,
		runner:    deps.Runner,
		token:     deps.Token,
		refresher: deps.Refresher,
		notifier:  deps.Notifier,
		mapper:    mapper,
		base:      logger,
		logger:    logger,
		opts:      opts,
	}
}

// failure is an outcome that ends the task as failed with Error() as the
// persisted message.
type failure struct {
	message string
	err     error
}

func (f *failure) Error() string { return f.message }
func (f *failure) Unwrap() error { return f.err }

// Execute starts the remote job, waits for it and records the outcome. Task
// failures are persisted, not returned. The returned error reports a failed
// persistence write or, under WebhookFail, a failed webhook delivery.
func (r *RunTask) Execute(ctx context.Context, taskID uuid.UUID, request schemas.TaskCreateRequest, image *schemas.ImageUpload) error {
	r.logger = r.base.With(slog.String("task_id", taskID.String()))

	var command tasks.TaskRun
	if image != nil {
		command = request.ToRun(image.Data, image.Name)
	} else {
		command = request.ToRun(nil, "")
	}

	r.logger.Info("Starting task", slog.String("model", command.Model))
	r.logger.Debug("Task params",
		slog.String("prompt", command.Prompt),
		slog.Any("params", command.Params),
		slog.Bool("image", command.HasImage()),
	)

	if _, err := r.run(ctx, taskID, command); err != nil {
		return r.storeError(ctx, taskID, request.WebhookURL, err.Error())
	}

	result, err := r.waitForResult(ctx, taskID)
	if err != nil {
		return r.storeError(ctx, taskID, request.WebhookURL, err.Error())
	}

	r.logger.Info("Task result", slog.String("status", string(result.Status)), slog.Int("result_bytes", len(result.Result)))
	return r.storeResult(ctx, taskID, request.WebhookURL, result)
}

// Redeliver notifies the webhook of a task that already reached a terminal
// state. The record and the remote job are left alone.
func (r *RunTask) Redeliver(ctx context.Context, task *tasks.Task) error {
	r.logger = r.base.With(slog.String("task_id", task.ID.String()))
	if !task.Status.IsTerminal() {
		return fmt.Errorf("task %s is %s, not terminal", task.ID, task.Status)
	}
	r.logger.Info("Redelivering webhook for finished task", slog.String("status", string(task.Status)))
	return r.sendWebhook(context.WithoutCancel(ctx), task.ID, task.WebhookURL, tasks.TaskResult{
		Status: task.Status,
		Result: task.Result,
		Error:  task.Error,
	})
}

func (r *RunTask) run(ctx context.Context, taskID uuid.UUID, command tasks.TaskRun) (*integration.Response, error) {
	for {
		resp, err := r.startOnce(ctx, taskID, command)
		if err == nil {
			r.logger.Info("Remote job started", slog.String("remote_status", string(resp.Status)))
			return resp, nil
		}

		switch {
		case errors.Is(err, integration.ErrUnauthorized):
			if err := r.reauthenticate(ctx); err != nil {
				return nil, err
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			r.logger.Warn("Remote start timed out", slog.Duration("timeout", r.opts.StartTimeout))
			return nil, &failure{message: msgStartTimeout, err: err}
		default:
			return nil, r.classify(err)
		}
	}
}

func (r *RunTask) startOnce(ctx context.Context, taskID uuid.UUID, command tasks.TaskRun) (*integration.Response, error) {
	if r.opts.StartTimeout <= 0 {
		return r.runner.Start(ctx, taskID, command)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.StartTimeout)
	defer cancel()
	return r.runner.Start(ctx, taskID, command)
}

func (r *RunTask) waitForResult(ctx context.Context, taskID uuid.UUID) (tasks.TaskResult, error) {
	cfg := poll.Config{Interval: r.opts.PollInterval, MaxAttempts: r.opts.PollAttempts}

	for {
		var result tasks.TaskResult
		err := poll.Until(ctx, cfg, func(ctx context.Context) (bool, error) {
			resp, err := r.runner.GetResult(ctx, taskID)
			if err != nil {
				return false, err
			}
			mapped := r.mapper(resp)
			r.logger.Debug("Polled remote job", slog.String("status", string(mapped.Status)))

			switch {
			case mapped.Status == tasks.StatusFinished:
				result = mapped
				return true, nil
			case r.opts.FailFast && mapped.Status == tasks.StatusFailed:
				message := msgRemoteFailed
				if mapped.Error != nil && *mapped.Error != "" {
					message = *mapped.Error
				}
				return false, &failure{message: message}
			}
			return false, nil
		})

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, integration.ErrUnauthorized):
			if err := r.reauthenticate(ctx); err != nil {
				return tasks.TaskResult{}, err
			}
			r.logger.Info("Restarting result polling after credential refresh")
		case errors.Is(err, poll.ErrExhausted):
			r.logger.Warn("Remote job did not finish in time", slog.Int("attempts", r.opts.PollAttempts))
			return tasks.TaskResult{}, &failure{message: msgPollTimeout, err: err}
		default:
			return tasks.TaskResult{}, r.classify(err)
		}
	}
}

// reauthenticate refreshes the credential and installs it into the runner.
// Every call spends one unit of the invocation's auth retry budget.
func (r *RunTask) reauthenticate(ctx context.Context) error {
	if r.authRetries >= r.opts.MaxAuthRetries {
		r.logger.Error("Runner keeps rejecting credentials", slog.Int("refreshes", r.authRetries))
		return &failure{message: msgAuthLimit, err: integration.ErrUnauthorized}
	}
	r.authRetries++

	token, err := r.refresher.Refresh(ctx, r.token)
	if err != nil {
		r.logger.Error("Failed to refresh runner token", slog.String("error", err.Error()))
		return &failure{message: prefixTokenReload + err.Error(), err: err}
	}
	r.token = token
	r.runner.SetToken(token)
	r.logger.Debug("Installed refreshed token", slog.Int("refreshes", r.authRetries))
	return nil
}

func (r *RunTask) classify(err error) error {
	var f *failure
	if errors.As(err, &f) {
		return f
	}

	var reqErr *integration.RequestError
	if errors.As(err, &reqErr) {
		r.logger.Warn("Remote runner rejected request",
			slog.Int("status_code", reqErr.StatusCode),
			slog.String("error", reqErr.Error()),
		)
		return &failure{message: prefixRequest + reqErr.Error(), err: err}
	}

	r.logger.Error("Unexpected error talking to remote runner", slog.String("error", err.Error()))
	return &failure{message: prefixInternal + err.Error(), err: err}
}

func (r *RunTask) storeError(ctx context.Context, taskID uuid.UUID, webhookURL *string, message string) error {
	r.logger.Info("Task failed", slog.String("error", message))
	return r.storeResult(ctx, taskID, webhookURL, tasks.TaskResult{
		Status: tasks.StatusFailed,
		Error:  tasks.StringPtr(message),
	})
}

// storeResult writes the terminal state and only then notifies the webhook.
// Writes run detached from ctx cancellation so an aborted invocation still
// leaves a terminal record.
func (r *RunTask) storeResult(ctx context.Context, taskID uuid.UUID, webhookURL *string, result tasks.TaskResult) error {
	ctx = context.WithoutCancel(ctx)

	err := r.uow.Do(ctx, func(repo tasks.Repository) error {
		_, err := repo.UpdateByPK(ctx, taskID, tasks.TaskUpdate{
			Status: result.Status,
			Result: result.Result,
			Error:  result.Error,
		})
		return err
	})
	if err != nil {
		r.logger.Error("Failed to persist task outcome", slog.String("error", err.Error()))
		return fmt.Errorf("persisting task %s: %w", taskID, err)
	}

	return r.sendWebhook(ctx, taskID, webhookURL, result)
}

func (r *RunTask) sendWebhook(ctx context.Context, taskID uuid.UUID, webhookURL *string, result tasks.TaskResult) error {
	if webhookURL == nil || *webhookURL == "" || r.notifier == nil {
		return nil
	}

	err := r.notifier.Send(ctx, *webhookURL, schemas.NewTaskReadResponse(taskID, result))
	if err == nil {
		r.logger.Debug("Webhook delivered", slog.String("url", *webhookURL))
		return nil
	}

	if r.opts.WebhookPolicy == WebhookFail {
		return fmt.Errorf("delivering webhook for task %s: %w", taskID, err)
	}
	r.logger.Warn("Webhook delivery failed", slog.String("url", *webhookURL), slog.String("error", err.Error()))
	return nil
}

// Package cli is the higgsfield command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	z "github.com/Oudwins/zog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/romakot321/higgsfieldai-api/core"
	"github.com/romakot321/higgsfieldai-api/internals/cliutil"
	"github.com/romakot321/higgsfieldai-api/internals/schemas"
	"github.com/romakot321/higgsfieldai-api/internals/tasks"
	"github.com/romakot321/higgsfieldai-api/internals/version"
	"github.com/romakot321/higgsfieldai-api/tui"
)

var ErrTaskFailed = errors.New("task failed")

const shutdownTimeout = 30 * time.Second

type TaskArgs struct {
	Prompt  string   `zog:"prompt"`
	Model   string   `zog:"model"`
	Params  []string `zog:"param"`
	Image   string   `zog:"image"`
	Webhook string   `zog:"webhook"`
}

var taskArgsSchema = z.Struct(z.Shape{
	"Prompt": z.String().Required(z.Message("--prompt is required")).Trim(),
	"Model":  z.String().Optional().Trim(),
	"Params": z.Slice(z.String().TestFunc(func(val *string, ctx z.Ctx) bool {
		key, _, ok := strings.Cut(*val, "=")
		return ok && strings.TrimSpace(key) != ""
	}, z.Message("--param must look like key=value"))),
	"Image":   z.String().Optional().Trim(),
	"Webhook": z.String().Optional().Trim(),
})

type app struct {
	opts core.Options
}

func Execute() {
	if err := NewRootCmd(core.Options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree. opts is the base for every core the
// commands open; --config overrides its ConfigPath.
func NewRootCmd(opts core.Options) *cobra.Command {
	a := &app{opts: opts}
	root := &cobra.Command{
		Use:          "higgsfield",
		Short:        "Run generation tasks against the Higgsfield platform",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.opts.ConfigPath, "config", opts.ConfigPath, "path to the config file")

	root.AddCommand(
		a.submitCmd(),
		a.runCmd(),
		a.workerCmd(),
		a.taskCmd(),
		a.tasksCmd(),
		a.newCmd(),
		a.authCmd(),
		a.migrateCmd(),
		versionCmd(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) (*core.Core, error) {
	opts := a.opts
	if opts.LogOutput == nil {
		opts.LogOutput = cmd.ErrOrStderr()
	}
	return core.New(cmd.Context(), opts)
}

func addTaskFlags(cmd *cobra.Command, args *TaskArgs) {
	cmd.Flags().StringVar(&args.Prompt, "prompt", "", "generation prompt")
	cmd.Flags().StringVar(&args.Model, "model", "", "remote model name")
	cmd.Flags().StringArrayVar(&args.Params, "param", nil, "extra parameter as key=value, repeatable")
	cmd.Flags().StringVar(&args.Image, "image", "", "path to an input image")
	cmd.Flags().StringVar(&args.Webhook, "webhook", "", "url notified when the task ends")
}

// buildRequest validates args and turns them into a request plus the
// optional image upload.
func buildRequest(args *TaskArgs) (schemas.TaskCreateRequest, *schemas.ImageUpload, error) {
	if issues := taskArgsSchema.Validate(args); len(issues) > 0 {
		return schemas.TaskCreateRequest{}, nil, fmt.Errorf("invalid arguments:\n%s", z.Issues.Prettify(issues))
	}

	request := schemas.TaskCreateRequest{Prompt: args.Prompt, Model: args.Model}
	if len(args.Params) > 0 {
		request.Params = make(map[string]any, len(args.Params))
		for _, param := range args.Params {
			key, raw, _ := strings.Cut(param, "=")
			request.Params[strings.TrimSpace(key)] = paramValue(raw)
		}
	}
	if args.Webhook != "" {
		request.WebhookURL = &args.Webhook
	}

	var image *schemas.ImageUpload
	if args.Image != "" {
		data, err := os.ReadFile(args.Image)
		if err != nil {
			return schemas.TaskCreateRequest{}, nil, fmt.Errorf("failed to read image: %w", err)
		}
		image = &schemas.ImageUpload{Name: filepath.Base(args.Image), Data: data}
	}
	return request, image, nil
}

// paramValue keeps JSON literals typed and everything else as a string.
func paramValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err == nil {
		return value
	}
	return raw
}

func (a *app) submitCmd() *cobra.Command {
	args := &TaskArgs{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create a task and queue it for a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, image, err := buildRequest(args)
			if err != nil {
				return err
			}
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			task, queueID, err := c.Submit(cmd.Context(), request, image)
			if err != nil {
				return err
			}
			cliutil.PrintTask(cmd.OutOrStdout(), task)
			fmt.Fprintf(cmd.OutOrStdout(), "queued: %s\n", queueID)
			return nil
		},
	}
	addTaskFlags(cmd, args)
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	args := &TaskArgs{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create a task and run it to completion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, image, err := buildRequest(args)
			if err != nil {
				return err
			}
			return a.runInline(cmd, request, image)
		},
	}
	addTaskFlags(cmd, args)
	return cmd
}

func (a *app) runInline(cmd *cobra.Command, request schemas.TaskCreateRequest, image *schemas.ImageUpload) error {
	c, err := a.open(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	task, err := c.Run(ctx, request, image)
	if task != nil {
		cliutil.PrintTask(cmd.OutOrStdout(), task)
	}
	if err != nil {
		return err
	}
	if task.Status == tasks.StatusFailed {
		return fmt.Errorf("%w: %s", ErrTaskFailed, task.ID)
	}
	return nil
}

func (a *app) workerCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process queued tasks until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if workers > 0 {
				c.Config.Queue.Workers = workers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			consumer, err := c.NewConsumer(ctx)
			if err != nil {
				return err
			}
			if err := consumer.Start(ctx); err != nil {
				return err
			}
			c.Logger.Info("Worker started",
				slog.Int("workers", c.Config.Queue.Workers),
				slog.String("backend", c.Config.Queue.Backend),
			)

			select {
			case <-ctx.Done():
			case <-consumer.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := consumer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("failed to stop workers: %w", err)
			}
			c.Logger.Info("Worker stopped")
			return consumer.Err()
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 0, "number of concurrent workers, overrides the config")
	return cmd
}

func (a *app) taskCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "task <id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid task id: %w", err)
			}
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			task, err := c.Task(cmd.Context(), id)
			if err != nil {
				return err
			}
			if asJSON {
				return cliutil.PrintJSON(cmd.OutOrStdout(), task)
			}
			cliutil.PrintTask(cmd.OutOrStdout(), task)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the task as JSON")
	return cmd
}

func (a *app) tasksCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			list, err := c.Tasks(cmd.Context(), limit)
			if err != nil {
				return err
			}
			cliutil.PrintTasks(cmd.OutOrStdout(), list)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of tasks")
	return cmd
}

func (a *app) newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Fill in a task interactively and run it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			request, submitted, err := tui.RunNewTaskForm()
			if err != nil {
				return err
			}
			if !submitted {
				return nil
			}
			return a.runInline(cmd, request, nil)
		},
	}
}

func (a *app) authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage runner credentials",
	}

	var accessToken, refreshToken string
	set := &cobra.Command{
		Use:   "set",
		Short: "Store runner credentials in the data dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			accessToken = strings.TrimSpace(accessToken)
			if accessToken == "" {
				return errors.New("--access-token is required")
			}
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.SaveToken(accessToken, strings.TrimSpace(refreshToken)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "credentials saved to %s\n", c.TokenFile.Path)
			return nil
		},
	}
	set.Flags().StringVar(&accessToken, "access-token", "", "runner access token")
	set.Flags().StringVar(&refreshToken, "refresh-token", "", "runner refresh token")

	cmd.AddCommand(set)
	return cmd
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.open(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Store.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database ready in %s\n", c.Config.Server.DataDir)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Version())
		},
	}
}

// Package queue runs registered jobs from a pluggable backend with a pool of
// workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type Queue struct {
	jobs    map[JobID]Job
	backend Backend
	onError OnErrorHandler
}

func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	jobs := make(map[JobID]Job, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if _, exists := jobs[job.ID]; exists {
			return nil, fmt.Errorf("duplicate job id: %s", job.ID)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("job %s has nil Run handler", job.ID)
		}
		jobs[job.ID] = job
	}

	return &Queue{
		jobs:    jobs,
		backend: cfg.Backend,
		onError: cfg.OnError,
	}, nil
}

// Enqueue stores task and returns its id. The priority always comes from the
// registered job.
func (q *Queue) Enqueue(ctx context.Context, task Task) (string, error) {
	job, exists := q.jobs[task.JobID]
	if !exists {
		return "", fmt.Errorf("unknown job id: %s", task.JobID)
	}

	if task.ID == "" {
		task.ID = newTaskID()
	}
	task.Priority = job.Priority
	task.Attempts = 0
	if err := q.backend.Enqueue(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

type ConsumerOptions struct {
	Workers int
}

type Consumer struct {
	queue   *Queue
	options ConsumerOptions

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	errOnce sync.Once
}

func NewConsumer(queue *Queue, options ConsumerOptions) *Consumer {
	if options.Workers <= 0 {
		options.Workers = 1
	}
	return &Consumer{
		queue:   queue,
		options: options,
	}
}

// Start launches the workers and returns immediately.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return errors.New("consumer already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(c.options.Workers)
	for range c.options.Workers {
		go func() {
			defer wg.Done()
			c.work(ctx)
		}()
	}

	go func() {
		wg.Wait()
		cancel()
		close(c.done)
	}()
	return nil
}

// Run starts the workers and blocks until they stop.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	<-c.done
	return c.Err()
}

// Shutdown cancels in-flight jobs and waits for the workers to exit or for
// ctx to end.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once every worker has exited.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that stopped the consumer, if any.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Consumer) report(err error, task Task) {
	if err == nil || c.queue.onError == nil {
		return
	}
	if stop := c.queue.onError(err, task); stop != nil {
		c.errOnce.Do(func() {
			c.mu.Lock()
			c.err = stop
			c.cancel()
			c.mu.Unlock()
		})
	}
}

func (c *Consumer) work(ctx context.Context) {
	backend := c.queue.backend
	for ctx.Err() == nil {
		task, err := backend.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.report(err, Task{})
			continue
		}

		// Acknowledgements must land even when the run was cancelled.
		ackCtx := context.WithoutCancel(ctx)

		job, ok := c.queue.jobs[task.JobID]
		if !ok {
			c.report(fmt.Errorf("unknown job id: %s", task.JobID), task)
			if err := backend.Ack(ackCtx, task.ID); err != nil {
				c.report(err, task)
			}
			continue
		}

		if err := job.Run(ctx, task.Payload); err != nil {
			if nackErr := backend.Nack(ackCtx, task.ID); nackErr != nil {
				c.report(errors.Join(err, nackErr), task)
			} else {
				c.report(err, task)
			}
			continue
		}

		if err := backend.Ack(ackCtx, task.ID); err != nil {
			c.report(err, task)
		}
	}
}

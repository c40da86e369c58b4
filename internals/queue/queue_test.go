package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubBackend struct {
	enqueue func(ctx context.Context, task Task) error
	dequeue func(ctx context.Context) (Task, error)
	ack     func(ctx context.Context, taskID string) error
	nack    func(ctx context.Context, taskID string) error
}

func (b *stubBackend) Enqueue(ctx context.Context, task Task) error {
	if b.enqueue != nil {
		return b.enqueue(ctx, task)
	}
	return nil
}

func (b *stubBackend) Dequeue(ctx context.Context) (Task, error) {
	if b.dequeue != nil {
		return b.dequeue(ctx)
	}
	<-ctx.Done()
	return Task{}, ctx.Err()
}

func (b *stubBackend) Ack(ctx context.Context, taskID string) error {
	if b.ack != nil {
		return b.ack(ctx, taskID)
	}
	return nil
}

func (b *stubBackend) Nack(ctx context.Context, taskID string) error {
	if b.nack != nil {
		return b.nack(ctx, taskID)
	}
	return nil
}

func noop(ctx context.Context, payload []byte) error { return nil }

func TestNewQueueValidation(t *testing.T) {
	if _, err := NewQueue(QueueConfig{}); err == nil {
		t.Fatal("expected error for nil backend")
	}

	backend := &stubBackend{}
	_, err := NewQueue(QueueConfig{
		Backend: backend,
		Jobs: []Job{
			NewJob("alpha", JobConfig{Run: noop}),
			NewJob("alpha", JobConfig{Run: noop}),
		},
	})
	if err == nil {
		t.Fatal("expected error for duplicate job id")
	}

	_, err = NewQueue(QueueConfig{Backend: backend, Jobs: []Job{{ID: "beta"}}})
	if err == nil {
		t.Fatal("expected error for nil Run handler")
	}
}

func TestEnqueueUnknownJob(t *testing.T) {
	queue, err := NewQueue(QueueConfig{Backend: &stubBackend{}, Jobs: []Job{NewJob("alpha", JobConfig{Run: noop})}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := queue.Enqueue(context.Background(), NewTask("missing", nil)); err == nil {
		t.Fatal("expected error for unknown job id")
	}
}

func TestEnqueueAssignsIDAndPriority(t *testing.T) {
	var got Task
	backend := &stubBackend{enqueue: func(ctx context.Context, task Task) error {
		got = task
		return nil
	}}
	queue, err := NewQueue(QueueConfig{
		Backend: backend,
		Jobs:    []Job{NewJob("alpha", JobConfig{Priority: 7, Run: noop})},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	task := NewTask("alpha", []byte("payload"))
	task.Priority = 99
	id, err := queue.Enqueue(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" || got.ID != id {
		t.Fatalf("expected generated id to reach backend, got %q and %q", id, got.ID)
	}
	if got.Priority != 7 {
		t.Fatalf("expected job priority 7, got %d", got.Priority)
	}

	task.ID = "explicit"
	id, _ = queue.Enqueue(context.Background(), task)
	if id != "explicit" {
		t.Fatalf("expected explicit id to be kept, got %q", id)
	}
}

func TestConsumerAckNack(t *testing.T) {
	dequeueCh := make(chan Task)
	ackCh := make(chan string, 1)
	nackCh := make(chan string, 1)

	backend := &stubBackend{
		dequeue: func(ctx context.Context) (Task, error) {
			select {
			case <-ctx.Done():
				return Task{}, ctx.Err()
			case task := <-dequeueCh:
				return task, nil
			}
		},
		ack: func(ctx context.Context, taskID string) error {
			ackCh <- taskID
			return nil
		},
		nack: func(ctx context.Context, taskID string) error {
			nackCh <- taskID
			return nil
		},
	}

	queue, err := NewQueue(QueueConfig{
		Backend: backend,
		Jobs: []Job{
			NewJob("ok", JobConfig{Run: noop}),
			NewJob("fail", JobConfig{Run: func(ctx context.Context, payload []byte) error { return errors.New("boom") }}),
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumer := NewConsumer(queue, ConsumerOptions{Workers: 1})
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	dequeueCh <- Task{ID: "t1", JobID: "ok"}
	dequeueCh <- Task{ID: "t2", JobID: "fail"}

	select {
	case got := <-ackCh:
		if got != "t1" {
			t.Fatalf("expected ack for t1, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for ack")
	}

	select {
	case got := <-nackCh:
		if got != "t2" {
			t.Fatalf("expected nack for t2, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for nack")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := consumer.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := consumer.Err(); err != nil {
		t.Fatalf("expected nil consumer error, got %v", err)
	}
}

func TestConsumerOnErrorStops(t *testing.T) {
	backend := &stubBackend{
		dequeue: func(ctx context.Context) (Task, error) {
			return Task{ID: "t1", JobID: "fail"}, nil
		},
	}

	stopErr := errors.New("stop")
	queue, err := NewQueue(QueueConfig{
		Backend: backend,
		Jobs: []Job{
			NewJob("fail", JobConfig{Run: func(ctx context.Context, payload []byte) error { return errors.New("boom") }}),
		},
		OnError: func(err error, task Task) error {
			return stopErr
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumer := NewConsumer(queue, ConsumerOptions{Workers: 2})
	if err := consumer.Run(context.Background()); !errors.Is(err, stopErr) {
		t.Fatalf("expected stop error, got %v", err)
	}
}

func TestConsumerShutdownCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	backend := &stubBackend{}
	backend.dequeue = func(ctx context.Context) (Task, error) {
		var task Task
		once.Do(func() { task = Task{ID: "t1", JobID: "slow"} })
		if task.ID != "" {
			return task, nil
		}
		<-ctx.Done()
		return Task{}, ctx.Err()
	}

	var cancelled bool
	queue, err := NewQueue(QueueConfig{
		Backend: backend,
		Jobs: []Job{NewJob("slow", JobConfig{Run: func(ctx context.Context, payload []byte) error {
			close(started)
			<-ctx.Done()
			cancelled = true
			return ctx.Err()
		}})},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	consumer := NewConsumer(queue, ConsumerOptions{})
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := consumer.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !cancelled {
		t.Fatal("expected running job to observe cancellation")
	}
}

func TestConsumerStartTwice(t *testing.T) {
	queue, _ := NewQueue(QueueConfig{Backend: &stubBackend{}, Jobs: []Job{NewJob("a", JobConfig{Run: noop})}})
	consumer := NewConsumer(queue, ConsumerOptions{})
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer consumer.Shutdown(context.Background())

	if err := consumer.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}
}

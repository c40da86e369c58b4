// Package memory is an in-process queue backend. Tasks do not survive a
// restart.
package memory

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/romakot321/higgsfieldai-api/internals/queue"
)

type Config struct {
	RetryDelay queue.Backoff
	// RetryMax is the number of retries after the first attempt.
	RetryMax int
}

type Backend struct {
	mu       sync.Mutex
	pending  taskHeap
	inFlight map[string]*item
	signal   chan struct{}
	seq      uint64
	cfg      Config
}

func New(cfg Config) *Backend {
	b := &Backend{
		inFlight: make(map[string]*item),
		signal:   make(chan struct{}, 1),
		cfg:      cfg,
	}
	heap.Init(&b.pending)
	return b
}

func (b *Backend) Enqueue(ctx context.Context, task queue.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	heap.Push(&b.pending, &item{task: task, seq: b.seq})
	b.notifyLocked()
	return nil
}

func (b *Backend) Dequeue(ctx context.Context) (queue.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return queue.Task{}, err
		}

		b.mu.Lock()
		if b.pending.Len() > 0 {
			next := heap.Pop(&b.pending).(*item)
			b.inFlight[next.task.ID] = next
			if b.pending.Len() > 0 {
				b.notifyLocked()
			}
			b.mu.Unlock()
			return next.task, nil
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return queue.Task{}, ctx.Err()
		case <-b.signal:
		}
	}
}

func (b *Backend) Ack(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inFlight[taskID]; !ok {
		return fmt.Errorf("unknown task id: %s", taskID)
	}
	delete(b.inFlight, taskID)
	return nil
}

func (b *Backend) Nack(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.inFlight[taskID]
	if !ok {
		return fmt.Errorf("unknown task id: %s", taskID)
	}
	delete(b.inFlight, taskID)

	current.task.Attempts++
	if current.task.Attempts > b.cfg.RetryMax {
		return queue.ErrRetriesExceeded
	}

	var delay time.Duration
	if b.cfg.RetryDelay != nil {
		delay = b.cfg.RetryDelay(current.task.Attempts)
	}
	if delay <= 0 {
		b.requeueLocked(current)
		return nil
	}

	retry := *current
	time.AfterFunc(delay, func() {
		b.mu.Lock()
		b.requeueLocked(&retry)
		b.mu.Unlock()
	})
	return nil
}

// Len reports the number of tasks waiting to be dequeued.
func (b *Backend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending.Len()
}

func (b *Backend) requeueLocked(it *item) {
	b.seq++
	it.seq = b.seq
	heap.Push(&b.pending, it)
	b.notifyLocked()
}

func (b *Backend) notifyLocked() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

type item struct {
	task queue.Task
	seq  uint64
}

// taskHeap pops the highest priority first, then the oldest.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority > h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

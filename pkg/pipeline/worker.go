package pipeline

import (
	"context"
	"errors"
	"sync"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type WorkerPool[T any] struct {
	workers    int
	taskQueue  chan T
	workerFunc func(context.Context, T)
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

func NewWorkerPool[T any](workers int, workerFunc func(context.Context, T)) *WorkerPool[T] {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool[T]{
		workers:    workers,
		taskQueue:  make(chan T, workers*2),
		workerFunc: workerFunc,
		done:       make(chan struct{}),
	}
}

func (wp *WorkerPool[T]) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit queues a task, blocking while the queue is full.
func (wp *WorkerPool[T]) Submit(ctx context.Context, task T) error {
	select {
	case <-wp.done:
		return ErrPoolStopped
	default:
	}

	select {
	case wp.taskQueue <- task:
		return nil
	case <-wp.done:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets running tasks finish and drops anything still queued.
func (wp *WorkerPool[T]) Stop() {
	wp.stopOnce.Do(func() { close(wp.done) })
	wp.wg.Wait()
}

func (wp *WorkerPool[T]) worker(ctx context.Context) {
	defer wp.wg.Done()

	for {
		select {
		case task := <-wp.taskQueue:
			wp.workerFunc(ctx, task)

		case <-wp.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

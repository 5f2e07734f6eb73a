package mqtt

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Executor runs completion callbacks for asynchronous publishes.
//
// At most Size tasks run at once; further tasks wait for a slot. Submission
// never blocks the caller. A panicking task is recovered and logged so one
// misbehaving callback cannot take the session down.
type Executor struct {
	size   int
	sem    *semaphore.Weighted
	logger Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewExecutor creates an executor with size concurrent slots.
// A size below one is treated as one.
func NewExecutor(size int, logger Logger) *Executor {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Executor{
		size:   size,
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

// Size returns the number of concurrent slots.
func (e *Executor) Size() int {
	return e.size
}

// Go schedules task. It returns ErrClosed once Close has been called.
func (e *Executor) Go(task func()) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()

		// Background context: Acquire can only fail on cancellation.
		if err := e.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer e.sem.Release(1)

		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("executor task panic recovered", "panic", r)
			}
		}()
		task()
	}()

	return nil
}

// Close stops accepting tasks and waits for scheduled ones to finish.
// It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.wg.Wait()
}

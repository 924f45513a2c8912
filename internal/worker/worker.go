// Package worker runs pipeline tasks on a bounded number of goroutines.
//
// Submitting never blocks the caller: every submitted function gets its own goroutine which
// waits for one of the pool's slots before running. Errors and panics are collected and
// returned by Wait.
package worker

import (
	"sync"
	"sync/atomic"

	"github.com/datapipe-pro/datapipe/internal/errors"
)

// Task represents a unit of work that can be executed.
type Task func() error

// Pool manages concurrent task execution with a configurable number of workers.
type Pool struct {
	semaphore   chan struct{}
	allErrors   *errors.MultiError
	wg          sync.WaitGroup
	maxWorkers  int
	allErrorsMu sync.Mutex
	active      atomic.Int32
	isStopping  atomic.Bool
}

// NewWorkerPool creates a new worker pool with the specified maximum number of concurrent workers.
func NewWorkerPool(maxWorkers int) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}

	return &Pool{
		maxWorkers: maxWorkers,
		semaphore:  make(chan struct{}, maxWorkers),
		allErrors:  &errors.MultiError{},
	}
}

// Size returns the maximum number of tasks running at the same time.
func (wp *Pool) Size() int {
	return wp.maxWorkers
}

// Active returns the number of tasks currently holding a slot.
func (wp *Pool) Active() int {
	return int(wp.active.Load())
}

// Submit schedules the task. It returns false if the pool is stopping and the task was dropped.
func (wp *Pool) Submit(task Task) bool {
	if wp.isStopping.Load() {
		return false
	}

	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()

		wp.semaphore <- struct{}{}
		wp.active.Add(1)

		defer func() {
			wp.active.Add(-1)
			<-wp.semaphore
		}()

		wp.appendError(wp.run(task))
	}()

	return true
}

func (wp *Pool) run(task Task) (err error) {
	defer errors.Recover(func(cause error) {
		err = cause
	})

	return task()
}

func (wp *Pool) appendError(err error) {
	if err == nil {
		return
	}

	wp.allErrorsMu.Lock()
	wp.allErrors = wp.allErrors.Append(err)
	wp.allErrorsMu.Unlock()
}

// Wait blocks until all submitted tasks are completed and returns the collected errors.
func (wp *Pool) Wait() error {
	wp.wg.Wait()

	wp.allErrorsMu.Lock()
	defer wp.allErrorsMu.Unlock()

	return wp.allErrors.ErrorOrNil()
}

// Stop rejects further submissions. Tasks already submitted still run.
func (wp *Pool) Stop() {
	wp.isStopping.Store(true)
}

// GracefulStop rejects further submissions and waits for all submitted tasks to complete.
func (wp *Pool) GracefulStop() error {
	wp.Stop()

	return wp.Wait()
}

// IsStopping returns whether the pool rejects new submissions.
func (wp *Pool) IsStopping() bool {
	return wp.isStopping.Load()
}

// Package dispatch runs work on a single goroutine that owns the live
// subscriber registry. Goroutines outside it (the capture loop, HTTP
// handlers) hand it a task with Submit and wait for the result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	// ErrNotRunning is returned by Submit before Run has started.
	ErrNotRunning = errors.New("dispatch loop not running")

	// ErrStopped is returned by Submit once Run has returned.
	ErrStopped = errors.New("dispatch loop stopped")
)

// Task is a unit of work executed on the loop goroutine.
type Task func(ctx context.Context) error

type request struct {
	task Task
	done chan error
}

// Loop executes submitted tasks one at a time, in submission order.
type Loop struct {
	logger   *zap.Logger
	requests chan request

	mu      sync.RWMutex
	running bool
	stopped chan struct{}
}

// New constructs an idle Loop. Call Run to start executing tasks.
func New(logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		logger:   logger.Named("dispatch"),
		requests: make(chan request),
		stopped:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	select {
	case <-l.stopped:
		l.mu.Unlock()
		return ErrStopped
	default:
	}
	if l.running {
		l.mu.Unlock()
		return errors.New("dispatch loop already running")
	}
	l.running = true
	l.mu.Unlock()

	l.logger.Debug("dispatch loop started")
	defer func() {
		l.mu.Lock()
		l.running = false
		close(l.stopped)
		l.mu.Unlock()
		l.logger.Debug("dispatch loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-l.requests:
			req.done <- l.execute(ctx, req.task)
		}
	}
}

func (l *Loop) execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch task panicked", zap.Any("panic", r))
			err = fmt.Errorf("dispatch task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// Running reports whether the loop is accepting tasks.
func (l *Loop) Running() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Submit hands task to the loop goroutine and blocks until it has run,
// returning the task's error. If ctx ends after the handoff the task still
// completes on the loop, but Submit returns ctx.Err() without waiting.
func (l *Loop) Submit(ctx context.Context, task Task) error {
	if !l.Running() {
		select {
		case <-l.stopped:
			return ErrStopped
		default:
			return ErrNotRunning
		}
	}

	req := request{task: task, done: make(chan error, 1)}
	select {
	case l.requests <- req:
	case <-l.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

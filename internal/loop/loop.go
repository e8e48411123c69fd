// Package loop runs tasks one at a time on a single goroutine.
//
// State owned by a Loop (the event cache and the reminder job table) is only
// touched from inside tasks, so it needs no locking of its own.
package loop

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	appLog "ctfcal/internal/log"
)

const defaultQueueSize = 64

// ErrStopped is returned by Submit/Do once Run has returned.
var ErrStopped = errors.New("loop stopped")

// Task is a unit of work executed on the loop goroutine. ctx is the
// context passed to Run.
type Task func(ctx context.Context)

// Loop is a serial task runner.
type Loop struct {
	tasks chan Task
	done  chan struct{}
}

// New creates a Loop with the given queue capacity (<= 0 uses a default).
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Loop{
		tasks: make(chan Task, queueSize),
		done:  make(chan struct{}),
	}
}

// Run executes submitted tasks in order until ctx is cancelled. It must be
// called exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		// A cancelled ctx wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case t := <-l.tasks:
			l.exec(ctx, t)
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			appLog.Error("loop task panicked", fmt.Errorf("panic: %v", r), "stack", string(debug.Stack()))
		}
	}()
	t(ctx)
}

// Submit enqueues t without waiting for it to run. It blocks while the
// queue is full.
func (l *Loop) Submit(ctx context.Context, t Task) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.tasks <- t:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do enqueues t and waits until it has run. If ctx ends first the task may
// still run later.
func (l *Loop) Do(ctx context.Context, t Task) error {
	finished := make(chan struct{})
	err := l.Submit(ctx, func(c context.Context) {
		defer close(finished)
		t(c)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run may have exited between dequeue and completion.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

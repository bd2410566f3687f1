// Package schedule runs functions after a delay with cooperative cancellation.
package schedule

import (
	"context"
	"time"
)

// Task is a pending delayed call.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	ran    bool
}

// After runs fn(ctx) once delay has elapsed unless ctx or the task is cancelled
// first. fn receives a context that is cancelled by Cancel.
func After(ctx context.Context, delay time.Duration, fn func(ctx context.Context)) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{ctx: taskCtx, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-taskCtx.Done():
			return
		case <-timer.C:
		}
		t.ran = true
		fn(taskCtx)
	}()
	return t
}

// Cancel stops the task. If fn is already running it sees its context cancelled.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task finished or was dropped.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task is finished and reports whether fn was called.
func (t *Task) Wait() bool {
	<-t.done
	return t.ran
}

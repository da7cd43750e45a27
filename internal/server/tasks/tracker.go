// Package tasks runs fire-and-forget background work that must still be
// drained on shutdown, such as blob finalization and download accounting.
package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/ompldr/server/internal/logging"
)

type Tracker struct {
	wg     sync.WaitGroup
	logger logging.Logger
}

func NewTracker(logger logging.Logger) *Tracker {
	return &Tracker{logger: logger.With("module", "tasks")}
}

// Go runs fn in its own goroutine. The context handed to fn is detached from
// ctx's cancellation so a finished HTTP request does not abort the task.
// Errors and panics are logged, never propagated.
func (t *Tracker) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		taskCtx := context.WithoutCancel(ctx)
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error(taskCtx, "background task panicked", "task", name, "panic", fmt.Sprint(r))
			}
		}()

		if err := fn(taskCtx); err != nil {
			t.logger.Error(taskCtx, "background task failed", "task", name, "error", err)
			return
		}
		t.logger.Debug(taskCtx, "background task done", "task", name)
	}()
}

// Wait blocks until every task started so far has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

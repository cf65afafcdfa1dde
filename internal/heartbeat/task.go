package heartbeat

import (
	"context"
	"sync"
	"time"
)

// Task runs a function on an interval until stopped.
type Task struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// StartTask calls fn every interval, and once immediately when immediate is set.
// The context passed to fn is cancelled by Stop.
func StartTask(parent context.Context, interval time.Duration, immediate bool, fn func(ctx context.Context)) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{cancel: cancel}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		if immediate {
			fn(ctx)
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return t
}

// Stop cancels the task and waits for an in-progress run to return.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
}

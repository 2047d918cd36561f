package withdraw

import (
	"context"
)

// Task is the handle of one background watch-and-remit run. It owns its context: the
// run outlives the request that launched it and is cancelled only through Cancel.
type Task struct {
	SessionID string

	cancel context.CancelFunc
	done   chan struct{}
	result *Result
	err    error
}

func startTask(parent context.Context, sessionID string, run func(ctx context.Context) (*Result, error)) *Task {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	t := &Task{
		SessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer cancel()
		t.result, t.err = run(ctx)
	}()
	return t
}

// Done is closed when the run has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the run. The watcher reports the cancellation as WATCH_TIMEOUT.
func (t *Task) Cancel() {
	t.cancel()
}

// Wait blocks until the run finishes or ctx is done. Giving up waiting does not cancel
// the run.
func (t *Task) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

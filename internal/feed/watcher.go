package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/presence"
	"github.com/denismitr/earthbeat/internal/schedule"
	"github.com/denismitr/earthbeat/internal/store"
)

// Watcher delivers the full feed of a workspace every time it may have changed:
// on each accepted write in the workspace and on each presence poll.
type Watcher struct {
	a         *Aggregator
	workspace string
	fn        func([]Entry)

	// deliverMu spans Build and fn so feeds are delivered one at a time, in the order built.
	deliverMu sync.Mutex

	mu      sync.Mutex
	cancel  store.CancelFunc
	task    *schedule.Task
	stopped bool
	done    chan struct{}
}

// Watch starts a watcher and delivers the current feed before returning.
// fn must not call Stop on the returned watcher nor write to the watched workspace.
func (a *Aggregator) Watch(workspace string, fn func([]Entry)) *Watcher {
	interval := presence.DefaultPollInterval
	if a.est != nil {
		interval = a.est.PollInterval()
	}

	w := &Watcher{
		a:         a,
		workspace: workspace,
		fn:        fn,
		done:      make(chan struct{}),
	}

	w.mu.Lock()
	w.cancel = a.s.Subscribe(func(ev store.Event) {
		if ev.Document.Workspace == workspace {
			w.refresh()
		}
	})
	w.task = schedule.NewTask(interval, w.refresh)
	w.task.Start()
	w.mu.Unlock()

	w.refresh()

	return w
}

func (w *Watcher) Workspace() string {
	return w.workspace
}

func (w *Watcher) refresh() {
	w.deliverMu.Lock()
	defer w.deliverMu.Unlock()

	if w.isStopped() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := w.a.Build(ctx, w.workspace)
	if err != nil {
		w.a.log.Warn("feed refresh failed", zap.String("workspace", w.workspace), zap.Error(err))
		return
	}

	if w.isStopped() {
		return
	}

	w.fn(entries)
}

func (w *Watcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Done is closed once the watcher is stopped.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Stop removes the store subscription and the poll ticker. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	cancel, task := w.cancel, w.task
	close(w.done)
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if task != nil {
		task.Stop()
	}
}

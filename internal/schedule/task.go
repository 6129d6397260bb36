package schedule

import (
	"sync"
	"time"
)

// Task runs fn every interval on its own goroutine until Stop is called.
// A tick that fires while fn is still running is dropped, never queued.
type Task struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func NewTask(interval time.Duration, fn func()) *Task {
	return &Task{interval: interval, fn: fn}
}

// Start is a no-op for a running task.
func (t *Task) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}

	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	go t.loop(t.stopCh, t.doneCh)
}

func (t *Task) loop(stopCh, doneCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer func() {
		ticker.Stop()
		close(doneCh)
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			select {
			case <-stopCh:
				return
			default:
			}
			t.fn()
		}
	}
}

// Stop blocks until the loop has exited, fn is never called afterwards.
func (t *Task) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}

	t.running = false
	close(t.stopCh)
	doneCh := t.doneCh
	t.mu.Unlock()

	<-doneCh
}

func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

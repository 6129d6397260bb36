package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/schedule"
	"github.com/denismitr/earthbeat/internal/store"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultOnlineWindow = 30 * time.Second
)

// State is the liveness of an author as derived from their heartbeat document.
type State int

const (
	Unknown State = iota
	Online
	Offline
	// Silent means the author explicitly published an empty heartbeat.
	// It renders like Offline but must stay distinguishable from it.
	Silent
)

func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Offline:
		return "offline"
	case Silent:
		return "silent"
	default:
		return "unknown"
	}
}

// Classify derives a State from a heartbeat document. Age is nowMicros - doc.Timestamp
// and a heartbeat aged exactly windowMicros is still online.
func Classify(doc *store.Document, nowMicros, windowMicros int64) State {
	if doc == nil {
		return Unknown
	}

	if doc.IsEmpty() {
		return Silent
	}

	if nowMicros-doc.Timestamp <= windowMicros {
		return Online
	}

	return Offline
}

type Estimator struct {
	s            *store.Store
	clock        store.Clock
	onlineWindow time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

type Option func(e *Estimator)

func WithClock(c store.Clock) Option {
	return func(e *Estimator) {
		e.clock = c
	}
}

func WithOnlineWindow(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.onlineWindow = d
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) {
		e.log = logger.OrNop(l)
	}
}

func NewEstimator(s *store.Store, opts ...Option) *Estimator {
	e := &Estimator{
		s:            s,
		clock:        s.Clock(),
		onlineWindow: DefaultOnlineWindow,
		pollInterval: DefaultPollInterval,
		log:          zap.NewNop(),
	}

	for _, o := range opts {
		o(e)
	}

	return e
}

func (e *Estimator) PollInterval() time.Duration {
	return e.pollInterval
}

func (e *Estimator) heartbeat(workspace, author string) *store.Document {
	doc, ok := e.s.Get(workspace, author, about.LastOnlinePath(author))
	if !ok {
		return nil
	}
	return &doc
}

// Estimate classifies author in workspace as of now.
func (e *Estimator) Estimate(workspace, author string) State {
	return Classify(
		e.heartbeat(workspace, author),
		store.Micros(e.clock.Now()),
		e.onlineWindow.Microseconds(),
	)
}

// LastSeen returns the time of the last heartbeat, false when there is none.
func (e *Estimator) LastSeen(workspace, author string) (time.Time, bool) {
	doc := e.heartbeat(workspace, author)
	if doc == nil {
		return time.Time{}, false
	}
	return time.UnixMicro(doc.Timestamp), true
}

// Watch re-estimates author every poll interval and calls fn whenever the state changes,
// starting with the current state. The returned func stops watching.
func (e *Estimator) Watch(workspace, author string, fn func(State)) func() {
	var mu sync.Mutex
	current := e.Estimate(workspace, author)
	fn(current)

	task := schedule.NewTask(e.pollInterval, func() {
		next := e.Estimate(workspace, author)

		mu.Lock()
		changed := next != current
		current = next
		mu.Unlock()

		if changed {
			e.log.Debug("presence changed",
				zap.String("workspace", workspace),
				zap.String("author", author),
				zap.Stringer("state", next),
			)
			fn(next)
		}
	})
	task.Start()

	return task.Stop
}

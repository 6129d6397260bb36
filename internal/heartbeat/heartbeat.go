package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/schedule"
	"github.com/denismitr/earthbeat/internal/store"
)

const DefaultInterval = 20 * time.Second

// Publisher advertises the liveness of the current identity in every workspace.
type Publisher struct {
	s        *store.Store
	interval time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	identity store.Identity
	task     *schedule.Task
}

type Option func(p *Publisher)

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Publisher) {
		p.log = logger.OrNop(l)
	}
}

func NewPublisher(s *store.Store, opts ...Option) *Publisher {
	p := &Publisher{
		s:        s,
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

func (p *Publisher) Identity() store.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identity
}

// SetIdentity swaps the identity beats are written for.
// A running publisher is torn down and restarted so no beat is ever written
// for an identity that is no longer current.
func (p *Publisher) SetIdentity(id store.Identity) {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.identity = id
	p.mu.Unlock()

	if task != nil {
		task.Stop()
		p.Start()
	}
}

// Beat writes one heartbeat per workspace and reports how many were accepted.
func (p *Publisher) Beat(ctx context.Context) (int, error) {
	return p.write(ctx, about.HeartbeatPresent)
}

// Leave publishes an empty heartbeat, the explicit "not here" signal.
func (p *Publisher) Leave(ctx context.Context) (int, error) {
	return p.write(ctx, "")
}

func (p *Publisher) write(ctx context.Context, content string) (int, error) {
	id := p.Identity()
	if id.IsZero() {
		return 0, nil
	}

	var result error
	written := 0
	for _, w := range p.s.Workspaces() {
		if err := ctx.Err(); err != nil {
			return written, multierr.Append(result, err)
		}

		doc, err := p.s.Write(id, w, store.DocToSet{
			Path:    about.LastOnlinePath(id.Address),
			Content: content,
		})
		if err != nil {
			p.log.Warn("heartbeat rejected", zap.String("workspace", w), zap.Error(err))
			result = multierr.Append(result, errors.Wrapf(err, "heartbeat in %s", w))
			continue
		}

		written++
		p.log.Debug("heartbeat",
			zap.String("workspace", w),
			zap.String("author", id.Address),
			zap.Int64("timestamp", doc.Timestamp),
			zap.Bool("present", content != ""),
		)
	}

	return written, result
}

// Start beats once right away and then every interval until Stop.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.task != nil {
		p.mu.Unlock()
		return
	}

	p.task = schedule.NewTask(p.interval, func() {
		// a missed or failed tick is not retried, the next one carries a fresh timestamp
		_, _ = p.Beat(context.Background())
	})
	// started under the lock so a concurrent Stop always finds the running task
	p.task.Start()
	task := p.task
	p.mu.Unlock()

	if p.owns(task) {
		_, _ = p.Beat(context.Background())
	}
}

func (p *Publisher) owns(task *schedule.Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task == task
}

func (p *Publisher) Stop() {
	p.mu.Lock()
	task := p.task
	p.task = nil
	p.mu.Unlock()

	if task != nil {
		task.Stop()
	}
}

func (p *Publisher) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.task != nil
}

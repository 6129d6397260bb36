package earthbeat

import (
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/storage"
	"github.com/denismitr/earthbeat/internal/store"
)

type options struct {
	log       *zap.Logger
	clock     store.Clock
	backend   storage.Backend
	heartbeat bool
}

func defaultOptions() *options {
	return &options{
		log:       zap.NewNop(),
		clock:     store.RealClock{},
		heartbeat: true,
	}
}

type Option func(o *options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = logger.OrNop(l)
	}
}

func WithClock(c store.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithBackend bypasses the storage settings of the config.
// The peer takes ownership and closes the backend.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.backend = b
	}
}

// WithoutHeartbeat keeps the peer from advertising presence on its own.
// Beats can still be published explicitly.
func WithoutHeartbeat() Option {
	return func(o *options) {
		o.heartbeat = false
	}
}

package earthbeat

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/config"
	"github.com/denismitr/earthbeat/internal/feed"
	"github.com/denismitr/earthbeat/internal/heartbeat"
	"github.com/denismitr/earthbeat/internal/presence"
	"github.com/denismitr/earthbeat/internal/snapshot"
	"github.com/denismitr/earthbeat/internal/storage"
	"github.com/denismitr/earthbeat/internal/store"
)

var ErrNoIdentity = errors.New("no identity selected")
var ErrNoWorkspace = errors.New("no workspace selected")
var ErrPeerClosed = errors.New("peer already closed")

type Closer func() error

func NullCloser() error { return nil }

// Peer is one participant: a local replica of every joined workspace,
// its durable snapshots, the heartbeat of the current identity and the derived feeds.
type Peer struct {
	cfg     *config.Config
	log     *zap.Logger
	backend storage.Backend
	s       *store.Store
	snap    *snapshot.Manager
	est     *presence.Estimator
	hb      *heartbeat.Publisher
	agg     *feed.Aggregator

	mu        sync.RWMutex
	current   string
	pubs      snapshot.Pubs
	watchers  map[*feed.Watcher]struct{}
	detach    store.CancelFunc
	heartbeat bool
	closed    bool
}

// Open restores every persisted workspace and starts the peer.
// The returned Closer stops all background work and flushes one last time.
func Open(cfg *config.Config, opts ...Option) (*Peer, Closer, error) {
	if cfg == nil {
		return nil, NullCloser, errors.New("config is required")
	}
	cfg.ApplyDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	log := o.log.With(zap.String("session", uuid.NewString()))

	backend := o.backend
	if backend == nil {
		b, err := storage.NewBackendFromConfig(cfg.Storage)
		if err != nil {
			return nil, NullCloser, errors.Wrap(err, "could not open storage")
		}
		backend = b
	}

	p := &Peer{
		cfg:       cfg,
		log:       log,
		backend:   backend,
		s:         store.New(store.Config{MaxContentBytes: cfg.Store.MaxContentBytes, Clock: o.clock}),
		snap:      snapshot.New(backend, snapshot.WithLogger(log)),
		watchers:  make(map[*feed.Watcher]struct{}),
		heartbeat: o.heartbeat,
	}

	if err := p.restore(context.Background()); err != nil {
		_ = p.s.Close()
		return nil, NullCloser, multierr.Append(err, backend.Close())
	}

	p.est = presence.NewEstimator(p.s,
		presence.WithOnlineWindow(cfg.Presence.OnlineWindow.Duration),
		presence.WithPollInterval(cfg.Presence.PollInterval.Duration),
		presence.WithLogger(log),
	)
	p.agg = feed.NewAggregator(p.s, p.est, feed.WithLogger(log))
	p.hb = heartbeat.NewPublisher(p.s,
		heartbeat.WithInterval(cfg.Heartbeat.Interval.Duration),
		heartbeat.WithLogger(log),
	)

	if err := p.snap.FlushAll(context.Background(), p.s); err != nil {
		log.Warn("initial flush incomplete", zap.Error(err))
	}
	p.detach = p.snap.Attach(context.Background(), p.s)

	if err := p.initIdentity(context.Background()); err != nil {
		_ = p.close()
		return nil, NullCloser, err
	}

	log.Info("peer opened",
		zap.Strings("workspaces", p.s.Workspaces()),
		zap.String("identity", p.hb.Identity().Address),
	)

	return p, p.close, nil
}

func (p *Peer) restore(ctx context.Context) error {
	trusted, err := p.snap.LoadAll(ctx)
	if err != nil {
		return err
	}

	for _, t := range trusted {
		if err := p.snap.Rehydrate(p.s, t); err != nil {
			return err
		}
	}

	for _, w := range p.cfg.Workspaces {
		if p.s.HasWorkspace(w) {
			continue
		}
		if err := p.s.AddWorkspace(w); err != nil {
			return errors.Wrapf(err, "configured workspace %s", w)
		}
	}

	current, err := p.snap.LoadCurrentWorkspace(ctx)
	if err != nil {
		return err
	}
	if current != "" && p.s.HasWorkspace(current) {
		p.current = current
	} else if ws := p.s.Workspaces(); len(ws) > 0 {
		p.current = ws[0]
	}

	pubs, err := p.snap.LoadPubs(ctx)
	if err != nil {
		return err
	}
	p.pubs = pubs

	return nil
}

// initIdentity prefers the configured identity over the persisted one.
func (p *Peer) initIdentity(ctx context.Context) error {
	if p.cfg.Identity != "" {
		return p.SetIdentity(ctx, store.Identity{Address: p.cfg.Identity})
	}

	id, err := p.snap.LoadAuthor(ctx)
	if err != nil {
		return err
	}

	if id.IsZero() {
		return nil
	}

	if err := store.ValidateAuthor(id.Address); err != nil {
		p.log.Warn("ignoring persisted identity", zap.Error(err))
		return nil
	}

	p.switchIdentity(id)
	return nil
}

func (p *Peer) close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	p.closed = true

	watchers := make([]*feed.Watcher, 0, len(p.watchers))
	for w := range p.watchers {
		watchers = append(watchers, w)
	}
	p.watchers = nil
	detach := p.detach
	p.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}

	if p.hb != nil {
		p.hb.Stop()
	}

	if detach != nil {
		detach()
	}

	var result error
	if err := p.snap.FlushAll(context.Background(), p.s); err != nil {
		result = multierr.Append(result, err)
	}

	result = multierr.Append(result, p.s.Close())
	result = multierr.Append(result, p.backend.Close())

	p.log.Info("peer closed", zap.Error(result))

	return result
}

func (p *Peer) checkOpen() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPeerClosed
	}
	return nil
}

func (p *Peer) Store() *store.Store {
	return p.s
}

func (p *Peer) Identity() store.Identity {
	return p.hb.Identity()
}

// SetIdentity makes id the author of every following write and persists the choice.
// Heartbeats for the previous identity stop before the first one for id is written.
func (p *Peer) SetIdentity(ctx context.Context, id store.Identity) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	if err := store.ValidateAuthor(id.Address); err != nil {
		return err
	}

	if err := p.snap.SaveAuthor(ctx, id); err != nil {
		return err
	}

	p.switchIdentity(id)
	return nil
}

func (p *Peer) switchIdentity(id store.Identity) {
	p.hb.SetIdentity(id)
	if p.heartbeat {
		p.hb.Start()
	}
	p.log.Info("identity selected", zap.String("identity", id.Address))
}

// AddWorkspace joins a workspace. Joining a known workspace is a no-op.
func (p *Peer) AddWorkspace(ctx context.Context, workspace string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	if p.s.HasWorkspace(workspace) {
		return nil
	}

	if err := p.s.AddWorkspace(workspace); err != nil {
		return err
	}

	if err := p.snap.FlushCurrent(ctx, p.s, workspace); err != nil {
		p.log.Warn("new workspace not persisted yet", zap.String("workspace", workspace), zap.Error(err))
	}

	if p.hb.Running() {
		if _, err := p.hb.Beat(ctx); err != nil {
			p.log.Warn("heartbeat after join failed", zap.Error(err))
		}
	}

	p.mu.Lock()
	if p.current == "" {
		p.current = workspace
	}
	p.mu.Unlock()

	p.log.Info("workspace added", zap.String("workspace", workspace))
	return nil
}

func (p *Peer) Workspaces() []string {
	return p.s.Workspaces()
}

func (p *Peer) SetCurrentWorkspace(ctx context.Context, workspace string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	if !p.s.HasWorkspace(workspace) {
		return errors.Wrapf(store.ErrUnknownWorkspace, "%s", workspace)
	}

	if err := p.snap.SaveCurrentWorkspace(ctx, workspace); err != nil {
		return err
	}

	p.mu.Lock()
	p.current = workspace
	p.mu.Unlock()

	return nil
}

// CurrentWorkspace is empty until a workspace was selected or joined.
func (p *Peer) CurrentWorkspace() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// AddPub remembers a relay URL for a workspace. Duplicates are ignored.
func (p *Peer) AddPub(ctx context.Context, workspace, url string) error {
	if err := p.checkOpen(); err != nil {
		return err
	}

	if !p.s.HasWorkspace(workspace) {
		return errors.Wrapf(store.ErrUnknownWorkspace, "%s", workspace)
	}

	if url == "" {
		return errors.New("pub url is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.pubs[workspace] {
		if existing == url {
			return nil
		}
	}

	next := copyPubs(p.pubs)
	next[workspace] = append(next[workspace], url)
	sort.Strings(next[workspace])

	if err := p.snap.SavePubs(ctx, next); err != nil {
		return err
	}

	p.pubs = next
	return nil
}

func (p *Peer) Pubs() snapshot.Pubs {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return copyPubs(p.pubs)
}

func copyPubs(src snapshot.Pubs) snapshot.Pubs {
	dst := make(snapshot.Pubs, len(src))
	for w, urls := range src {
		dst[w] = append([]string(nil), urls...)
	}
	return dst
}

func (p *Peer) write(workspace, path, content string) (store.Document, error) {
	if err := p.checkOpen(); err != nil {
		return store.Document{}, err
	}

	id := p.Identity()
	if id.IsZero() {
		return store.Document{}, ErrNoIdentity
	}

	if workspace == "" {
		return store.Document{}, ErrNoWorkspace
	}

	return p.s.Write(id, workspace, store.DocToSet{Path: path, Content: content})
}

func (p *Peer) SetStatus(workspace, status string) (store.Document, error) {
	id := p.Identity()
	return p.write(workspace, about.StatusPath(id.Address), status)
}

// SetDisplayName publishes the name shown instead of the raw address.
func (p *Peer) SetDisplayName(workspace, name string) (store.Document, error) {
	id := p.Identity()
	return p.write(workspace, about.DisplayNamePath(id.Address), name)
}

func (p *Peer) Feed(ctx context.Context, workspace string) ([]feed.Entry, error) {
	return p.agg.Build(ctx, workspace)
}

func (p *Peer) FeedAll(ctx context.Context) ([]feed.WorkspaceFeed, error) {
	return p.agg.BuildAll(ctx)
}

// WatchFeed delivers the feed of workspace now and whenever it may have changed.
// The watcher is stopped by the peer's Closer at the latest.
func (p *Peer) WatchFeed(workspace string, fn func([]feed.Entry)) (*feed.Watcher, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}

	if !p.s.HasWorkspace(workspace) {
		return nil, errors.Wrapf(store.ErrUnknownWorkspace, "%s", workspace)
	}

	w := p.agg.Watch(workspace, fn)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		w.Stop()
		return nil, ErrPeerClosed
	}
	p.watchers[w] = struct{}{}

	go p.forget(w)

	return w, nil
}

// forget drops w from the peer once it is stopped by its owner or by the Closer.
func (p *Peer) forget(w *feed.Watcher) {
	<-w.Done()

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watchers, w)
}

func (p *Peer) Presence(workspace, author string) presence.State {
	return p.est.Estimate(workspace, author)
}

// Leave stops heartbeats and tells every workspace the identity is gone.
func (p *Peer) Leave(ctx context.Context) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	p.hb.Stop()
	return p.hb.Leave(ctx)
}

func (p *Peer) Composer() *Composer {
	return &Composer{p: p, workspace: p.CurrentWorkspace()}
}

// Beat publishes one heartbeat for the current identity in every workspace.
func (p *Peer) Beat(ctx context.Context) (int, error) {
	if err := p.checkOpen(); err != nil {
		return 0, err
	}

	if p.Identity().IsZero() {
		return 0, ErrNoIdentity
	}

	return p.hb.Beat(ctx)
}

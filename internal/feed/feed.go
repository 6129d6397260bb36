package feed

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/about"
	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/presence"
	"github.com/denismitr/earthbeat/internal/store"
	"github.com/denismitr/earthbeat/options"
)

// Entry is one author's current status in a workspace, ready to render.
type Entry struct {
	Workspace   string
	Author      string
	Path        string
	Content     string
	Timestamp   int64
	DisplayName string
	Presence    presence.State
	Age         time.Duration
}

func (e Entry) Oldness() Oldness {
	return OldnessOf(e.Age)
}

// WorkspaceFeed is the feed of a single workspace.
type WorkspaceFeed struct {
	Workspace string
	Entries   []Entry
}

type Aggregator struct {
	s   *store.Store
	est *presence.Estimator
	log *zap.Logger
}

type Option func(a *Aggregator)

func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		a.log = logger.OrNop(l)
	}
}

func NewAggregator(s *store.Store, est *presence.Estimator, opts ...Option) *Aggregator {
	a := &Aggregator{
		s:   s,
		est: est,
		log: zap.NewNop(),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Build reads the status documents of a workspace and returns them newest first.
func (a *Aggregator) Build(ctx context.Context, workspace string) ([]Entry, error) {
	docs, err := a.s.Query(ctx, workspace, options.Query().PathPrefix(about.Prefix))
	if err != nil {
		return nil, errors.Wrapf(err, "could not build feed for %s", workspace)
	}

	now := a.s.Clock().Now()
	entries := make([]Entry, 0, len(docs))
	for i := range docs {
		if !about.IsStatusPath(docs[i].Path) {
			continue
		}

		entries = append(entries, a.enrich(docs[i], now))
	}

	sortEntries(entries)

	return entries, nil
}

// BuildAll builds the feed of every known workspace in address order.
func (a *Aggregator) BuildAll(ctx context.Context) ([]WorkspaceFeed, error) {
	workspaces := a.s.Workspaces()
	result := make([]WorkspaceFeed, 0, len(workspaces))

	for _, w := range workspaces {
		entries, err := a.Build(ctx, w)
		if err != nil {
			// a workspace may be removed between listing and building
			if errors.Is(err, store.ErrUnknownWorkspace) {
				continue
			}
			return nil, err
		}

		result = append(result, WorkspaceFeed{Workspace: w, Entries: entries})
	}

	return result, nil
}

// Iterate walks the current feed of a workspace until fn returns false.
// Every call reads the store afresh.
func (a *Aggregator) Iterate(ctx context.Context, workspace string, fn func(Entry) bool) error {
	entries, err := a.Build(ctx, workspace)
	if err != nil {
		return err
	}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !fn(entries[i]) {
			return nil
		}
	}

	return nil
}

func (a *Aggregator) enrich(doc store.Document, now time.Time) Entry {
	e := Entry{
		Workspace:   doc.Workspace,
		Author:      doc.Author,
		Path:        doc.Path,
		Content:     doc.Content,
		Timestamp:   doc.Timestamp,
		DisplayName: doc.Author,
		Presence:    presence.Unknown,
		Age:         now.Sub(time.UnixMicro(doc.Timestamp)),
	}

	if dn, ok := a.s.Get(doc.Workspace, doc.Author, about.DisplayNamePath(doc.Author)); ok && !dn.IsEmpty() {
		e.DisplayName = dn.Content
	}

	if a.est != nil {
		e.Presence = a.est.Estimate(doc.Workspace, doc.Author)
	}

	return e
}

// sortEntries orders by timestamp descending, then author and path ascending.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		if entries[i].Author != entries[j].Author {
			return entries[i].Author < entries[j].Author
		}
		return entries[i].Path < entries[j].Path
	})
}

package snapshot

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/jinzhu/copier"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/logger"
	"github.com/denismitr/earthbeat/internal/storage"
	"github.com/denismitr/earthbeat/internal/store"
)

var ErrPersistenceUnavailable = errors.New("persistence unavailable")
var ErrUntrustedSnapshot = errors.New("untrusted snapshot")

const formatVersion = 1

const docsPrefix = "docs/"

// record is the persisted shape of a document, decoupled from store.Document.
type record struct {
	Format    string `json:"format"`
	Workspace string `json:"workspace"`
	Author    string `json:"author"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// envelope wraps one workspace snapshot: workspace -> path -> author -> record.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Docs     json.RawMessage `json:"docs"`
}

// Trusted is a verified workspace snapshot. It can only be obtained from
// Manager.LoadAll, which makes it the sole way into store.Rehydrate.
type Trusted struct {
	workspace string
	docs      store.DocMap
}

func (t Trusted) Workspace() string {
	return t.workspace
}

func (t Trusted) Len() int {
	return t.docs.Len()
}

type Option func(m *Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.log = logger.OrNop(l)
	}
}

// Manager keeps durable storage in step with the live replicas.
type Manager struct {
	backend storage.Backend
	log     *zap.Logger

	mu   sync.Mutex
	last map[string]uint64
}

func New(backend storage.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		log:     zap.NewNop(),
		last:    make(map[string]uint64),
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

func docsKey(workspace string) string {
	return docsPrefix + workspace
}

// Flush replaces the persisted snapshot of workspace with dm.
// A snapshot identical to the last successful flush is not written again.
func (m *Manager) Flush(ctx context.Context, workspace string, dm store.DocMap) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.flushUnderLock(ctx, workspace, dm)
}

// FlushCurrent reads the current full map of workspace and flushes it.
// Reading under the manager lock means a later flush never persists an older map.
func (m *Manager) FlushCurrent(ctx context.Context, s *store.Store, workspace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dm, err := s.Docs(workspace)
	if err != nil {
		return err
	}

	return m.flushUnderLock(ctx, workspace, dm)
}

// FlushAll flushes every workspace known to the store.
func (m *Manager) FlushAll(ctx context.Context, s *store.Store) error {
	var result error
	for _, w := range s.Workspaces() {
		result = multierr.Append(result, m.FlushCurrent(ctx, s, w))
	}
	return result
}

func (m *Manager) flushUnderLock(ctx context.Context, workspace string, dm store.DocMap) error {
	payload, sum, err := encodeDocs(dm)
	if err != nil {
		return err
	}

	if prev, ok := m.last[workspace]; ok && prev == sum {
		return nil
	}

	blob, err := json.Marshal(envelope{
		Version:  formatVersion,
		Checksum: strconv.FormatUint(sum, 16),
		Docs:     payload,
	})
	if err != nil {
		return errors.Wrapf(err, "could not marshal snapshot of %s", workspace)
	}

	if err := m.backend.Put(ctx, docsKey(workspace), blob); err != nil {
		m.log.Warn("snapshot flush failed, will retry on next write",
			zap.String("workspace", workspace),
			zap.Error(err),
		)
		return errors.Wrapf(ErrPersistenceUnavailable, "flush of %s: %s", workspace, err.Error())
	}

	m.last[workspace] = sum
	m.log.Debug("snapshot flushed",
		zap.String("workspace", workspace),
		zap.Int("docs", dm.Len()),
		zap.Int("bytes", len(blob)),
	)

	return nil
}

// Attach flushes the written workspace after every accepted write in s.
func (m *Manager) Attach(ctx context.Context, s *store.Store) store.CancelFunc {
	return s.Subscribe(func(ev store.Event) {
		// failures are logged in flushUnderLock, the next write retries
		_ = m.FlushCurrent(ctx, s, ev.Document.Workspace)
	})
}

// LoadAll returns every workspace snapshot in durable storage that passes verification.
// Snapshots that cannot be read or fail verification are logged and skipped.
func (m *Manager) LoadAll(ctx context.Context) (map[string]Trusted, error) {
	keys, err := m.backend.Keys(ctx, docsPrefix)
	if err != nil {
		return nil, errors.Wrapf(ErrPersistenceUnavailable, "could not list snapshots: %s", err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make(map[string]Trusted, len(keys))
	for _, k := range keys {
		workspace := strings.TrimPrefix(k, docsPrefix)

		blob, err := m.backend.Get(ctx, k)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.log.Error("skipping unreadable snapshot", zap.String("workspace", workspace), zap.Error(err))
			continue
		}

		docs, sum, err := decodeSnapshot(workspace, blob)
		if err != nil {
			m.log.Error("skipping snapshot", zap.String("workspace", workspace), zap.Error(err))
			continue
		}

		m.last[workspace] = sum
		result[workspace] = Trusted{workspace: workspace, docs: docs}
	}

	return result, nil
}

// Rehydrate installs a verified snapshot into s as a ready replica.
func (m *Manager) Rehydrate(s *store.Store, t Trusted) error {
	if t.workspace == "" {
		return errors.Wrap(ErrUntrustedSnapshot, "snapshot was not produced by LoadAll")
	}

	if err := s.Rehydrate(t.workspace, t.docs); err != nil {
		return errors.Wrapf(err, "could not rehydrate %s", t.workspace)
	}

	m.log.Info("workspace rehydrated", zap.String("workspace", t.workspace), zap.Int("docs", t.Len()))
	return nil
}

func encodeDocs(dm store.DocMap) ([]byte, uint64, error) {
	records := make(map[string]map[string]record, len(dm))
	for path, byAuthor := range dm {
		recs := make(map[string]record, len(byAuthor))
		for author, doc := range byAuthor {
			var rec record
			if err := copier.Copy(&rec, &doc); err != nil {
				return nil, 0, errors.Wrapf(err, "could not copy document %s", path)
			}
			recs[author] = rec
		}
		records[path] = recs
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return nil, 0, errors.Wrap(err, "could not marshal documents")
	}

	return payload, xxhash.Sum64(payload), nil
}

func decodeSnapshot(workspace string, blob []byte) (store.DocMap, uint64, error) {
	if err := store.ValidateWorkspace(workspace); err != nil {
		return nil, 0, errors.Wrap(ErrUntrustedSnapshot, err.Error())
	}

	if v := gjson.GetBytes(blob, "version"); !v.Exists() || v.Int() != formatVersion {
		return nil, 0, errors.Wrapf(ErrUntrustedSnapshot, "unsupported version %s", v.Raw)
	}

	var env envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, 0, errors.Wrapf(ErrUntrustedSnapshot, "could not decode envelope: %s", err.Error())
	}

	sum := xxhash.Sum64(env.Docs)
	if strconv.FormatUint(sum, 16) != env.Checksum {
		return nil, 0, errors.Wrapf(ErrUntrustedSnapshot, "checksum mismatch, want %s got %x", env.Checksum, sum)
	}

	var records map[string]map[string]record
	if err := json.Unmarshal(env.Docs, &records); err != nil {
		return nil, 0, errors.Wrapf(ErrUntrustedSnapshot, "could not decode documents: %s", err.Error())
	}

	dm := make(store.DocMap, len(records))
	for path, byAuthor := range records {
		docs := make(map[string]store.Document, len(byAuthor))
		for author, rec := range byAuthor {
			if rec.Workspace != workspace || rec.Path != path || rec.Author != author {
				return nil, 0, errors.Wrapf(
					ErrUntrustedSnapshot,
					"document %s by %s is filed under %s by %s",
					rec.Path, rec.Author, path, author,
				)
			}

			var doc store.Document
			if err := copier.Copy(&doc, &rec); err != nil {
				return nil, 0, errors.Wrapf(err, "could not copy record %s", path)
			}
			docs[author] = doc
		}
		dm[path] = docs
	}

	return dm, sum, nil
}

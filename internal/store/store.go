package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"

	"github.com/denismitr/earthbeat/options"
)

var ErrWriteRejected = errors.New("write rejected")
var ErrUnknownWorkspace = errors.New("unknown workspace")
var ErrStoreClosed = errors.New("store already closed")

const DefaultMaxContentBytes = 4096

// Event is delivered to subscribers once per accepted write.
type Event struct {
	Document Document
}

type CancelFunc func()

type subscriber struct {
	id int
	fn func(Event)
}

type Config struct {
	MaxContentBytes int
	Clock           Clock
}

// Store is a set of workspace replicas with last-writer-wins per (author, path).
type Store struct {
	cfg Config

	mu       sync.RWMutex
	replicas map[string]*Replica
	closed   bool

	subMu  sync.RWMutex
	subs   []subscriber
	nextID int
}

func New(cfg Config) *Store {
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = DefaultMaxContentBytes
	}

	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}

	return &Store{
		cfg:      cfg,
		replicas: make(map[string]*Replica),
	}
}

func (s *Store) Clock() Clock {
	return s.cfg.Clock
}

// AddWorkspace registers an empty replica, it is a no-op for a known workspace.
func (s *Store) AddWorkspace(workspace string) error {
	if err := ValidateWorkspace(workspace); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.replicas[workspace]; !ok {
		s.replicas[workspace] = newReplica(workspace)
	}

	return nil
}

func (s *Store) RemoveWorkspace(workspace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replicas, workspace)
}

func (s *Store) HasWorkspace(workspace string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.replicas[workspace]
	return ok
}

// Workspaces returns known workspace addresses in ascending order.
func (s *Store) Workspaces() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]string, 0, len(s.replicas))
	for w := range s.replicas {
		result = append(result, w)
	}
	sort.Strings(result)

	return result
}

func (s *Store) replica(workspace string) (*Replica, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	r, ok := s.replicas[workspace]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownWorkspace, "%s", workspace)
	}

	return r, nil
}

// Write stamps and stores a document authored by id.
func (s *Store) Write(id Identity, workspace string, ds DocToSet) (Document, error) {
	if err := ValidateAuthor(id.Address); err != nil {
		return Document{}, errors.Wrap(ErrWriteRejected, err.Error())
	}

	if err := s.validate(ds); err != nil {
		return Document{}, err
	}

	r, err := s.replica(workspace)
	if err != nil {
		return Document{}, err
	}

	format := ds.Format
	if format == "" {
		format = DefaultFormat
	}

	doc := Document{
		Format:    format,
		Workspace: workspace,
		Author:    id.Address,
		Path:      ds.Path,
		Content:   ds.Content,
		Timestamp: Micros(s.cfg.Clock.Now()),
	}

	r.mu.Lock()
	if latest, ok := r.latestAtPathUnderLock(ds.Path); ok && latest.Timestamp >= doc.Timestamp {
		doc.Timestamp = latest.Timestamp + 1
	}
	r.putUnderLock(doc)
	r.mu.Unlock()

	s.publish(Event{Document: doc})

	return doc, nil
}

// Ingest stores a fully formed document when it is newer than the current one at its key.
func (s *Store) Ingest(doc Document) (bool, error) {
	if err := ValidateAuthor(doc.Author); err != nil {
		return false, errors.Wrap(ErrWriteRejected, err.Error())
	}

	if err := s.validate(DocToSet{Path: doc.Path, Content: doc.Content}); err != nil {
		return false, err
	}

	if doc.Timestamp <= 0 {
		return false, errors.Wrapf(ErrWriteRejected, "timestamp %d is not positive", doc.Timestamp)
	}

	r, err := s.replica(doc.Workspace)
	if err != nil {
		return false, err
	}

	if doc.Format == "" {
		doc.Format = DefaultFormat
	}

	r.mu.Lock()
	accepted := r.putUnderLock(doc)
	r.mu.Unlock()

	if accepted {
		s.publish(Event{Document: doc})
	}

	return accepted, nil
}

func (s *Store) validate(ds DocToSet) error {
	if err := ValidatePath(ds.Path); err != nil {
		return err
	}

	if len(ds.Content) > s.cfg.MaxContentBytes {
		return errors.Wrapf(
			ErrWriteRejected,
			"content of %s is %d bytes, max is %d",
			ds.Path, len(ds.Content), s.cfg.MaxContentBytes,
		)
	}

	return nil
}

// ValidatePath checks the shape of a document path.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return errors.Wrapf(ErrWriteRejected, "path %q must start with /", path)
	}

	if strings.HasSuffix(path, "/") || strings.Contains(path, "//") {
		return errors.Wrapf(ErrWriteRejected, "path %q has an empty segment", path)
	}

	for _, r := range path {
		if r > unicode.MaxASCII || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return errors.Wrapf(ErrWriteRejected, "path %q must be printable ascii without spaces", path)
		}
	}

	return nil
}

func (s *Store) Get(workspace, author, path string) (Document, bool) {
	r, err := s.replica(workspace)
	if err != nil {
		return Document{}, false
	}

	return r.get(author, path)
}

// Query is a point-in-time read of one workspace.
func (s *Store) Query(ctx context.Context, workspace string, q *options.QueryOptions) ([]Document, error) {
	if q == nil {
		q = options.Query()
	}

	r, err := s.replica(workspace)
	if err != nil {
		return nil, err
	}

	return r.query(ctx, q)
}

// Docs returns a copy of the current full document map of a workspace.
func (s *Store) Docs(workspace string) (DocMap, error) {
	r, err := s.replica(workspace)
	if err != nil {
		return nil, err
	}

	return r.docMap(), nil
}

// Rehydrate replaces a workspace replica with one pre-populated from dm.
// Documents are not validated: dm must come from a snapshot written by a live replica.
func (s *Store) Rehydrate(workspace string, dm DocMap) error {
	r := newReplica(workspace)
	r.fill(dm)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.replicas[workspace] = r
	return nil
}

// Subscribe registers fn for every accepted write across all workspaces.
func (s *Store) Subscribe(fn func(Event)) CancelFunc {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()

			for i := range s.subs {
				if s.subs[i].id == id {
					s.subs = append(s.subs[:i], s.subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) publish(ev Event) {
	s.subMu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.closed = true
	s.replicas = nil

	s.subMu.Lock()
	s.subs = nil
	s.subMu.Unlock()

	return nil
}

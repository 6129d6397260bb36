package store

import (
	"context"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/denismitr/earthbeat/options"
)

const castPanic = "how could replica item not be of type *entry"

type entry struct {
	path   string
	author string
	doc    Document
}

type entryIterator func(ent *entry) bool

func byPathAndAuthor(a, b interface{}) bool {
	i1, i2 := a.(*entry), b.(*entry)
	if i1.path != i2.path {
		return i1.path < i2.path
	}
	return i1.author < i2.author
}

// Replica is the in-memory copy of a single workspace.
type Replica struct {
	workspace string
	mu        sync.RWMutex
	docs      *btree.BTree
}

func newReplica(workspace string) *Replica {
	return &Replica{
		workspace: workspace,
		docs:      btree.NewNonConcurrent(byPathAndAuthor),
	}
}

func (r *Replica) Workspace() string {
	return r.workspace
}

func (r *Replica) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs.Len()
}

func (r *Replica) getUnderLock(author, path string) (Document, bool) {
	found := r.docs.Get(&entry{path: path, author: author})
	if found == nil {
		return Document{}, false
	}

	ent, ok := found.(*entry)
	if !ok {
		panic(castPanic)
	}

	return ent.doc, true
}

func (r *Replica) get(author, path string) (Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getUnderLock(author, path)
}

// latestAtPath returns the newest document at path across all authors.
func (r *Replica) latestAtPathUnderLock(path string) (Document, bool) {
	var latest Document
	var found bool
	r.docs.Ascend(&entry{path: path}, func(item interface{}) bool {
		ent := item.(*entry)
		if ent.path != path {
			return false
		}
		if !found || ent.doc.Timestamp > latest.Timestamp {
			latest, found = ent.doc, true
		}
		return true
	})
	return latest, found
}

// putUnderLock stores doc when it is strictly newer than the current one at its key.
func (r *Replica) putUnderLock(doc Document) bool {
	existing, ok := r.getUnderLock(doc.Author, doc.Path)
	if ok && existing.Timestamp >= doc.Timestamp {
		return false
	}

	r.docs.Set(&entry{path: doc.Path, author: doc.Author, doc: doc})
	return true
}

func (r *Replica) scan(ctx context.Context, q *options.QueryOptions, ir entryIterator) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pivot interface{}
	if q.Px != "" {
		pivot = &entry{path: q.Px}
	}

	var err error
	r.docs.Ascend(pivot, func(item interface{}) bool {
		if err = ctx.Err(); err != nil {
			return false
		}

		ent, ok := item.(*entry)
		if !ok {
			panic(castPanic)
		}

		if q.Px != "" && !strings.HasPrefix(ent.path, q.Px) {
			return false
		}

		if q.Author != "" && ent.author != q.Author {
			return true
		}

		return ir(ent)
	})

	return err
}

func (r *Replica) query(ctx context.Context, q *options.QueryOptions) ([]Document, error) {
	var result []Document
	if err := r.scan(ctx, q, func(ent *entry) bool {
		result = append(result, ent.doc)
		return true
	}); err != nil {
		return nil, err
	}

	if q.O == options.Descend {
		for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
			result[i], result[j] = result[j], result[i]
		}
	}

	if q.Lim > 0 && len(result) > q.Lim {
		result = result[:q.Lim]
	}

	return result, nil
}

func (r *Replica) docMap() DocMap {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dm := make(DocMap)
	r.docs.Ascend(nil, func(item interface{}) bool {
		dm.put(item.(*entry).doc)
		return true
	})

	return dm
}

// fill loads documents straight into the index, no validation and no LWW check.
func (r *Replica) fill(dm DocMap) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, byAuthor := range dm {
		for _, doc := range byAuthor {
			r.docs.Set(&entry{path: doc.Path, author: doc.Author, doc: doc})
		}
	}
}

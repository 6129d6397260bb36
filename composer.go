package earthbeat

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/denismitr/earthbeat/internal/store"
)

// Composer holds a status being edited and the workspace it will be posted to.
type Composer struct {
	p *Peer

	mu        sync.Mutex
	draft     string
	workspace string
}

func (c *Composer) Edit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = text
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Composer) Select(workspace string) error {
	if !c.p.s.HasWorkspace(workspace) {
		return errors.Wrapf(store.ErrUnknownWorkspace, "%s", workspace)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspace = workspace
	return nil
}

func (c *Composer) Workspace() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workspace
}

// Submit posts the draft as the status of the current identity.
// The draft is cleared only when the write was accepted.
func (c *Composer) Submit() (store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.p.Identity().IsZero() {
		return store.Document{}, ErrNoIdentity
	}

	if c.workspace == "" {
		return store.Document{}, ErrNoWorkspace
	}

	doc, err := c.p.SetStatus(c.workspace, c.draft)
	if err != nil {
		return store.Document{}, errors.Wrap(err, "status was not posted")
	}

	c.draft = ""
	return doc, nil
}

package snapshot

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/denismitr/earthbeat/internal/storage"
	"github.com/denismitr/earthbeat/internal/store"
)

const (
	authorKey           = "settings/current-author"
	pubsKey             = "settings/pubs"
	currentWorkspaceKey = "settings/current-workspace"
)

// Pubs maps a workspace address to the relay URLs known for it.
type Pubs map[string][]string

func (m *Manager) SaveAuthor(ctx context.Context, id store.Identity) error {
	return m.saveSetting(ctx, authorKey, id)
}

// LoadAuthor returns the zero Identity when none was saved.
func (m *Manager) LoadAuthor(ctx context.Context) (store.Identity, error) {
	var id store.Identity
	if _, err := m.loadSetting(ctx, authorKey, &id); err != nil {
		return store.Identity{}, err
	}
	return id, nil
}

func (m *Manager) SavePubs(ctx context.Context, pubs Pubs) error {
	return m.saveSetting(ctx, pubsKey, pubs)
}

func (m *Manager) LoadPubs(ctx context.Context) (Pubs, error) {
	pubs := make(Pubs)
	if _, err := m.loadSetting(ctx, pubsKey, &pubs); err != nil {
		return nil, err
	}
	if pubs == nil {
		pubs = make(Pubs)
	}
	return pubs, nil
}

func (m *Manager) SaveCurrentWorkspace(ctx context.Context, workspace string) error {
	return m.saveSetting(ctx, currentWorkspaceKey, workspace)
}

func (m *Manager) LoadCurrentWorkspace(ctx context.Context) (string, error) {
	var w string
	if _, err := m.loadSetting(ctx, currentWorkspaceKey, &w); err != nil {
		return "", err
	}
	return w, nil
}

func (m *Manager) saveSetting(ctx context.Context, key string, v interface{}) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "could not marshal setting %s", key)
	}

	if err := m.backend.Put(ctx, key, blob); err != nil {
		m.log.Warn("setting was not persisted", zap.String("key", key), zap.Error(err))
		return errors.Wrapf(ErrPersistenceUnavailable, "setting %s: %s", key, err.Error())
	}

	return nil
}

// loadSetting reports false without error when the setting was never saved.
func (m *Manager) loadSetting(ctx context.Context, key string, dest interface{}) (bool, error) {
	blob, err := m.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, errors.Wrapf(ErrPersistenceUnavailable, "setting %s: %s", key, err.Error())
	}

	if err := json.Unmarshal(blob, dest); err != nil {
		m.log.Warn("ignoring unreadable setting", zap.String("key", key), zap.Error(err))
		return false, nil
	}

	return true, nil
}

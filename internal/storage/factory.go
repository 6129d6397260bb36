package storage

import (
	"github.com/pkg/errors"

	"github.com/denismitr/earthbeat/internal/config"
)

// NewBackendFromConfig creates a Backend implementation based on the storage config type.
func NewBackendFromConfig(cfg config.StorageConfig) (Backend, error) {
	var b Backend
	switch cfg.Type {
	case "memory":
		b = NewMemoryBackend()
	case "file", "":
		fb, err := NewFileBackend(cfg.Dir)
		if err != nil {
			return nil, err
		}
		b = fb
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("sqlite storage requires path to be set")
		}
		sb, err := NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, err
		}
		b = sb
	default:
		return nil, errors.Errorf("unknown storage type: %s", cfg.Type)
	}

	if cfg.EncryptionIdentity == "" {
		return b, nil
	}

	id, err := LoadIdentity(cfg.EncryptionIdentity)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	return NewEncryptedBackend(b, id), nil
}

package storage

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/denismitr/earthbeat/internal/storage/migrations"
)

const (
	upsertBlobQuery = `INSERT INTO blobs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	getBlobQuery    = `SELECT value FROM blobs WHERE key = ?`
	listKeysQuery   = `SELECT key FROM blobs WHERE instr(key, ?) = 1 OR ? = '' ORDER BY key`
)

// SQLiteBackend keeps blobs in a single sqlite table.
type SQLiteBackend struct {
	db *sql.DB
}

var _ Backend = (*SQLiteBackend)(nil)

// NewSQLiteBackend opens path (or ":memory:") and brings the schema up to date.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}

	// one connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "could not migrate snapshot database")
	}

	return NewSQLiteBackendFromDB(db), nil
}

// NewSQLiteBackendFromDB wraps an existing connection whose schema is already migrated.
func NewSQLiteBackendFromDB(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (s *SQLiteBackend) Put(ctx context.Context, key string, blob []byte) error {
	if blob == nil {
		blob = []byte{}
	}

	if _, err := s.db.ExecContext(ctx, upsertBlobQuery, key, blob); err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not upsert %s: %s", key, err.Error())
	}

	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var blob []byte
	if err := s.db.QueryRowContext(ctx, getBlobQuery, key).Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(ErrNotFound, "key %s", key)
		}
		return nil, errors.Wrapf(ErrStorageFailed, "could not read %s: %s", key, err.Error())
	}

	return blob, nil
}

func (s *SQLiteBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, listKeysQuery, prefix, prefix)
	if err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not list keys with prefix %s: %s", prefix, err.Error())
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrapf(ErrStorageFailed, "could not scan key: %s", err.Error())
		}
		keys = append(keys, k)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not list keys: %s", err.Error())
	}

	return keys, nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

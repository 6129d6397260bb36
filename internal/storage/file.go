package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

const blobExt = ".ldb"
const tmpExt = ".tmp"

// FileBackend stores one file per key under dir.
// Every Put writes a temp file, syncs it and renames it over the previous blob,
// so a crash leaves either the old or the new snapshot, never a torn one.
type FileBackend struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

var _ Backend = (*FileBackend)(nil)

func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, errors.Wrap(ErrStorageFailed, "file backend requires a directory")
	}

	if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
		return nil, errors.Wrapf(err, "could not create storage directory %s", dir)
	}

	return &FileBackend{dir: dir}, nil
}

func (fb *FileBackend) fullPath(key string) string {
	return filepath.Join(fb.dir, url.PathEscape(key)+blobExt)
}

func (fb *FileBackend) Put(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return ErrBackendClosed
	}

	fullPath := fb.fullPath(key)
	tmpF, err := os.CreateTemp(fb.dir, filepath.Base(fullPath)+".*"+tmpExt)
	if err != nil {
		return errors.Wrapf(ErrStorageFailed, "could not create tmp file for %s: %s", key, err.Error())
	}

	if _, err := tmpF.Write(blob); err != nil {
		tmpF.Close()
		os.Remove(tmpF.Name())
		return errors.Wrapf(ErrStorageFailed, "could not write to tmp file %s: %s", tmpF.Name(), err.Error())
	}

	if err := tmpF.Sync(); err != nil {
		tmpF.Close()
		os.Remove(tmpF.Name())
		return errors.Wrapf(ErrStorageFailed, "could not sync tmp file %s: %s", tmpF.Name(), err.Error())
	}

	if err := tmpF.Close(); err != nil {
		os.Remove(tmpF.Name())
		return errors.Wrapf(ErrStorageFailed, "could not close tmp file %s: %s", tmpF.Name(), err.Error())
	}

	if err := os.Chmod(tmpF.Name(), DefaultFilePerm); err != nil {
		os.Remove(tmpF.Name())
		return errors.Wrapf(ErrStorageFailed, "could not chmod tmp file %s: %s", tmpF.Name(), err.Error())
	}

	if err := os.Rename(tmpF.Name(), fullPath); err != nil {
		os.Remove(tmpF.Name())
		return errors.Wrapf(ErrStorageFailed, "could not replace %s with %s: %s", fullPath, tmpF.Name(), err.Error())
	}

	return nil
}

func (fb *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fb.mu.RLock()
	defer fb.mu.RUnlock()

	if fb.closed {
		return nil, ErrBackendClosed
	}

	b, err := os.ReadFile(fb.fullPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "key %s", key)
		}
		return nil, errors.Wrapf(ErrStorageFailed, "could not read %s: %s", key, err.Error())
	}

	return b, nil
}

func (fb *FileBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fb.mu.RLock()
	defer fb.mu.RUnlock()

	if fb.closed {
		return nil, ErrBackendClosed
	}

	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return nil, errors.Wrapf(ErrStorageFailed, "could not list %s: %s", fb.dir, err.Error())
	}

	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}

		key, err := url.PathUnescape(strings.TrimSuffix(name, blobExt))
		if err != nil {
			continue
		}

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

func (fb *FileBackend) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.closed {
		return ErrBackendClosed
	}
	fb.closed = true
	return nil
}

package storage

import (
	"context"
	"os"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("blob not found")
var ErrStorageFailed = errors.New("storage error")
var ErrBackendClosed = errors.New("backend already closed")

const DefaultFilePerm os.FileMode = 0644
const DefaultDirPerm os.FileMode = 0755

// Backend is durable key/blob storage. Put replaces any prior blob under key.
type Backend interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

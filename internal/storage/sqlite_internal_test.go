package storage

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SQLiteBackend_Failures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	b := NewSQLiteBackendFromDB(db)
	ctx := context.Background()

	t.Run("put surfaces driver errors as storage failures", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(upsertBlobQuery)).
			WithArgs("docs/+a.b1", []byte("x")).
			WillReturnError(errors.New("disk I/O error"))

		err := b.Put(ctx, "docs/+a.b1", []byte("x"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrStorageFailed))
		assert.Contains(t, err.Error(), "disk I/O error")
	})

	t.Run("put succeeds", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(upsertBlobQuery)).
			WithArgs("docs/+a.b1", []byte("x")).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, b.Put(ctx, "docs/+a.b1", []byte("x")))
	})

	t.Run("get of a missing key", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(getBlobQuery)).
			WithArgs("settings/pubs").
			WillReturnRows(sqlmock.NewRows([]string{"value"}))

		_, err := b.Get(ctx, "settings/pubs")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("keys", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(listKeysQuery)).
			WithArgs("docs/", "docs/").
			WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("docs/+a.b1").AddRow("docs/+b.b2"))

		keys, err := b.Keys(ctx, "docs/")
		require.NoError(t, err)
		assert.Equal(t, []string{"docs/+a.b1", "docs/+b.b2"}, keys)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

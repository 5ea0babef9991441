package mysql

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return newStore(db), mock
}

func TestStoreGet(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT v FROM kv_store WHERE k = ?`)).
		WithArgs("user").
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow([]byte(`{"email":"a@x.com"}`)))

	value, ok, err := store.Get(context.Background(), "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"email":"a@x.com"}`, string(value))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT v FROM kv_store WHERE k = ?`)).
		WithArgs("user").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.Get(context.Background(), "user")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetUpserts(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kv_store (k, v) VALUES (?, ?)`)).
		WithArgs("transactions_0xabc", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Set(context.Background(), "transactions_0xabc", []byte(`[]`)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreSetPropagatesError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO kv_store`)).
		WillReturnError(errors.New("connection refused"))

	err := store.Set(context.Background(), "user", []byte(`{}`))
	require.ErrorContains(t, err, "connection refused")
}

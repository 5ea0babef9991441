package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreGetMissingKey(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	value, ok, err := store.Get(context.Background(), "user")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestStoreSetOverwrites(t *testing.T) {
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "transactions_0xabc", []byte(`[1]`)))
	require.NoError(t, store.Set(ctx, "transactions_0xabc", []byte(`[2]`)))

	value, ok, err := store.Get(ctx, "transactions_0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[2]`, string(value))
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "user", []byte(`{"email":"a@x.com"}`)))
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	value, ok, err := reopened.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"email":"a@x.com"}`, string(value))
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore("")
	require.Error(t, err)
}

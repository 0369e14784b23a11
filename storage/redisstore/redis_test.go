package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeppavlov/dialgo-flow-framework/storage"
	"github.com/deeppavlov/dialgo-flow-framework/storage/redisstore"
)

// setupStore creates a test Redis store backed by miniredis.
func setupStore(t *testing.T, opts ...redisstore.Option) (*redisstore.Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := redisstore.New(client, opts...)
	return store, mr
}

func TestStore_IsConcurrent(t *testing.T) {
	store, _ := setupStore(t)
	assert.True(t, store.IsConcurrent())
}

func TestStore_LoadMainInfo_NotFound(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.LoadMainInfo(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_MainInfo_RoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	info := storage.MainInfo{CurrentTurnID: 2, CreatedAt: 10, UpdatedAt: 20, MiscBytes: []byte("misc"), FrameworkDataBytes: []byte("fw")}
	require.NoError(t, store.UpdateMainInfo(ctx, "dlg1", info))

	got, err := store.LoadMainInfo(ctx, "dlg1")
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestStore_FieldItems_UpsertAndDelete(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateFieldItems(ctx, "dlg1", storage.FieldResponses, []storage.FieldItem{
		{Key: 0, Bytes: []byte("r0"), Present: true},
		{Key: 1, Bytes: []byte("r1"), Present: true},
	}))

	keys, err := store.LoadFieldKeys(ctx, "dlg1", storage.FieldResponses)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{0, 1}, keys)

	items, err := store.LoadFieldItems(ctx, "dlg1", storage.FieldResponses, []int64{0, 1, 5})
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.NoError(t, store.UpdateFieldItems(ctx, "dlg1", storage.FieldResponses, []storage.FieldItem{
		{Key: 0, Present: false},
	}))

	keys, err = store.LoadFieldKeys(ctx, "dlg1", storage.FieldResponses)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, keys)
}

func TestStore_LoadFieldLatest_OrderedDescending(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateFieldItems(ctx, "dlg1", storage.FieldLabels, []storage.FieldItem{
		{Key: 1, Bytes: []byte("1"), Present: true},
		{Key: 4, Bytes: []byte("4"), Present: true},
		{Key: 2, Bytes: []byte("2"), Present: true},
	}))

	items, err := store.LoadFieldLatest(ctx, "dlg1", storage.FieldLabels)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []int64{4, 2, 1}, []int64{items[0].Key, items[1].Key, items[2].Key})
}

func TestStore_DeleteContext(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateMainInfo(ctx, "dlg1", storage.MainInfo{CurrentTurnID: 1}))
	require.NoError(t, store.UpdateFieldItems(ctx, "dlg1", storage.FieldLabels, []storage.FieldItem{
		{Key: 0, Bytes: []byte("a"), Present: true},
	}))

	require.NoError(t, store.DeleteContext(ctx, "dlg1"))

	_, err := store.LoadMainInfo(ctx, "dlg1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	keys, err := store.LoadFieldKeys(ctx, "dlg1", storage.FieldLabels)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_ClearAll(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdateMainInfo(ctx, "dlg1", storage.MainInfo{CurrentTurnID: 1}))
	require.NoError(t, store.ClearAll(ctx))

	_, err := store.LoadMainInfo(ctx, "dlg1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

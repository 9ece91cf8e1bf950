package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGetDelete(t *testing.T) {
	store := newTestStorage(t)

	_, err := store.Get("missing")
	require.Equal(t, ErrNotFound, err)

	require.NoError(t, store.Put("consent:1", []byte("payload")))
	value, err := store.Get("consent:1")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), value)

	ok, err := store.Has("consent:1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Delete("consent:1"))
	ok, err = store.Has("consent:1")
	require.NoError(t, err)
	require.False(t, ok)

	// Deleting a missing key is a no-op.
	require.NoError(t, store.Delete("consent:1"))
}

func TestWriteBatchCommitsAllKeys(t *testing.T) {
	store := newTestStorage(t)

	batch := &Batch{}
	batch.Put("a", []byte("1"))
	batch.Put("b", []byte("2"))
	batch.Delete("c")
	require.Equal(t, 3, batch.Len())
	require.NoError(t, store.WriteBatch(batch))

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		value, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, want, string(value))
	}
}

func TestScanPrefixIsOrderedAndBounded(t *testing.T) {
	store := newTestStorage(t)

	for i := 3; i >= 1; i-- {
		require.NoError(t, store.Put(fmt.Sprintf("event:%016d", i), []byte(fmt.Sprintf("%d", i))))
	}
	require.NoError(t, store.Put("evtcat:consent:0000000000000001", []byte("other prefix")))

	iter := store.ScanPrefix("event:")
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	require.NoError(t, iter.Error())
	require.Equal(t, []string{
		"event:0000000000000001",
		"event:0000000000000002",
		"event:0000000000000003",
	}, keys)
}

func TestScanRangeHonorsBounds(t *testing.T) {
	store := newTestStorage(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.Put(fmt.Sprintf("event:%016d", i), []byte(fmt.Sprintf("%d", i))))
	}

	// Start inclusive, limit exclusive.
	iter := store.ScanRange("event:0000000000000002", "event:0000000000000004")
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	require.NoError(t, iter.Error())
	require.Equal(t, []string{
		"event:0000000000000002",
		"event:0000000000000003",
	}, keys)
}

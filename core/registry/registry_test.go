package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"consentchain/core/lederr"
	"consentchain/core/registry"
	"consentchain/core/storage"
	"consentchain/types/ids"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return registry.New(store)
}

func TestInternAndResolve(t *testing.T) {
	reg := newTestRegistry(t)

	hash, err := reg.Intern("lab-results", registry.KindDataType)
	require.NoError(t, err)
	require.Equal(t, ids.NewID([]byte("lab-results")), hash)

	text, err := reg.Resolve(hash)
	require.NoError(t, err)
	require.Equal(t, "lab-results", text)
}

func TestInternIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)

	first, err := reg.Intern("treatment", registry.KindPurpose)
	require.NoError(t, err)
	second, err := reg.Intern("treatment", registry.KindPurpose)
	require.NoError(t, err)
	require.Equal(t, first, second)

	entries, err := reg.ListKind(registry.KindPurpose)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestResolveUnknownHash(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Resolve(ids.NewID([]byte("never interned")))
	require.True(t, lederr.IsNotFound(err))
}

func TestInternAllPreservesOrder(t *testing.T) {
	reg := newTestRegistry(t)

	hashes, err := reg.InternAll([]string{"b", "a", "b"}, registry.KindDataType)
	require.NoError(t, err)
	require.Equal(t, []ids.ID{
		ids.NewID([]byte("b")),
		ids.NewID([]byte("a")),
		ids.NewID([]byte("b")),
	}, hashes)

	texts, err := reg.ResolveAll(hashes)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a", "b"}, texts)
}

func TestListKindPartitionsAndSorts(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.Intern("zeta", registry.KindDataType)
	require.NoError(t, err)
	_, err = reg.Intern("alpha", registry.KindDataType)
	require.NoError(t, err)
	_, err = reg.Intern("research", registry.KindPurpose)
	require.NoError(t, err)

	dataTypes, err := reg.ListKind(registry.KindDataType)
	require.NoError(t, err)
	require.Len(t, dataTypes, 2)
	require.Equal(t, "alpha", dataTypes[0].Text)
	require.Equal(t, "zeta", dataTypes[1].Text)

	purposes, err := reg.ListKind(registry.KindPurpose)
	require.NoError(t, err)
	require.Len(t, purposes, 1)
	require.Equal(t, registry.KindPurpose, purposes[0].Kind)
}

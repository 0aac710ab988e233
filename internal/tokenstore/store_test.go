package tokenstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"go-procurement-client/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("saves and loads credential with identity", func(t *testing.T) {
		store := newTestStore(t)

		identity := &model.SessionIdentity{ID: "u1", Username: "alice", Role: "admin", Email: "alice@example.com"}
		require.NoError(t, store.Save("token-1", identity))

		credential, loaded, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, "token-1", credential)
		require.Equal(t, identity, loaded)
	})

	t.Run("empty store loads as absent session", func(t *testing.T) {
		store := newTestStore(t)

		credential, identity, err := store.Load()
		require.NoError(t, err)
		require.Empty(t, credential)
		require.Nil(t, identity)
	})

	t.Run("save replaces the previous session atomically", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Save("old", &model.SessionIdentity{ID: "u1", Username: "alice"}))
		require.NoError(t, store.Save("new", &model.SessionIdentity{ID: "u2", Username: "bob"}))

		credential, identity, err := store.Load()
		require.NoError(t, err)
		require.Equal(t, "new", credential)
		require.Equal(t, "u2", identity.ID)
	})

	t.Run("survives reopening the same path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.db")

		store, err := New(path)
		require.NoError(t, err)
		require.NoError(t, store.Save("persisted", &model.SessionIdentity{ID: "u1", Username: "alice"}))
		require.NoError(t, store.Close())

		reopened, err := New(path)
		require.NoError(t, err)
		defer reopened.Close()

		credential, identity, err := reopened.Load()
		require.NoError(t, err)
		require.Equal(t, "persisted", credential)
		require.Equal(t, "alice", identity.Username)
	})
}

func TestStoreCorruptIdentity(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Save("token-1", &model.SessionIdentity{ID: "u1", Username: "alice"}))

	_, err := store.db.Exec(`UPDATE session SET identity = 'not-json{{' WHERE id = 1`)
	require.NoError(t, err)

	credential, identity, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "token-1", credential)
	require.Nil(t, identity)
}

func TestStoreClear(t *testing.T) {
	t.Parallel()

	t.Run("removes credential and identity together", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Save("token-1", &model.SessionIdentity{ID: "u1"}))
		require.NoError(t, store.Clear())

		credential, identity, err := store.Load()
		require.NoError(t, err)
		require.Empty(t, credential)
		require.Nil(t, identity)
	})

	t.Run("clearing an empty store is a no-op", func(t *testing.T) {
		store := newTestStore(t)

		require.NoError(t, store.Clear())
		require.NoError(t, store.Clear())
	})
}

func TestStoreClosed(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Save("t", nil), model.ErrStoreClosed)
	_, _, err := store.Load()
	require.ErrorIs(t, err, model.ErrStoreClosed)
	require.ErrorIs(t, store.Clear(), model.ErrStoreClosed)
	require.NoError(t, store.Close())
}

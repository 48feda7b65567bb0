package persist

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileSystemStore {
	t.Helper()
	store, err := NewFileSystemStore(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFileSystemStoreVerifier(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadVerifier()
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("verifier-blob")
	require.NoError(t, store.SaveVerifier(data))

	got, err := store.LoadVerifier()
	require.NoError(t, err)
	require.True(t, bytes.Equal(got, data))

	// Overwrite replaces, never appends.
	require.NoError(t, store.SaveVerifier([]byte("v2")))
	got, err = store.LoadVerifier()
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), got)
}

func TestFileSystemStoreJournal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadJournal()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveJournal([]byte(`{"state":"in_progress"}`)))
	got, err := store.LoadJournal()
	require.NoError(t, err)
	require.Equal(t, []byte(`{"state":"in_progress"}`), got)

	require.NoError(t, store.ClearJournal())
	_, err = store.LoadJournal()
	require.ErrorIs(t, err, ErrNotFound)

	// Clearing an absent journal is not an error.
	require.NoError(t, store.ClearJournal())
}

func TestFileSystemStoreCredentials(t *testing.T) {
	store := newTestStore(t)

	exists, err := store.CredentialExists(CredentialBiometric)
	require.NoError(t, err)
	require.False(t, exists)

	require.NoError(t, store.SaveCredential(CredentialBiometric, []byte("key-copy")))

	exists, err = store.CredentialExists(CredentialBiometric)
	require.NoError(t, err)
	require.True(t, exists)

	got, err := store.LoadCredential(CredentialBiometric)
	require.NoError(t, err)
	require.Equal(t, []byte("key-copy"), got)

	require.NoError(t, store.DeleteCredential(CredentialBiometric))
	_, err = store.LoadCredential(CredentialBiometric)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.DeleteCredential(CredentialBiometric), ErrNotFound)
}

func TestFileSystemStoreRejectsBadCredentialIDs(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		require.Error(t, store.SaveCredential(id, []byte("x")), "id %q", id)
	}
}

func TestFileSystemStorePermissions(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveVerifier([]byte("blob")))

	info, err := os.Stat(filepath.Join(store.BasePath(), "verifier.bin"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileSystemStoreNoPartialWrites(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SaveJournal([]byte("journal")))

	// No temp files survive a completed write.
	entries, err := os.ReadDir(store.BasePath())
	require.NoError(t, err)
	for _, e := range entries {
		require.False(t, len(e.Name()) > 4 && e.Name()[:4] == ".tmp", "leftover temp file %s", e.Name())
	}
}

func TestFileSystemStorePing(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Ping())
	require.Equal(t, StoreTypeFileSystem, store.GetType())
}

func TestNewStoreFactory(t *testing.T) {
	base := t.TempDir()

	store, err := NewStore(Config{Type: StoreTypeFileSystem, BasePath: filepath.Join(base, "s")})
	require.NoError(t, err)
	require.Equal(t, StoreTypeFileSystem, store.GetType())
	store.Close()

	_, err = NewStore(Config{Type: StoreTypeFileSystem})
	require.Error(t, err)

	_, err = NewStore(Config{Type: "redis"})
	require.Error(t, err)
	require.True(t, !errors.Is(err, ErrNotFound))
}

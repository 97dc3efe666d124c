package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	_, ok := s.Token(DefaultKey)
	assert.False(t, ok)

	require.NoError(t, s.SetToken(DefaultKey, "tok"))
	tok, ok := s.Token(DefaultKey)
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)

	require.NoError(t, s.DeleteToken(DefaultKey))
	_, ok = s.Token(DefaultKey)
	assert.False(t, ok)

	assert.ErrorIs(t, s.SetToken(" ", "x"), ErrEmptyKey)
}

func TestFileStore_round_trip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	_, ok := s.Token(DefaultKey)
	assert.False(t, ok)

	require.NoError(t, s.SetToken(DefaultKey, "tok-1"))
	require.NoError(t, s.SetToken("other", "tok-2"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	tok, ok := reopened.Token(DefaultKey)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	assert.Equal(t, []string{DefaultKey, "other"}, reopened.Keys())

	require.NoError(t, reopened.DeleteToken("other"))
	again, err := OpenFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultKey}, again.Keys())
}

func TestFileStore_rejects_corrupt_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tokens: [not, a, map"), 0o600))

	_, err := OpenFileStore(path)
	assert.Error(t, err)
}

func TestFileStore_empty_path(t *testing.T) {
	_, err := OpenFileStore("")
	assert.Error(t, err)
}

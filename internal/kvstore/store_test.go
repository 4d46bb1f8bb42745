package kvstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemory()

	_, ok, err := s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set("k", "v"))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, s.Delete("k"))
	_, ok, _ = s.Get("k")
	assert.False(t, ok)

	// deleting an absent key is a no-op
	require.NoError(t, s.Delete("k"))
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s := NewFileAt(path)
	require.NoError(t, s.Set("wallet.connected", "true"))
	require.NoError(t, s.Set("wallet.lastChainId", "31337"))

	reopened := NewFileAt(path)
	v, ok, err := reopened.Get("wallet.connected")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", v)

	v, _, _ = reopened.Get("wallet.lastChainId")
	assert.Equal(t, "31337", v)
}

func TestFileStoreSchemaStamped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s := NewFileAt(path)
	require.NoError(t, s.Set("k", "v"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"schema": 1`)
}

func TestFileStoreDeleteIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	s := NewFileAt(path)
	require.NoError(t, s.Set("k", "v"))
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))

	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealed.json")
	password := []byte("correct horse")

	s := NewEncrypted(path, password, "test:v1")
	require.NoError(t, s.Set("sig", `{"publicKey":"0xabc"}`))

	reopened := NewEncrypted(path, password, "test:v1")
	v, ok, err := reopened.Get("sig")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"publicKey":"0xabc"}`, v)

	// ciphertext on disk, not plaintext
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "publicKey")
}

func TestEncryptedStoreWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealed.json")

	s := NewEncrypted(path, []byte("right"), "test:v1")
	require.NoError(t, s.Set("k", "v"))

	bad := NewEncrypted(path, []byte("wrong"), "test:v1")
	_, _, err := bad.Get("k")
	assert.Error(t, err)
}

func TestEncryptedStoreMissingFileIsEmpty(t *testing.T) {
	s := NewEncrypted(filepath.Join(t.TempDir(), "absent.json"), []byte("pw"), "test:v1")
	_, ok, err := s.Get("anything")
	require.NoError(t, err)
	assert.False(t, ok)
}

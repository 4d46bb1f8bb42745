package securefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastKDF keeps Argon2 cheap in tests.
var fastKDF = KDFParams{
	Version:      1,
	ArgonTime:    1,
	ArgonMemory:  8 * 1024,
	ArgonThreads: 1,
	ArgonKeyLen:  32,
}

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestEncryptedJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	opt := Options{KDF: fastKDF}

	in := payload{Name: "session", Value: 42}
	require.NoError(t, WriteEncryptedJSON(path, in, []byte("pw"), opt))

	out, err := ReadEncryptedJSON[payload](path, []byte("pw"), opt)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "session", "plaintext must not appear on disk")
}

func TestWrongPassword(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")
	opt := Options{KDF: fastKDF}

	require.NoError(t, WriteEncryptedJSON(path, payload{Name: "x"}, []byte("right"), opt))

	_, err := ReadEncryptedJSON[payload](path, []byte("wrong"), opt)
	assert.ErrorIs(t, err, ErrInvalidPasswordOrCorrupt)
}

func TestAADMismatchFailsDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secret.json")

	write := Options{KDF: fastKDF, AADFunc: func(string) []byte { return []byte("ctx-a") }}
	read := Options{KDF: fastKDF, AADFunc: func(string) []byte { return []byte("ctx-b") }}

	require.NoError(t, WriteEncryptedJSON(path, payload{Name: "x"}, []byte("pw"), write))

	_, err := ReadEncryptedJSON[payload](path, []byte("pw"), read)
	assert.ErrorIs(t, err, ErrInvalidPasswordOrCorrupt)
}

func TestMissingFileIsNotExist(t *testing.T) {
	_, err := ReadEncryptedJSON[payload](filepath.Join(t.TempDir(), "absent.json"), []byte("pw"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAtomicWriteReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")

	require.NoError(t, AtomicWriteFile(path, []byte("one"), 0o600))
	require.NoError(t, AtomicWriteFile(path, []byte("two"), 0o600))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not linger")
}

func TestEnvFolderMapping(t *testing.T) {
	t.Setenv("CIPHERPOLL_ENV", "local")
	f, err := EnvFolder()
	require.NoError(t, err)
	assert.Equal(t, "local", f)

	t.Setenv("CIPHERPOLL_ENV", "develop")
	f, _ = EnvFolder()
	assert.Equal(t, "develop", f)

	t.Setenv("CIPHERPOLL_ENV", "production")
	f, _ = EnvFolder()
	assert.Empty(t, f)

	t.Setenv("CIPHERPOLL_ENV", "bogus")
	_, err = EnvFolder()
	assert.Error(t, err)
}

func TestConfigPathCandidatesHonorEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CIPHERPOLL_ENV", "local")

	paths, err := ConfigPathCandidates("cipherpoll", "session.json")
	require.NoError(t, err)
	require.NotEmpty(t, paths)
	assert.Contains(t, paths[0], filepath.Join(".config", "cipherpoll", "local", "session.json"))
}

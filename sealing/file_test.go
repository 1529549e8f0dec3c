package sealing

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testIdentity() []byte {
	return bytes.Repeat([]byte{0x13}, 32)
}

func TestFileSealerRoundTrip(t *testing.T) {
	sealer, err := NewFileSealer(t.TempDir(), testIdentity(), testLogger())
	require.NoError(t, err)

	material := []byte("root secret material")
	require.NoError(t, sealer.Seal(material, "seed.sealed"))

	unsealed, err := sealer.Unseal("seed.sealed")
	require.NoError(t, err)
	assert.Equal(t, material, unsealed)
}

func TestFileSealerMissingBlob(t *testing.T) {
	sealer, err := NewFileSealer(t.TempDir(), testIdentity(), testLogger())
	require.NoError(t, err)

	_, err = sealer.Unseal("absent.sealed")
	assert.ErrorIs(t, err, ErrSealedNotFound)
}

func TestFileSealerOverwrite(t *testing.T) {
	sealer, err := NewFileSealer(t.TempDir(), testIdentity(), testLogger())
	require.NoError(t, err)

	require.NoError(t, sealer.Seal([]byte("old"), "key.sealed"))
	require.NoError(t, sealer.Seal([]byte("new"), "key.sealed"))

	unsealed, err := sealer.Unseal("key.sealed")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), unsealed)
}

func TestFileSealerRejectsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	sealer, err := NewFileSealer(dir, testIdentity(), testLogger())
	require.NoError(t, err)

	require.NoError(t, sealer.Seal([]byte("material"), "seed.sealed"))

	path := filepath.Join(dir, "seed.sealed")
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	_, err = sealer.Unseal("seed.sealed")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSealedNotFound)
}

func TestFileSealerBindsLocation(t *testing.T) {
	dir := t.TempDir()
	sealer, err := NewFileSealer(dir, testIdentity(), testLogger())
	require.NoError(t, err)

	require.NoError(t, sealer.Seal([]byte("material"), "a.sealed"))

	// Copy the blob to a different location; it must not open there.
	blob, err := os.ReadFile(filepath.Join(dir, "a.sealed"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.sealed"), blob, 0o600))

	_, err = sealer.Unseal("b.sealed")
	assert.Error(t, err)
}

func TestFileSealerDifferentIdentityCannotUnseal(t *testing.T) {
	dir := t.TempDir()
	sealer, err := NewFileSealer(dir, testIdentity(), testLogger())
	require.NoError(t, err)

	require.NoError(t, sealer.Seal([]byte("material"), "seed.sealed"))

	other, err := NewFileSealer(dir, bytes.Repeat([]byte{0x99}, 32), testLogger())
	require.NoError(t, err)

	_, err = other.Unseal("seed.sealed")
	assert.Error(t, err, "a different enclave identity must not unseal the blob")
}

func TestFileSealerRejectsBadLocations(t *testing.T) {
	sealer, err := NewFileSealer(t.TempDir(), testIdentity(), testLogger())
	require.NoError(t, err)

	for _, location := range []string{"", "../escape", "a/b", "a\\b"} {
		assert.Error(t, sealer.Seal([]byte("x"), location), "location %q", location)
	}
}

func TestNewFileSealerRejectsShortIdentity(t *testing.T) {
	_, err := NewFileSealer(t.TempDir(), []byte("short"), testLogger())
	assert.Error(t, err)
}

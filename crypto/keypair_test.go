package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyPairFromBytes(t *testing.T) {
	raw := bytes.Repeat([]byte{0x41}, PrivateKeySize)

	kp1, err := KeyPairFromBytes(raw)
	require.NoError(t, err)

	kp2, err := KeyPairFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, kp1.Public(), kp2.Public(),
		"same private bytes must yield same public key")
	assert.Equal(t, raw, kp1.PrivateBytes())

	_, err = KeyPairFromBytes(raw[:16])
	assert.Error(t, err, "short private key should be rejected")
}

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)

	kp2, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, kp1.Public(), kp2.Public())
}

func TestKeyPairDH(t *testing.T) {
	alice, err := GenerateKeyPair()
	require.NoError(t, err)

	bob, err := GenerateKeyPair()
	require.NoError(t, err)

	ab, err := alice.DH(bob.Public())
	require.NoError(t, err)

	ba, err := bob.DH(alice.Public())
	require.NoError(t, err)

	assert.Equal(t, ab, ba, "both sides must agree on the shared secret")
}

func TestKeyPairWipe(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)

	kp.Wipe()
	assert.Equal(t, make([]byte, PrivateKeySize), kp.PrivateBytes())
}

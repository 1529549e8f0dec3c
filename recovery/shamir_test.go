package recovery

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/alexanderbez/SecretNetwork/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAdmin struct {
	pubPEM []byte
	sign   func(share []byte) []byte
}

func newECDSAAdmin(t *testing.T) testAdmin {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return testAdmin{
		pubPEM: marshalPubKey(t, &priv.PublicKey),
		sign: func(share []byte) []byte {
			digest := sha256.Sum256(share)
			sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
			require.NoError(t, err)
			return sig
		},
	}
}

func newEd25519Admin(t *testing.T) testAdmin {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return testAdmin{
		pubPEM: marshalPubKey(t, pub),
		sign: func(share []byte) []byte {
			return ed25519.Sign(priv, share)
		},
	}
}

func marshalPubKey(t *testing.T, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestSplitAndRecoverSeed(t *testing.T) {
	seed, err := crypto.GenerateSeed()
	require.NoError(t, err)

	shares, err := SplitSeed(seed, 3, 5)
	require.NoError(t, err)
	require.Len(t, shares, 5)

	admins := []testAdmin{
		newECDSAAdmin(t),
		newEd25519Admin(t),
		newECDSAAdmin(t),
	}

	recovery := NewSeedRecovery(3)
	for _, admin := range admins {
		require.NoError(t, recovery.RegisterAdmin(admin.pubPEM))
	}

	for i, admin := range admins {
		assert.False(t, recovery.IsRecovered())
		_, err := recovery.RecoveredSeed()
		require.ErrorIs(t, err, ErrLocked)

		sig := admin.sign(shares[i])
		require.NoError(t, recovery.SubmitShare(i, shares[i], sig, admin.pubPEM))
	}

	require.True(t, recovery.IsRecovered())
	recovered, err := recovery.RecoveredSeed()
	require.NoError(t, err)
	assert.Equal(t, seed.Bytes(), recovered.Bytes())
}

func TestSubmitShareRejectsUnregisteredAdmin(t *testing.T) {
	seed, err := crypto.GenerateSeed()
	require.NoError(t, err)
	shares, err := SplitSeed(seed, 2, 2)
	require.NoError(t, err)

	intruder := newECDSAAdmin(t)

	recovery := NewSeedRecovery(2)
	err = recovery.SubmitShare(0, shares[0], intruder.sign(shares[0]), intruder.pubPEM)
	require.ErrorContains(t, err, "unregistered admin public key")
}

func TestSubmitShareRejectsBadSignature(t *testing.T) {
	seed, err := crypto.GenerateSeed()
	require.NoError(t, err)
	shares, err := SplitSeed(seed, 2, 2)
	require.NoError(t, err)

	admin := newECDSAAdmin(t)
	recovery := NewSeedRecovery(2)
	require.NoError(t, recovery.RegisterAdmin(admin.pubPEM))

	// Signature over a different share does not authorize this one.
	err = recovery.SubmitShare(0, shares[0], admin.sign(shares[1]), admin.pubPEM)
	require.ErrorContains(t, err, "invalid share signature")
}

func TestSplitSeedValidatesParameters(t *testing.T) {
	seed, err := crypto.GenerateSeed()
	require.NoError(t, err)

	_, err = SplitSeed(seed, 1, 5)
	require.Error(t, err)

	_, err = SplitSeed(seed, 3, 2)
	require.Error(t, err)
}

func TestRegisterAdminRejectsGarbage(t *testing.T) {
	recovery := NewSeedRecovery(2)
	require.Error(t, recovery.RegisterAdmin([]byte("not a pem block")))
}

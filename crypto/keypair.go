package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/curve25519"
)

// PrivateKeySize is the length of an x25519 private key in bytes.
const PrivateKeySize = 32

// PublicKeySize is the length of an x25519 public key in bytes.
const PublicKeySize = 32

// PublicKey is an x25519 public key.
type PublicKey [PublicKeySize]byte

// String returns the hex encoding of the public key.
func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// KeyPair is an x25519 key pair used by the seed exchange and transaction
// I/O encryption protocols, and as the enclave registration key.
type KeyPair struct {
	priv [PrivateKeySize]byte
	pub  PublicKey
}

// GenerateKeyPair creates a fresh key pair from the system CSPRNG.
func GenerateKeyPair() (KeyPair, error) {
	var priv [PrivateKeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	return KeyPairFromBytes(priv[:])
}

// KeyPairFromBytes constructs a key pair from raw private key bytes and
// computes the matching public key. The input may come from seed
// derivation or from unsealed storage.
func KeyPairFromBytes(b []byte) (KeyPair, error) {
	if len(b) != PrivateKeySize {
		return KeyPair{}, fmt.Errorf("invalid private key length %d, expected %d", len(b), PrivateKeySize)
	}

	var kp KeyPair
	copy(kp.priv[:], b)

	pub, err := curve25519.X25519(kp.priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to compute public key: %w", err)
	}
	copy(kp.pub[:], pub)
	return kp, nil
}

// Public returns the public half of the key pair.
func (kp KeyPair) Public() PublicKey {
	return kp.pub
}

// PrivateBytes returns a copy of the raw private key, for sealing to
// storage. Callers own the copy and should wipe it when done.
func (kp KeyPair) PrivateBytes() []byte {
	out := make([]byte, PrivateKeySize)
	copy(out, kp.priv[:])
	return out
}

// DH computes the x25519 shared secret with the peer's public key.
func (kp KeyPair) DH(peer PublicKey) ([]byte, error) {
	shared, err := curve25519.X25519(kp.priv[:], peer[:])
	if err != nil {
		return nil, fmt.Errorf("x25519 key agreement failed: %w", err)
	}
	return shared, nil
}

// Wipe overwrites the private key in place.
func (kp *KeyPair) Wipe() {
	memguard.WipeBytes(kp.priv[:])
}

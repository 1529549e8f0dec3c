package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

// SeedSize is the length of the consensus seed in bytes.
const SeedSize = 32

// derivationSalt domain-separates HKDF output of this module from any
// other user of the same seed material.
var derivationSalt = []byte("secret-enclave-consensus-key-derivation-v1")

// Seed is the root secret of the enclave key hierarchy. All consensus
// keys are derived from it deterministically.
type Seed [SeedSize]byte

// GenerateSeed creates a fresh random seed from the system CSPRNG.
func GenerateSeed() (Seed, error) {
	var s Seed
	if _, err := io.ReadFull(rand.Reader, s[:]); err != nil {
		return Seed{}, fmt.Errorf("failed to generate seed: %w", err)
	}
	return s, nil
}

// SeedFromBytes constructs a seed from raw bytes, typically unsealed from
// storage or received through the seed exchange protocol.
func SeedFromBytes(b []byte) (Seed, error) {
	if len(b) != SeedSize {
		return Seed{}, fmt.Errorf("invalid seed length %d, expected %d", len(b), SeedSize)
	}
	var s Seed
	copy(s[:], b)
	return s, nil
}

// Derive produces SeedSize bytes of key material bound to the given tag.
// The output is a deterministic, pure function of (seed, tag).
func (s Seed) Derive(tag []byte) []byte {
	out := make([]byte, SeedSize)
	r := hkdf.New(sha256.New, s[:], derivationSalt, tag)
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 cannot fail for a single 32-byte block.
		panic(fmt.Sprintf("hkdf expand: %v", err))
	}
	return out
}

// Bytes returns a copy of the raw seed.
func (s Seed) Bytes() []byte {
	out := make([]byte, SeedSize)
	copy(out[:], s[:])
	return out
}

// Wipe overwrites the seed in place.
func (s *Seed) Wipe() {
	memguard.WipeBytes(s[:])
}

// Package recovery implements disaster recovery for the consensus seed
// using Shamir Secret Sharing. The seed is split into shares held by
// administrators; a threshold of signed shares reconstructs it on a
// replacement enclave, which then installs it through the key manager.
//
// The seed itself is never persisted by this package. Shares exist only
// transiently during splitting and reconstruction and are wiped once the
// seed is recovered.
package recovery

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"

	"github.com/alexanderbez/SecretNetwork/crypto"
	"github.com/awnumar/memguard"
	"github.com/hashicorp/vault/shamir"
)

// ErrLocked is returned when the recovered seed is requested before
// enough shares have been submitted.
var ErrLocked = errors.New("seed not yet reconstructed, more shares required")

// SplitSeed splits a consensus seed into one share per administrator,
// any threshold of which reconstructs it. The caller distributes the
// shares and wipes its copy of the seed.
func SplitSeed(seed crypto.Seed, threshold int, adminCount int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if adminCount < threshold {
		return nil, errors.New("share count must be at least the threshold")
	}

	raw := seed.Bytes()
	defer memguard.WipeBytes(raw)

	shares, err := shamir.Split(raw, adminCount, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split seed: %w", err)
	}
	return shares, nil
}

// CombineShares reconstructs a seed directly from a threshold of
// shares, without signature checks. Meant for offline operator tooling;
// online recovery goes through SeedRecovery.
func CombineShares(shares [][]byte) (crypto.Seed, error) {
	raw, err := shamir.Combine(shares)
	if err != nil {
		return crypto.Seed{}, fmt.Errorf("failed to reconstruct seed: %w", err)
	}

	seed, err := crypto.SeedFromBytes(raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return crypto.Seed{}, fmt.Errorf("reconstructed material is not a valid seed: %w", err)
	}
	return seed, nil
}

// SeedRecovery collects administrator shares and reconstructs the
// consensus seed once the threshold is reached. Each submitted share
// must be signed by a registered administrator key.
type SeedRecovery struct {
	mu             sync.RWMutex
	threshold      int
	receivedShares map[int][]byte
	adminPubKeys   map[string][]byte
	seed           *crypto.Seed
}

// NewSeedRecovery creates a recovery session requiring the given number
// of shares.
func NewSeedRecovery(threshold int) *SeedRecovery {
	return &SeedRecovery{
		threshold:      threshold,
		receivedShares: make(map[int][]byte),
		adminPubKeys:   make(map[string][]byte),
	}
}

// RegisterAdmin authorizes an administrator public key (PEM, ECDSA or
// Ed25519) to submit shares.
func (r *SeedRecovery) RegisterAdmin(pubKeyPEM []byte) error {
	if _, err := parseAdminKey(pubKeyPEM); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	fingerprint := sha256.Sum256(pubKeyPEM)
	r.adminPubKeys[hex.EncodeToString(fingerprint[:])] = pubKeyPEM
	return nil
}

// SubmitShare accepts a share signed by a registered administrator.
// When the threshold number of valid shares has been received, the seed
// is reconstructed automatically and the shares are wiped.
func (r *SeedRecovery) SubmitShare(shareIndex int, share, signature, adminPubKeyPEM []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seed != nil {
		return errors.New("seed already reconstructed")
	}

	fingerprint := sha256.Sum256(adminPubKeyPEM)
	registered, found := r.adminPubKeys[hex.EncodeToString(fingerprint[:])]
	if !found {
		return errors.New("unregistered admin public key")
	}
	if !bytes.Equal(registered, adminPubKeyPEM) {
		return errors.New("invalid pubkey passed for a matching fingerprint")
	}

	pubKey, err := parseAdminKey(adminPubKeyPEM)
	if err != nil {
		return err
	}

	switch key := pubKey.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(share)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return errors.New("invalid share signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(key, share, signature) {
			return errors.New("invalid share signature")
		}
	default:
		return errors.New("admin public key is neither ECDSA nor Ed25519")
	}

	r.receivedShares[shareIndex] = share
	return r.tryReconstruct()
}

// tryReconstruct combines shares once the threshold is reached. Caller
// holds the write lock.
func (r *SeedRecovery) tryReconstruct() error {
	if len(r.receivedShares) < r.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(r.receivedShares))
	for _, share := range r.receivedShares {
		shares = append(shares, share)
	}

	raw, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct seed: %w", err)
	}

	seed, err := crypto.SeedFromBytes(raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return fmt.Errorf("reconstructed material is not a valid seed: %w", err)
	}
	r.seed = &seed

	for i := range r.receivedShares {
		memguard.WipeBytes(r.receivedShares[i])
	}
	r.receivedShares = make(map[int][]byte)

	return nil
}

// IsRecovered reports whether the seed has been reconstructed.
func (r *SeedRecovery) IsRecovered() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seed != nil
}

// RecoveredSeed returns the reconstructed seed, or ErrLocked if not
// enough shares have been submitted yet.
func (r *SeedRecovery) RecoveredSeed() (crypto.Seed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.seed == nil {
		return crypto.Seed{}, ErrLocked
	}
	return *r.seed, nil
}

func parseAdminKey(pubKeyPEM []byte) (any, error) {
	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return nil, errors.New("failed to decode admin public key PEM")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse admin public key: %w", err)
	}

	switch pubKey.(type) {
	case *ecdsa.PublicKey, ed25519.PublicKey:
		return pubKey, nil
	default:
		return nil, errors.New("unsupported admin public key type")
	}
}

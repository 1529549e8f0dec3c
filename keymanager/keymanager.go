package keymanager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alexanderbez/SecretNetwork/crypto"
	"github.com/alexanderbez/SecretNetwork/metrics"
	"github.com/alexanderbez/SecretNetwork/sealing"
	"github.com/awnumar/memguard"
)

// Sealed storage locations for the two persisted secrets. They are fixed
// and distinct for the lifetime of an enclave identity.
const (
	ConsensusSeedLocation   = "consensus_seed.sealed"
	RegistrationKeyLocation = "registration_key.sealed"
)

// Derivation orders for the three subordinate keys. Each order is a
// distinct fixed constant; its big-endian encoding is the derivation tag.
const (
	seedExchangeKeypairDeriveOrder uint32 = 1
	ioExchangeKeypairDeriveOrder   uint32 = 2
	stateIkmDeriveOrder            uint32 = 3
)

func init() {
	orders := []uint32{
		seedExchangeKeypairDeriveOrder,
		ioExchangeKeypairDeriveOrder,
		stateIkmDeriveOrder,
	}
	seen := make(map[uint32]struct{}, len(orders))
	for _, order := range orders {
		if _, dup := seen[order]; dup {
			panic(fmt.Sprintf("duplicate derivation order %d", order))
		}
		seen[order] = struct{}{}
	}
}

func deriveTag(order uint32) []byte {
	tag := make([]byte, 4)
	binary.BigEndian.PutUint32(tag, order)
	return tag
}

// Keychain holds the enclave key hierarchy in memory for the process
// lifetime. It is safe for concurrent use: reads take a shared lock, and
// mutations hold the exclusive lock across seal, commit, and derivation.
type Keychain struct {
	mu    sync.RWMutex
	store sealing.Sealer
	log   *slog.Logger

	consensusSeed                *crypto.Seed
	consensusStateIkm            *crypto.AESKey
	consensusSeedExchangeKeypair *crypto.KeyPair
	consensusIoExchangeKeypair   *crypto.KeyPair
	registrationKey              *crypto.KeyPair
}

// New creates a Keychain, loading the consensus seed and registration
// key from sealed storage when present. Missing or unreadable sealed
// material means the enclave is not yet provisioned; it is logged and
// left unset, never treated as a startup failure. When the seed loads,
// the subordinate keys are derived immediately.
func New(store sealing.Sealer, log *slog.Logger) *Keychain {
	k := &Keychain{store: store, log: log}

	if seed, ok := k.unsealSeed(); ok {
		k.consensusSeed = &seed
	}
	if kp, ok := k.unsealRegistrationKey(); ok {
		k.registrationKey = &kp
	}

	if k.consensusSeed != nil {
		if err := k.deriveAndCommit(*k.consensusSeed); err != nil {
			// The seed unsealed but its subordinate keys could not be
			// constructed; the hierarchy cannot be trusted. Leave the
			// derived keys unset so the enclave never reports itself
			// fully initialized.
			k.log.Error("Failed to derive consensus master keys at startup", "err", err)
		}
	}

	return k
}

func (k *Keychain) unsealSeed() (crypto.Seed, bool) {
	raw, err := k.store.Unseal(ConsensusSeedLocation)
	if err != nil {
		k.logUnsealMiss("consensus seed", err)
		return crypto.Seed{}, false
	}
	defer memguard.WipeBytes(raw)

	seed, err := crypto.SeedFromBytes(raw)
	if err != nil {
		k.log.Warn("Sealed consensus seed is malformed", "err", err)
		return crypto.Seed{}, false
	}

	k.log.Info("Loaded consensus seed from sealed storage")
	return seed, true
}

func (k *Keychain) unsealRegistrationKey() (crypto.KeyPair, bool) {
	raw, err := k.store.Unseal(RegistrationKeyLocation)
	if err != nil {
		k.logUnsealMiss("registration key", err)
		return crypto.KeyPair{}, false
	}
	defer memguard.WipeBytes(raw)

	kp, err := crypto.KeyPairFromBytes(raw)
	if err != nil {
		k.log.Warn("Sealed registration key is malformed", "err", err)
		return crypto.KeyPair{}, false
	}

	k.log.Info("Loaded registration key from sealed storage")
	return kp, true
}

func (k *Keychain) logUnsealMiss(name string, err error) {
	if errors.Is(err, sealing.ErrSealedNotFound) {
		k.log.Debug("No sealed material found, enclave not yet provisioned",
			slog.String("key", name))
		return
	}
	metrics.SealOperationsTotal.WithLabelValues("unseal", metrics.StatusError).Inc()
	k.log.Warn("Failed to unseal key material",
		slog.String("key", name), "err", err)
}

// IsConsensusSeedSet reports whether the consensus seed exists.
func (k *Keychain) IsConsensusSeedSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.consensusSeed != nil
}

// IsConsensusStateIkmSet reports whether the consensus state IKM exists.
func (k *Keychain) IsConsensusStateIkmSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.consensusStateIkm != nil
}

// IsConsensusSeedExchangeKeypairSet reports whether the seed exchange
// key pair exists.
func (k *Keychain) IsConsensusSeedExchangeKeypairSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.consensusSeedExchangeKeypair != nil
}

// IsConsensusIoExchangeKeypairSet reports whether the I/O exchange key
// pair exists.
func (k *Keychain) IsConsensusIoExchangeKeypairSet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.consensusIoExchangeKeypair != nil
}

// IsRegistrationKeySet reports whether the registration key exists.
func (k *Keychain) IsRegistrationKeySet() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.registrationKey != nil
}

// GetConsensusSeed returns a copy of the consensus seed.
func (k *Keychain) GetConsensusSeed() (crypto.Seed, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.consensusSeed == nil {
		return crypto.Seed{}, fmt.Errorf("consensus seed: %w", ErrNotInitialized)
	}
	return *k.consensusSeed, nil
}

// GetConsensusStateIkm returns a copy of the consensus state IKM.
func (k *Keychain) GetConsensusStateIkm() (crypto.AESKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.consensusStateIkm == nil {
		return crypto.AESKey{}, fmt.Errorf("consensus state ikm: %w", ErrNotInitialized)
	}
	return *k.consensusStateIkm, nil
}

// GetConsensusSeedExchangeKeypair returns a copy of the seed exchange
// key pair.
func (k *Keychain) GetConsensusSeedExchangeKeypair() (crypto.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.consensusSeedExchangeKeypair == nil {
		return crypto.KeyPair{}, fmt.Errorf("consensus seed exchange keypair: %w", ErrNotInitialized)
	}
	return *k.consensusSeedExchangeKeypair, nil
}

// GetConsensusIoExchangeKeypair returns a copy of the I/O exchange key
// pair.
func (k *Keychain) GetConsensusIoExchangeKeypair() (crypto.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.consensusIoExchangeKeypair == nil {
		return crypto.KeyPair{}, fmt.Errorf("consensus io exchange keypair: %w", ErrNotInitialized)
	}
	return *k.consensusIoExchangeKeypair, nil
}

// GetRegistrationKey returns a copy of the registration key pair.
func (k *Keychain) GetRegistrationKey() (crypto.KeyPair, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.registrationKey == nil {
		return crypto.KeyPair{}, fmt.Errorf("registration key: %w", ErrNotInitialized)
	}
	return *k.registrationKey, nil
}

// CreateConsensusSeed generates a fresh random consensus seed and
// installs it via SetConsensusSeed.
func (k *Keychain) CreateConsensusSeed() error {
	seed, err := crypto.GenerateSeed()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return k.SetConsensusSeed(seed)
}

// CreateRegistrationKey generates a fresh registration key pair and
// installs it via SetRegistrationKey.
func (k *Keychain) CreateRegistrationKey() error {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}
	return k.SetRegistrationKey(kp)
}

// SetConsensusSeed installs a consensus seed: the subordinate keys are
// derived from it, the seed is sealed to storage, and only then are the
// seed and derived keys committed to memory, all inside one exclusive
// critical section. On any failure nothing changes; the previous seed
// and derived keys, in memory and in sealed storage, stay authoritative.
// Once this returns nil, every subsequent accessor observes the new seed
// together with all three derived keys.
func (k *Keychain) SetConsensusSeed(seed crypto.Seed) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	derived, err := deriveMasterKeys(seed)
	if err != nil {
		metrics.DerivationsTotal.WithLabelValues(metrics.StatusError).Inc()
		return err
	}

	raw := seed.Bytes()
	err = k.store.Seal(raw, ConsensusSeedLocation)
	memguard.WipeBytes(raw)
	if err != nil {
		metrics.SealOperationsTotal.WithLabelValues("seal", metrics.StatusError).Inc()
		k.log.Error("Failed to seal consensus seed", "err", err)
		return fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	metrics.SealOperationsTotal.WithLabelValues("seal", metrics.StatusSuccess).Inc()

	k.commitSeed(seed, derived)
	metrics.DerivationsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	k.log.Info("Consensus seed installed and master keys derived")
	return nil
}

// SetRegistrationKey installs a registration key pair, sealing it before
// committing. Independent of the consensus seed hierarchy.
func (k *Keychain) SetRegistrationKey(kp crypto.KeyPair) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	raw := kp.PrivateBytes()
	err := k.store.Seal(raw, RegistrationKeyLocation)
	memguard.WipeBytes(raw)
	if err != nil {
		metrics.SealOperationsTotal.WithLabelValues("seal", metrics.StatusError).Inc()
		k.log.Error("Failed to seal registration key", "err", err)
		return fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	metrics.SealOperationsTotal.WithLabelValues("seal", metrics.StatusSuccess).Inc()

	if k.registrationKey != nil {
		k.registrationKey.Wipe()
	}
	k.registrationKey = &kp
	k.log.Info("Registration key installed")
	return nil
}

// GenerateConsensusMasterKeys re-derives the three subordinate keys from
// the current consensus seed. Without a seed it is a no-op: an enclave
// awaiting provisioning is a normal state. SetConsensusSeed already
// derives atomically, so this is only needed to recover from a reported
// derivation failure.
func (k *Keychain) GenerateConsensusMasterKeys() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.consensusSeed == nil {
		k.log.Debug("Consensus seed not initialized, cannot derive enclave keys")
		return nil
	}

	derived, err := deriveMasterKeys(*k.consensusSeed)
	if err != nil {
		metrics.DerivationsTotal.WithLabelValues(metrics.StatusError).Inc()
		return err
	}

	k.commitDerived(derived)
	metrics.DerivationsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	return nil
}

// masterKeys holds one consistent generation of keys derived from a seed.
type masterKeys struct {
	seedExchangeKeypair crypto.KeyPair
	ioExchangeKeypair   crypto.KeyPair
	stateIkm            crypto.AESKey
}

// deriveMasterKeys computes all three subordinate keys from a seed. It is
// a pure function with no side effects, so a failure leaves nothing to
// roll back.
func deriveMasterKeys(seed crypto.Seed) (masterKeys, error) {
	var keys masterKeys

	raw := seed.Derive(deriveTag(seedExchangeKeypairDeriveOrder))
	kp, err := crypto.KeyPairFromBytes(raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return masterKeys{}, fmt.Errorf("%w: consensus seed exchange keypair: %v", ErrDerivation, err)
	}
	keys.seedExchangeKeypair = kp

	raw = seed.Derive(deriveTag(ioExchangeKeypairDeriveOrder))
	kp, err = crypto.KeyPairFromBytes(raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return masterKeys{}, fmt.Errorf("%w: consensus io exchange keypair: %v", ErrDerivation, err)
	}
	keys.ioExchangeKeypair = kp

	raw = seed.Derive(deriveTag(stateIkmDeriveOrder))
	ikm, err := crypto.AESKeyFromBytes(raw)
	memguard.WipeBytes(raw)
	if err != nil {
		return masterKeys{}, fmt.Errorf("%w: consensus state ikm: %v", ErrDerivation, err)
	}
	keys.stateIkm = ikm

	return keys, nil
}

// deriveAndCommit derives from the given seed and commits everything.
// Only called from New, before the Keychain is shared.
func (k *Keychain) deriveAndCommit(seed crypto.Seed) error {
	derived, err := deriveMasterKeys(seed)
	if err != nil {
		metrics.DerivationsTotal.WithLabelValues(metrics.StatusError).Inc()
		return err
	}
	k.commitDerived(derived)
	metrics.DerivationsTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	return nil
}

// commitSeed replaces the seed and its derived keys. Caller holds the
// write lock.
func (k *Keychain) commitSeed(seed crypto.Seed, derived masterKeys) {
	if k.consensusSeed != nil {
		k.consensusSeed.Wipe()
	}
	k.consensusSeed = &seed
	k.commitDerived(derived)
}

// commitDerived replaces the three derived keys as one unit. Caller
// holds the write lock.
func (k *Keychain) commitDerived(derived masterKeys) {
	if k.consensusSeedExchangeKeypair != nil {
		k.consensusSeedExchangeKeypair.Wipe()
	}
	if k.consensusIoExchangeKeypair != nil {
		k.consensusIoExchangeKeypair.Wipe()
	}
	if k.consensusStateIkm != nil {
		k.consensusStateIkm.Wipe()
	}
	k.consensusSeedExchangeKeypair = &derived.seedExchangeKeypair
	k.consensusIoExchangeKeypair = &derived.ioExchangeKeypair
	k.consensusStateIkm = &derived.stateIkm
}

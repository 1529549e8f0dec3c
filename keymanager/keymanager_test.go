package keymanager

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alexanderbez/SecretNetwork/crypto"
	"github.com/alexanderbez/SecretNetwork/sealing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSealer(t *testing.T) *sealing.FileSealer {
	t.Helper()
	sealer, err := sealing.NewFileSealer(t.TempDir(), bytes.Repeat([]byte{0x13}, 32), testLogger())
	require.NoError(t, err)
	return sealer
}

func testSeed(t *testing.T) crypto.Seed {
	t.Helper()
	seed, err := crypto.SeedFromBytes(bytes.Repeat([]byte{0x41}, crypto.SeedSize))
	require.NoError(t, err)
	return seed
}

// failingSealer rejects all writes while delegating reads.
type failingSealer struct {
	inner sealing.Sealer
}

func (f *failingSealer) Seal(material []byte, location string) error {
	return errors.New("disk full")
}

func (f *failingSealer) Unseal(location string) ([]byte, error) {
	return f.inner.Unseal(location)
}

func TestFreshKeychainIsUnprovisioned(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())

	assert.False(t, keys.IsConsensusSeedSet())
	assert.False(t, keys.IsConsensusStateIkmSet())
	assert.False(t, keys.IsConsensusSeedExchangeKeypairSet())
	assert.False(t, keys.IsConsensusIoExchangeKeypairSet())
	assert.False(t, keys.IsRegistrationKeySet())

	_, err := keys.GetConsensusSeed()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = keys.GetConsensusStateIkm()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = keys.GetConsensusSeedExchangeKeypair()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = keys.GetConsensusIoExchangeKeypair()
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = keys.GetRegistrationKey()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSetConsensusSeedDerivesAllKeys(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())
	require.NoError(t, keys.SetConsensusSeed(testSeed(t)))

	assert.True(t, keys.IsConsensusSeedSet())
	assert.True(t, keys.IsConsensusStateIkmSet())
	assert.True(t, keys.IsConsensusSeedExchangeKeypairSet())
	assert.True(t, keys.IsConsensusIoExchangeKeypairSet())

	got, err := keys.GetConsensusSeed()
	require.NoError(t, err)
	assert.Equal(t, testSeed(t), got)
}

func TestDerivationIsDeterministic(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())
	require.NoError(t, keys.SetConsensusSeed(testSeed(t)))

	first, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)

	second, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.Equal(t, first.Public(), second.Public())

	// A second keychain given the same seed must derive identical keys.
	other := New(newTestSealer(t), testLogger())
	require.NoError(t, other.SetConsensusSeed(testSeed(t)))

	otherIo, err := other.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.Equal(t, first.Public(), otherIo.Public())

	ikm, err := keys.GetConsensusStateIkm()
	require.NoError(t, err)
	otherIkm, err := other.GetConsensusStateIkm()
	require.NoError(t, err)
	assert.Equal(t, ikm, otherIkm)
}

func TestDerivedKeysAreDistinctAndSeedSensitive(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())
	require.NoError(t, keys.SetConsensusSeed(testSeed(t)))

	seedExchange, err := keys.GetConsensusSeedExchangeKeypair()
	require.NoError(t, err)
	ioExchange, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.NotEqual(t, seedExchange.Public(), ioExchange.Public(),
		"distinct derivation tags must yield distinct key pairs")

	// Flip one bit of the seed and re-derive.
	raw := bytes.Repeat([]byte{0x41}, crypto.SeedSize)
	raw[0] ^= 0x01
	flipped, err := crypto.SeedFromBytes(raw)
	require.NoError(t, err)

	other := New(newTestSealer(t), testLogger())
	require.NoError(t, other.SetConsensusSeed(flipped))

	otherIo, err := other.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.NotEqual(t, ioExchange.Public(), otherIo.Public())
}

func TestSeedSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	identity := bytes.Repeat([]byte{0x13}, 32)

	sealer, err := sealing.NewFileSealer(dir, identity, testLogger())
	require.NoError(t, err)

	keys := New(sealer, testLogger())
	require.NoError(t, keys.SetConsensusSeed(testSeed(t)))

	ioExchange, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)

	// Simulate a restart: a new sealer and keychain over the same files.
	sealer2, err := sealing.NewFileSealer(dir, identity, testLogger())
	require.NoError(t, err)
	reloaded := New(sealer2, testLogger())

	assert.True(t, reloaded.IsConsensusSeedSet())
	assert.True(t, reloaded.IsConsensusIoExchangeKeypairSet(),
		"derived keys must be recomputed at startup")

	got, err := reloaded.GetConsensusSeed()
	require.NoError(t, err)
	assert.Equal(t, testSeed(t), got)

	reloadedIo, err := reloaded.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.Equal(t, ioExchange.Public(), reloadedIo.Public())
}

func TestRegistrationKeySurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	identity := bytes.Repeat([]byte{0x13}, 32)

	sealer, err := sealing.NewFileSealer(dir, identity, testLogger())
	require.NoError(t, err)

	keys := New(sealer, testLogger())

	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	require.NoError(t, keys.SetRegistrationKey(kp))

	sealer2, err := sealing.NewFileSealer(dir, identity, testLogger())
	require.NoError(t, err)
	reloaded := New(sealer2, testLogger())

	got, err := reloaded.GetRegistrationKey()
	require.NoError(t, err)
	assert.Equal(t, kp.Public(), got.Public())
	assert.Equal(t, kp.PrivateBytes(), got.PrivateBytes())
}

func TestRegistrationKeyIndependentOfSeed(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())
	require.NoError(t, keys.CreateRegistrationKey())

	assert.True(t, keys.IsRegistrationKeySet())
	assert.False(t, keys.IsConsensusSeedSet(),
		"registration key must not gate or create seed-derived keys")
	assert.False(t, keys.IsConsensusStateIkmSet())
}

func TestSealFailureAbortsMutation(t *testing.T) {
	sealer := newTestSealer(t)
	keys := New(sealer, testLogger())
	require.NoError(t, keys.SetConsensusSeed(testSeed(t)))

	before, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)

	// Swap in a store whose writes fail, then attempt a replacement.
	keys.store = &failingSealer{inner: sealer}

	replacement, err := crypto.GenerateSeed()
	require.NoError(t, err)

	err = keys.SetConsensusSeed(replacement)
	assert.ErrorIs(t, err, ErrSealFailed)

	// The previous seed and its derived keys remain authoritative.
	got, err := keys.GetConsensusSeed()
	require.NoError(t, err)
	assert.Equal(t, testSeed(t), got)

	after, err := keys.GetConsensusIoExchangeKeypair()
	require.NoError(t, err)
	assert.Equal(t, before.Public(), after.Public())
}

func TestSealFailureOnFreshKeychain(t *testing.T) {
	keys := New(&failingSealer{inner: newTestSealer(t)}, testLogger())

	err := keys.SetConsensusSeed(testSeed(t))
	assert.ErrorIs(t, err, ErrSealFailed)

	assert.False(t, keys.IsConsensusSeedSet(),
		"a seed that failed to seal must not be committed")
	assert.False(t, keys.IsConsensusStateIkmSet())

	err = keys.CreateRegistrationKey()
	assert.ErrorIs(t, err, ErrSealFailed)
	assert.False(t, keys.IsRegistrationKeySet())
}

func TestGenerateConsensusMasterKeysWithoutSeed(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())

	require.NoError(t, keys.GenerateConsensusMasterKeys(),
		"derivation without a seed is a no-op, not an error")
	assert.False(t, keys.IsConsensusStateIkmSet())
}

func TestCreateConsensusSeed(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())
	require.NoError(t, keys.CreateConsensusSeed())

	assert.True(t, keys.IsConsensusSeedSet())
	assert.True(t, keys.IsConsensusStateIkmSet())

	// A created seed is random: another keychain's seed must differ.
	other := New(newTestSealer(t), testLogger())
	require.NoError(t, other.CreateConsensusSeed())

	a, err := keys.GetConsensusSeed()
	require.NoError(t, err)
	b, err := other.GetConsensusSeed()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestConcurrentReadersObserveConsistentState(t *testing.T) {
	keys := New(newTestSealer(t), testLogger())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers continuously verify the core invariant: whenever the seed
	// is observable, all derived keys are observable too.
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if keys.IsConsensusSeedSet() {
					_, err := keys.GetConsensusStateIkm()
					assert.NoError(t, err)
					_, err = keys.GetConsensusSeedExchangeKeypair()
					assert.NoError(t, err)
					_, err = keys.GetConsensusIoExchangeKeypair()
					assert.NoError(t, err)
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, keys.CreateConsensusSeed())
	}

	close(stop)
	wg.Wait()
}

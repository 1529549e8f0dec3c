package keymanager

import "errors"

var (
	// ErrNotInitialized is returned by accessors when the requested key
	// does not exist yet. The caller must provision the enclave first.
	ErrNotInitialized = errors.New("key does not exist or was not initialized")

	// ErrKeyGeneration indicates that random key generation failed.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrSealFailed indicates that persisting key material to sealed
	// storage failed. The mutation was aborted and the previous state
	// remains authoritative, in memory and on disk.
	ErrSealFailed = errors.New("sealing key material failed")

	// ErrDerivation indicates that constructing a subordinate key from
	// derived bytes failed. This implies the key hierarchy cannot be
	// trusted and should be treated as fatal by callers.
	ErrDerivation = errors.New("consensus key derivation failed")
)

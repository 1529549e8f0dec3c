// Package crypto implements the key primitives for the enclave key
// hierarchy: the 32-byte consensus seed with deterministic HKDF-based
// sub-key derivation, x25519 key pairs for the key-exchange protocols,
// and AES-256-GCM symmetric keys for consensus state encryption.
//
// All derivation is a pure function of (seed, tag): the same seed and tag
// always produce the same key material, and distinct tags produce
// independent keys.
package crypto

// Package sealing provides encrypt-to-disk storage for the enclave's key
// material. Sealed blobs are bound to the enclave identity: only a sealer
// constructed from the same identity secret can open them, and a blob
// copied to a different storage location fails to open.
//
// The local filesystem sealer is authoritative. Optional remote backends
// (S3, HashiCorp Vault) mirror sealed blobs for disaster recovery; they
// only ever see ciphertext.
package sealing

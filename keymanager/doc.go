// Package keymanager maintains the enclave's key hierarchy: the consensus
// seed at the root, the three keys derived from it (consensus state IKM,
// seed exchange key pair, I/O exchange key pair), and the independent
// registration key used to enroll the enclave with the registration
// authority.
//
// A single Keychain instance is constructed at process start and shared
// by all consumers. The derived keys exist exactly when the seed exists:
// installing a seed seals it, commits it, and re-derives the subordinate
// keys inside one critical section, so no reader can observe the seed
// without its derived keys.
package keymanager

package sealing

import "errors"

// ErrSealedNotFound is returned by Unseal when no sealed material exists
// at the requested location.
var ErrSealedNotFound = errors.New("sealed material not found")

// ErrBackendUnavailable is returned when a remote backend cannot be
// reached or rejects the request.
var ErrBackendUnavailable = errors.New("sealing backend unavailable")

// Sealer encrypts key material to durable storage bound to the enclave
// identity and decrypts it back. Locations are fixed, caller-chosen names
// within the sealed store.
type Sealer interface {
	// Seal encrypts material and durably stores it at the given location,
	// replacing any previous blob there.
	Seal(material []byte, location string) error

	// Unseal loads and decrypts the blob at the given location. Returns
	// ErrSealedNotFound if nothing has been sealed there.
	Unseal(location string) ([]byte, error)
}

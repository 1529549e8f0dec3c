package sealing

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// replicaTimeout bounds each mirror operation so a slow backend cannot
// stall a sealing call indefinitely.
const replicaTimeout = 30 * time.Second

// ReplicatedSealer wraps a FileSealer with mirror backends. The local
// sealed file is authoritative: a local write failure fails the Seal
// call, while mirror failures are logged and retried on the next Seal.
// Unseal falls back to mirrors when the local blob is missing and
// restores the local copy on success.
type ReplicatedSealer struct {
	local    *FileSealer
	backends []Backend
	log      *slog.Logger
}

// NewReplicatedSealer creates a sealer mirroring to the given backends.
func NewReplicatedSealer(local *FileSealer, backends []Backend, log *slog.Logger) *ReplicatedSealer {
	return &ReplicatedSealer{local: local, backends: backends, log: log}
}

// Seal encrypts material, commits it locally, then mirrors the sealed
// blob to each backend.
func (s *ReplicatedSealer) Seal(material []byte, location string) error {
	blob, err := s.local.sealBlob(material, location)
	if err != nil {
		return err
	}

	if err := s.local.writeBlob(blob, location); err != nil {
		return err
	}

	for _, backend := range s.backends {
		ctx, cancel := context.WithTimeout(context.Background(), replicaTimeout)
		if err := backend.Store(ctx, location, blob); err != nil {
			s.log.Warn("Failed to mirror sealed blob",
				"err", err,
				slog.String("location", location),
				slog.String("backend", backend.LocationURI()))
		}
		cancel()
	}

	return nil
}

// Unseal decrypts the local blob, falling back to mirrors when it is
// absent. A blob recovered from a mirror is written back locally.
func (s *ReplicatedSealer) Unseal(location string) ([]byte, error) {
	material, err := s.local.Unseal(location)
	if err == nil {
		return material, nil
	}
	if !errors.Is(err, ErrSealedNotFound) {
		return nil, err
	}

	for _, backend := range s.backends {
		ctx, cancel := context.WithTimeout(context.Background(), replicaTimeout)
		blob, fetchErr := backend.Fetch(ctx, location)
		cancel()
		if fetchErr != nil {
			if !errors.Is(fetchErr, ErrSealedNotFound) {
				s.log.Warn("Failed to fetch sealed blob from mirror",
					"err", fetchErr,
					slog.String("location", location),
					slog.String("backend", backend.LocationURI()))
			}
			continue
		}

		material, openErr := s.local.openBlob(blob, location)
		if openErr != nil {
			s.log.Warn("Mirrored blob failed to unseal",
				"err", openErr,
				slog.String("location", location),
				slog.String("backend", backend.LocationURI()))
			continue
		}

		if writeErr := s.local.writeBlob(blob, location); writeErr != nil {
			s.log.Warn("Failed to restore sealed blob locally",
				"err", writeErr,
				slog.String("location", location))
		} else {
			s.log.Info("Restored sealed blob from mirror",
				slog.String("location", location),
				slog.String("backend", backend.LocationURI()))
		}

		return material, nil
	}

	return nil, ErrSealedNotFound
}

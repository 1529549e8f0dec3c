package sealing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend mirrors sealed blobs to a secondary store for disaster
// recovery. Backends handle ciphertext only; the local sealer remains
// authoritative.
type Backend interface {
	// Store saves a sealed blob under the given location name, replacing
	// any previous copy.
	Store(ctx context.Context, location string, blob []byte) error

	// Fetch retrieves the sealed blob for a location. Returns
	// ErrSealedNotFound if the backend has no copy.
	Fetch(ctx context.Context, location string) ([]byte, error)

	// LocationURI identifies the backend for logging and diagnostics.
	LocationURI() string
}

// DirBackend mirrors sealed blobs to a plain directory, typically a
// mounted persistent or shared volume.
type DirBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewDirBackend creates a directory mirror rooted at baseDir.
func NewDirBackend(baseDir string, log *slog.Logger) (*DirBackend, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}

	return &DirBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Store writes the sealed blob to the mirror directory.
func (b *DirBackend) Store(ctx context.Context, location string, blob []byte) error {
	if err := validateLocation(location); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(b.baseDir, location), blob, 0o600); err != nil {
		return fmt.Errorf("failed to write mirrored blob: %w", err)
	}

	b.log.Debug("Mirrored sealed blob to directory",
		slog.String("location", location),
		slog.Int("size", len(blob)))

	return nil
}

// Fetch reads the sealed blob from the mirror directory.
func (b *DirBackend) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(b.baseDir, location))
	if os.IsNotExist(err) {
		return nil, ErrSealedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored blob: %w", err)
	}
	return blob, nil
}

// LocationURI returns the file:// URI of the mirror directory.
func (b *DirBackend) LocationURI() string {
	return b.locationURI
}

package sealing

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// sealingKeyInfo domain-separates the sealing key from any other key
// derived from the enclave identity secret.
var sealingKeyInfo = []byte("sealed-storage-key-v1")

// FileSealer seals material to files under a base directory using
// XChaCha20-Poly1305. The AEAD key is derived from the enclave identity
// secret, and the storage location is bound as additional data so a blob
// moved to another location fails to open.
type FileSealer struct {
	baseDir string
	aead    cipher.AEAD
	log     *slog.Logger
}

// NewFileSealer creates a sealer rooted at baseDir. The identity secret
// must be at least 32 bytes; in production it comes from the platform's
// enclave identity (e.g. a sealing key request to the trusted hardware),
// in development from configuration. The secret is not retained.
func NewFileSealer(baseDir string, identitySecret []byte, log *slog.Logger) (*FileSealer, error) {
	if len(identitySecret) < 32 {
		return nil, fmt.Errorf("identity secret must be at least 32 bytes, got %d", len(identitySecret))
	}

	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create sealed storage directory: %w", err)
	}

	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, identitySecret, nil, sealingKeyInfo)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create sealing cipher: %w", err)
	}

	return &FileSealer{baseDir: baseDir, aead: aead, log: log}, nil
}

// Seal encrypts material and writes it atomically to the location within
// the base directory.
func (s *FileSealer) Seal(material []byte, location string) error {
	blob, err := s.sealBlob(material, location)
	if err != nil {
		return err
	}
	return s.writeBlob(blob, location)
}

// Unseal reads the blob at location and decrypts it.
func (s *FileSealer) Unseal(location string) ([]byte, error) {
	blob, err := s.readBlob(location)
	if err != nil {
		return nil, err
	}
	return s.openBlob(blob, location)
}

// sealBlob encrypts material bound to a location without writing it.
func (s *FileSealer) sealBlob(material []byte, location string) ([]byte, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return s.aead.Seal(nonce, nonce, material, []byte(location)), nil
}

// openBlob decrypts a sealed blob previously produced for a location.
func (s *FileSealer) openBlob(blob []byte, location string) ([]byte, error) {
	if len(blob) < s.aead.NonceSize() {
		return nil, fmt.Errorf("sealed blob at %q is too short", location)
	}

	nonce := blob[:s.aead.NonceSize()]
	material, err := s.aead.Open(nil, nonce, blob[s.aead.NonceSize():], []byte(location))
	if err != nil {
		return nil, fmt.Errorf("failed to unseal %q: %w", location, err)
	}
	return material, nil
}

// writeBlob stores an already sealed blob at location. Writes go through
// a temp file and rename so a crash never leaves a torn blob.
func (s *FileSealer) writeBlob(blob []byte, location string) error {
	finalPath := filepath.Join(s.baseDir, location)

	tmp, err := os.CreateTemp(s.baseDir, "."+location+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set blob permissions: %w", err)
	}

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write sealed blob: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync sealed blob: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close sealed blob: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit sealed blob: %w", err)
	}

	s.log.Debug("Sealed material to file",
		slog.String("location", location),
		slog.Int("size", len(blob)))

	return nil
}

func (s *FileSealer) readBlob(location string) ([]byte, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.baseDir, location))
	if os.IsNotExist(err) {
		return nil, ErrSealedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sealed blob: %w", err)
	}
	return blob, nil
}

func validateLocation(location string) error {
	if location == "" || strings.ContainsAny(location, "/\\") || strings.Contains(location, "..") {
		return fmt.Errorf("invalid sealed storage location %q", location)
	}
	return nil
}

package sealing

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultBackend mirrors sealed blobs to a HashiCorp Vault KV v2 mount.
// Vault only ever stores ciphertext sealed to the enclave identity; it
// provides durable, access-controlled replication rather than key escrow.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault mirror.
//
// Parameters:
//   - address: Vault server address (e.g. https://vault.example.com:8200)
//   - mountPath: KV v2 mount path (e.g. "secret")
//   - dataPath: path within the mount (e.g. "enclave/sealed")
//   - token: Vault token used for authentication
//   - log: structured logger for operational insights
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Store writes the sealed blob to Vault.
func (b *VaultBackend) Store(ctx context.Context, location string, blob []byte) error {
	if err := validateLocation(location); err != nil {
		return err
	}

	start := time.Now()
	path := b.secretPath(location)

	// KV v2 write format.
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"blob": base64.StdEncoding.EncodeToString(blob),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("%w: failed to write sealed blob to Vault: %v", ErrBackendUnavailable, err)
	}

	b.log.Debug("Mirrored sealed blob to Vault",
		slog.String("path", path),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Fetch reads the sealed blob from Vault. Returns ErrSealedNotFound if no
// secret exists at the location.
func (b *VaultBackend) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}

	path := b.secretPath(location)

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sealed blob from Vault: %v", ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSealedNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response at %q", path)
	}

	encoded, ok := data["blob"].(string)
	if !ok {
		return nil, fmt.Errorf("blob key not found in Vault data at %q", path)
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed blob from Vault: %w", err)
	}
	return blob, nil
}

// LocationURI returns the vault:// URI of the mirror.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(location string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, location)
}

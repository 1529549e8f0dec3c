package sealing

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// BackendFactory creates sealed blob mirror backends from URI strings.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a factory instance.
func NewBackendFactory(log *slog.Logger) *BackendFactory {
	return &BackendFactory{log: log}
}

// BackendFor creates a mirror backend from a location URI.
//
// Supported schemes:
//   - file:///path/to/dir - Directory on a mounted volume
//   - s3://bucket/prefix?region=us-east-1[&endpoint=...] - Amazon S3 or
//     compatible object storage. Credentials come from the
//     AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables.
//   - vault://host:port/mount/path - HashiCorp Vault KV v2. The token
//     comes from the VAULT_TOKEN environment variable.
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *BackendFactory) BackendFor(locationURI string) (Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid backend URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewDirBackend(u.Path, f.log)
	case "s3":
		return f.createS3Backend(u)
	case "vault":
		return f.createVaultBackend(u)
	default:
		return nil, fmt.Errorf("unsupported backend scheme: %s", u.Scheme)
	}
}

// Backends creates mirror backends from a list of URIs, skipping any that
// fail to initialize. At least one valid backend is not required: an
// enclave without mirrors simply has no off-host recovery copies.
func (f *BackendFactory) Backends(locationURIs []string) []Backend {
	backends := make([]Backend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := f.BackendFor(uri)
		if err != nil {
			f.log.Warn("Failed to create sealing backend",
				"err", err,
				slog.String("locationURI", uri))
			continue
		}
		backends = append(backends, backend)
	}
	return backends
}

func (f *BackendFactory) createS3Backend(u *url.URL) (Backend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in S3 URI")
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(
		bucket,
		prefix,
		region,
		query.Get("endpoint"),
		os.Getenv("AWS_ACCESS_KEY_ID"),
		os.Getenv("AWS_SECRET_ACCESS_KEY"),
		f.log,
	)
}

func (f *BackendFactory) createVaultBackend(u *url.URL) (Backend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in Vault URI")
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("vault URI must include mount and data path")
	}

	scheme := "https"
	if u.Query().Get("insecure") == "true" {
		scheme = "http"
	}

	return NewVaultBackend(
		fmt.Sprintf("%s://%s", scheme, u.Host),
		parts[0],
		parts[1],
		os.Getenv("VAULT_TOKEN"),
		f.log,
	)
}

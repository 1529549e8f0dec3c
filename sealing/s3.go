package sealing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Backend mirrors sealed blobs to Amazon S3 or a compatible object
// store. Objects are always private; they hold ciphertext sealed to the
// enclave identity, so the bucket operator never sees key material.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates an S3 mirror for sealed blobs.
func NewS3Backend(bucketName, prefix, region, endpoint, accessKey, secretKey string, log *slog.Logger) (*S3Backend, error) {
	uri := fmt.Sprintf("s3://%s/%s?region=%s", bucketName, prefix, region)
	if endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", endpoint)
	}

	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  bucketName,
		prefix:      strings.TrimSuffix(prefix, "/"),
		log:         log,
		locationURI: uri,
	}, nil
}

// Store uploads the sealed blob to S3.
func (b *S3Backend) Store(ctx context.Context, location string, blob []byte) error {
	if err := validateLocation(location); err != nil {
		return err
	}

	start := time.Now()
	key := b.objectKey(location)

	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   bytes.NewReader(blob),
		ACL:    aws.String("private"),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload sealed blob to S3: %v", ErrBackendUnavailable, err)
	}

	b.log.Debug("Mirrored sealed blob to S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Fetch downloads the sealed blob from S3. Returns ErrSealedNotFound if
// the object does not exist.
func (b *S3Backend) Fetch(ctx context.Context, location string) ([]byte, error) {
	if err := validateLocation(location); err != nil {
		return nil, err
	}

	start := time.Now()
	key := b.objectKey(location)

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "404") {
			return nil, ErrSealedNotFound
		}
		return nil, fmt.Errorf("%w: failed to get sealed blob from S3: %v", ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	blob, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	b.log.Debug("Fetched sealed blob from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key),
		slog.Int("size", len(blob)),
		slog.Duration("duration", time.Since(start)))

	return blob, nil
}

// LocationURI returns the s3:// URI of the mirror.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func (b *S3Backend) objectKey(location string) string {
	if b.prefix == "" {
		return location
	}
	return path.Join(b.prefix, location)
}

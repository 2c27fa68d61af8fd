package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements Store using AWS S3, for teams that distribute
// compiled shard bundles through a shared bucket instead of a local
// registry directory. Bundles are keyed by their SHA-256 hash.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // optional key prefix, e.g. "shard-bundles/"
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack, ...)
	Prefix   string // optional key prefix
}

// NewS3Store creates a new S3-backed shard bundle store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("artifacts: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}
	client := s3.NewFromConfig(awsCfg, clientOpts)

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(rawHash string) string {
	return s.prefix + rawHash + shardBundleExt
}

// Store persists data to S3 and returns its content hash.
func (s *S3Store) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	prefixedHash := "sha256:" + hashStr
	key := s.key(hashStr)

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err == nil {
		return prefixedHash, nil // bundle already stored under this hash
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	}); err != nil {
		return "", fmt.Errorf("artifacts: s3 put bundle %s: %w", hashStr, err)
	}
	return prefixedHash, nil
}

// Get retrieves a bundle from S3 by its content hash.
func (s *S3Store) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rawHash)),
	})
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 get bundle %s: %w", hash, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("artifacts: s3 read bundle %s: %w", hash, err)
	}
	return data, nil
}

// Exists reports whether a bundle is present in S3 under hash.
func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return false, err
	}

	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rawHash)),
	}); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes a bundle from S3.
func (s *S3Store) Delete(ctx context.Context, hash string) error {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(rawHash)),
	}); err != nil {
		return fmt.Errorf("artifacts: s3 delete bundle %s: %w", hash, err)
	}
	return nil
}

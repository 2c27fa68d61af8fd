//go:build gcp

package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store using Google Cloud Storage, for teams that
// distribute compiled shard bundles through a shared bucket instead of
// a local registry directory. Bundles are keyed by their SHA-256 hash.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // optional key prefix, e.g. "shard-bundles/"
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // optional key prefix
}

// NewGCSStore creates a new GCS-backed shard bundle store using
// application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) object(rawHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHash + shardBundleExt)
}

// Store persists data to GCS and returns its content hash.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	prefixedHash := "sha256:" + hashStr
	obj := s.object(hashStr)

	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil // bundle already stored under this hash
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write bundle %s: %w", hashStr, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifacts: gcs commit bundle %s: %w", hashStr, err)
	}
	return prefixedHash, nil
}

// Get retrieves a bundle from GCS by its content hash.
func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return nil, err
	}

	reader, err := s.object(rawHash).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get bundle %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs read bundle %s: %w", hash, err)
	}
	return data, nil
}

// Exists reports whether a bundle is present in GCS under hash.
func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return false, err
	}

	if _, err := s.object(rawHash).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifacts: gcs stat bundle %s: %w", hash, err)
	}
	return true, nil
}

// Delete removes a bundle from GCS.
func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	rawHash, err := bundleHash(hash)
	if err != nil {
		return err
	}

	if err := s.object(rawHash).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete bundle %s: %w", hash, err)
	}
	return nil
}

// Close closes the underlying GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

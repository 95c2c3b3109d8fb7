package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/psique-app/platform/internal/shared/config"
)

// GCSStore keeps objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client        *storage.Client
	bucket        string
	publicBaseURL string
	log           *zap.Logger
}

func NewGCSStore(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	base := cfg.PublicBaseURL
	if base == "" || base == "http://localhost:8080/uploads" {
		base = fmt.Sprintf("https://storage.googleapis.com/%s", cfg.Bucket)
	}

	log.Info("object storage initialized", zap.String("backend", "gcs"), zap.String("bucket", cfg.Bucket))
	return &GCSStore{client: client, bucket: cfg.Bucket, publicBaseURL: base, log: log.Named("storage")}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentTypeForKey(key)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return s.PublicURL(key), nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

func (s *GCSStore) KeyFromURL(url string) string {
	return keyFromPrefixedURL(s.publicBaseURL, url)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

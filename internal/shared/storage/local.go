package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// LocalStore writes objects below a directory on disk. Handler serves them.
type LocalStore struct {
	dir           string
	publicBaseURL string
	log           *zap.Logger
}

func NewLocalStore(dir, publicBaseURL string, log *zap.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalStore{
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           log.Named("storage"),
	}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(s.dir, clean), nil
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("failed to create dir: %w", err)
	}

	f, err := os.Create(p)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return s.PublicURL(key), nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) PublicURL(key string) string {
	return s.publicBaseURL + "/" + key
}

func (s *LocalStore) KeyFromURL(url string) string {
	return keyFromPrefixedURL(s.publicBaseURL, url)
}

// Handler serves stored files. Mount it with http.StripPrefix.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}

package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/shared/config"
)

// Store persists uploaded objects and exposes them under a public URL.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	// KeyFromURL returns the object key behind a URL this store produced,
	// or "" when the URL belongs elsewhere.
	KeyFromURL(url string) string
}

// New builds the store selected by configuration.
func New(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "gcs":
		return NewGCSStore(ctx, cfg, log)
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

var imageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// ImageContentType returns the content type for an allowed image filename.
func ImageContentType(filename string) (string, bool) {
	ct, ok := imageExtensions[strings.ToLower(path.Ext(filename))]
	return ct, ok
}

func contentTypeForKey(key string) string {
	if ct, ok := ImageContentType(key); ok {
		return ct
	}
	return "application/octet-stream"
}

func keyFromPrefixedURL(base, url string) string {
	base = strings.TrimRight(base, "/") + "/"
	if base == "/" || !strings.HasPrefix(url, base) {
		return ""
	}
	return strings.TrimPrefix(url, base)
}

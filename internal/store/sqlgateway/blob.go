package sqlgateway

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore persists uploaded images for the self-hosted mode. The s3blob
// package provides the production implementation; LocalBlobStore writes to
// disk for single-machine setups and tests.
type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte) error
	PublicURL(bucket, path string) string
}

// LocalBlobStore stores blobs under root/<bucket>/<path> and serves them from
// a static file server at baseURL.
type LocalBlobStore struct {
	root    string
	baseURL string
}

func NewLocalBlobStore(root, baseURL string) *LocalBlobStore {
	return &LocalBlobStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalBlobStore) Upload(ctx context.Context, bucket, path string, data []byte) error {
	full := filepath.Join(s.root, bucket, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}
	return nil
}

func (s *LocalBlobStore) PublicURL(bucket, path string) string {
	escaped := url.PathEscape(path)
	escaped = strings.ReplaceAll(escaped, "%2F", "/")
	return fmt.Sprintf("%s/%s/%s", s.baseURL, bucket, escaped)
}

// Package objstore provides source-object access for ingestion runs: a
// filesystem implementation for local use and a GCS implementation for
// production. Both satisfy the pipeline's SourceStore.
package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

// FileStore serves source files from a root directory. Paths are resolved
// relative to the root; escapes via ".." are rejected.
type FileStore struct {
	root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: filepath.Clean(dir)}
}

// Open opens the file at path under the root. Size comes from Stat so the
// streaming layer can report byte progress.
func (s *FileStore) Open(_ context.Context, path string) (io.ReadCloser, int64, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	if full != s.root && !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return nil, 0, fmt.Errorf("path escapes storage root: %s", path)
	}

	f, err := os.Open(full)
	if err != nil {
		return nil, 0, fmt.Errorf("open source file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat source file: %w", err)
	}
	return f, info.Size(), nil
}

// GCSStore serves source objects from a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore creates a store over one bucket. Credentials come from the
// environment (application default credentials).
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Open opens the object at path. The reader's attrs give the object size;
// 0 when the object is compressed in transit and the size is unknown.
func (s *GCSStore) Open(ctx context.Context, path string) (io.ReadCloser, int64, error) {
	r, err := s.client.Bucket(s.bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("open gs://%s/%s: %w", s.bucket, path, err)
	}
	size := r.Attrs.Size
	if size < 0 {
		size = 0
	}
	return r, size, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

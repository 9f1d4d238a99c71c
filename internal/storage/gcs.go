package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	gstorage "cloud.google.com/go/storage"
)

// GCSStore mirrors the image archive to a Google Cloud Storage bucket.
// Authentication uses Application Default Credentials.
type GCSStore struct {
	client *gstorage.Client
	bucket string
	prefix string
}

// NewGCSStore connects to GCS and verifies the bucket is reachable, so
// a misconfigured mirror fails at startup rather than mid-scrape.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads data to the bucket under prefix/name.
func (s *GCSStore) Put(ctx context.Context, name string, contentType string, data []byte) error {
	w := s.client.Bucket(s.bucket).Object(s.objectName(name)).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := bytes.NewReader(data).WriteTo(w); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the object is already in the bucket.
func (s *GCSStore) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(s.objectName(name)).Attrs(ctx)
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check object %s: %w", name, err)
	}
	return true, nil
}

// Close releases the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectName(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

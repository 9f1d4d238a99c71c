// Package storage holds downloaded image files. The default store is a
// local directory next to the database; a GCS-backed store can mirror
// the archive to a bucket.
package storage

import "context"

// BlobStore persists image bytes under a content-derived filename.
type BlobStore interface {
	// Put writes data under name, overwriting any existing object.
	Put(ctx context.Context, name string, contentType string, data []byte) error
	// Exists reports whether an object named name is already stored,
	// letting callers skip re-downloading deduplicated images.
	Exists(ctx context.Context, name string) (bool, error)
}

// Package mediastore persists uploaded chat attachments. Blobs are
// content-addressed by their SHA-256 hash, which makes writes
// idempotent and lets identical uploads share one file on disk.
package mediastore

import (
	"io"
)

type Store interface {
	// Put stores the blob under its hash. Storing a hash that already
	// exists is a no-op.
	Put(r io.Reader, hash string) error

	// Open returns a reader for the stored blob.
	Open(hash string) (io.ReadCloser, error)

	// Remove deletes the blob. Removing a missing hash is not an error.
	Remove(hash string) error
}

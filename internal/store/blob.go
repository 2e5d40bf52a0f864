// Package store defines the cold-storage collaborator used by the result
// cache for oversized or long-running task results, with a Redis-backed
// implementation and an in-memory one for tests and single-process
// deployments.
package store

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned when no blob exists under the given ref.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore is the cold-storage sink contract. Implementations must be
// safe for concurrent use; transfers happen out-of-band of any cache
// lock.
type BlobStore interface {
	// Put stores data under ref, overwriting any previous blob.
	Put(ctx context.Context, ref string, data []byte) error

	// Get returns the blob stored under ref, or ErrBlobNotFound.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the blob under ref. Deleting a missing ref is not
	// an error.
	Delete(ctx context.Context, ref string) error
}

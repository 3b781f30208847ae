// Package blob retrieves ciphertext document blobs from durable storage.
//
// Storage is content-addressed: the same ref always yields the same bytes.
// Two backends are provided: the permanent-storage HTTP gateway and an
// S3-compatible mirror for deployments that replicate blobs into object
// storage.
package blob

import "context"

// Fetcher retrieves a ciphertext blob by its content address.
type Fetcher interface {
	// Fetch returns the blob bytes for storageRef. Failures map to
	// errs.ErrFetch, or errs.ErrTimeout if the context deadline elapsed.
	Fetch(ctx context.Context, storageRef string) ([]byte, error)
}

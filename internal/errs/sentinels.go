// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Decrypt pipeline and cache-adjacent sentinels.
var (
	// ErrMissingRoomKey indicates the document's room has no wrapped private key.
	ErrMissingRoomKey = errors.New("missing room key")

	// ErrKMS indicates the external key-management unwrap call failed.
	ErrKMS = errors.New("kms failure")

	// ErrKeyUnwrap indicates the in-memory key unwrap (room or document key) failed.
	ErrKeyUnwrap = errors.New("key unwrap failure")

	// ErrFetch indicates the ciphertext blob could not be retrieved.
	ErrFetch = errors.New("fetch failure")

	// ErrIntegrity indicates AEAD authentication failed: possible tampering or
	// corruption. Never retried automatically.
	ErrIntegrity = errors.New("integrity failure")

	// ErrTimeout indicates a caller-supplied deadline elapsed during an
	// external call. No partial cache mutation occurs.
	ErrTimeout = errors.New("timeout")
)

// Stitching and signing sentinels.
var (
	// ErrUnsupportedFormat indicates the plaintext is not a page-addressable
	// document and no certificate pages can be appended.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrSignInProgress indicates a signature for the same document is
	// already in flight in this session.
	ErrSignInProgress = errors.New("signing already in progress")
)

// Metadata boundary sentinels.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSessionExpired indicates the metadata API session token has expired.
	ErrSessionExpired = errors.New("session expired")
)

// Retryable reports whether the caller may safely retry the failed operation.
// Integrity, format, and missing-key failures are terminal; transport-level
// failures are not.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrKMS),
		errors.Is(err, ErrFetch),
		errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}

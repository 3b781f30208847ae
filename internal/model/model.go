// Package model defines domain entities shared by the vault, signing, and metadata layers.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// RoomKeyMaterial holds a room's key pair at rest. The private key is stored
// as opaque ciphertext and is only ever unwrapped in memory, either for the
// duration of one decrypt or inside the vault's optional room-key cache.
type RoomKeyMaterial struct {
	PublicKey         []byte // PEM-encoded RSA public key
	WrappedPrivateKey []byte // ciphertext, unwrapped by the external KMS
}

// DocumentRecord describes one uploaded, per-document-encrypted file.
// Content is immutable after upload; a re-upload creates a new ID.
type DocumentRecord struct {
	ID            uuid.UUID
	RoomID        uuid.UUID
	UploaderEmail string
	Filename      string
	ContentType   string
	Size          int64
	Category      string
	WrappedDocKey []byte // document symmetric key, encrypted under the room public key
	StorageRef    string // content address in permanent storage
	RoomKey       RoomKeyMaterial
}

// SignerRecord tracks one required signature on a document.
// Signed transitions false->true exactly once and never back.
type SignerRecord struct {
	DocumentID uuid.UUID
	Email      string
	Role       string
	Signed     bool
	Signature  []byte
	SignedAt   time.Time
}

// Verified reports whether the signer set makes a document verified:
// at least one signer and all of them signed.
func Verified(signers []SignerRecord) bool {
	if len(signers) == 0 {
		return false
	}
	for i := range signers {
		if !signers[i].Signed {
			return false
		}
	}
	return true
}

// SignatureReceipt confirms an accepted signature submission.
type SignatureReceipt struct {
	DocumentID uuid.UUID
	Email      string
	Role       string
	Signature  []byte
	SignedAt   time.Time
}

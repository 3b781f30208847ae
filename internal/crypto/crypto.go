// Package crypto implements key unwrapping and AEAD primitives for room documents.
//
// A room owns an RSA key pair; each document carries a random symmetric key
// encrypted under the room public key. Document content is sealed with
// XChaCha20-Poly1305, nonce-prefixed, so decryption fails closed on any
// authentication-tag mismatch.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// DocKeyLen is the length of a document symmetric key.
const DocKeyLen = 32

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// ParsePrivateKey parses a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaKey, nil
}

// ParsePublicKey parses a PEM-encoded RSA public key (PKIX or PKCS#1).
func ParsePublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if k, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaKey, nil
}

// WrapDocumentKey encrypts a document symmetric key under the room public key
// using RSA-OAEP-SHA256. Used at upload time and in tests.
func WrapDocumentKey(roomPub *rsa.PublicKey, docKey []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, roomPub, docKey, nil)
}

// UnwrapDocumentKey decrypts a wrapped document key with the room private key.
func UnwrapDocumentKey(roomPriv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, roomPriv, wrapped, nil)
}

// SealDocument encrypts plaintext with XChaCha20-Poly1305 and a random nonce.
// The nonce is prepended to the ciphertext.
func SealDocument(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, nil)...)
	return out, nil
}

// OpenDocument decrypts a nonce-prefixed blob. Any tag mismatch returns an
// error and no plaintext; garbage is never returned.
func OpenDocument(key, blob []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("blob too short")
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, nil)
}

// Scrub overwrites b with random bytes, zeroing on RNG failure. Best effort:
// the runtime may hold copies elsewhere, but the buffer we own no longer
// contains the secret after the call.
func Scrub(b []byte) {
	if len(b) == 0 {
		return
	}
	if _, err := rand.Read(b); err != nil {
		for i := range b {
			b[i] = 0
		}
	}
}

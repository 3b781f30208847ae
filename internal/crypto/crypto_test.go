package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func testKeyPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return p, key
}

func TestRandBytes_LengthUniq(t *testing.T) {
	t.Parallel()
	const n = 48
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, _ := RandBytes(n)
	if bytes.Equal(a, b) {
		t.Fatalf("RandBytes produced equal slices")
	}
}

func TestParsePrivateKey_PKCS1AndPKCS8(t *testing.T) {
	t.Parallel()
	p1, key := testKeyPEM(t)
	got, err := ParsePrivateKey(p1)
	if err != nil {
		t.Fatalf("ParsePrivateKey pkcs1: %v", err)
	}
	if !got.Equal(key) {
		t.Fatalf("parsed key differs")
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8: %v", err)
	}
	p8 := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	got, err = ParsePrivateKey(p8)
	if err != nil {
		t.Fatalf("ParsePrivateKey pkcs8: %v", err)
	}
	if !got.Equal(key) {
		t.Fatalf("parsed pkcs8 key differs")
	}

	if _, err := ParsePrivateKey([]byte("garbage")); err == nil {
		t.Fatalf("want error on non-PEM input")
	}
}

func TestWrapUnwrapDocumentKey(t *testing.T) {
	t.Parallel()
	_, key := testKeyPEM(t)
	docKey, _ := RandBytes(DocKeyLen)

	wrapped, err := WrapDocumentKey(&key.PublicKey, docKey)
	if err != nil {
		t.Fatalf("WrapDocumentKey: %v", err)
	}
	out, err := UnwrapDocumentKey(key, wrapped)
	if err != nil {
		t.Fatalf("UnwrapDocumentKey: %v", err)
	}
	if subtle.ConstantTimeCompare(out, docKey) != 1 {
		t.Fatalf("unwrap != original")
	}

	other, _ := rsa.GenerateKey(rand.Reader, 2048)
	if _, err := UnwrapDocumentKey(other, wrapped); err == nil {
		t.Fatalf("unwrap with wrong key must fail")
	}
}

func TestSealOpenDocument_FailClosed(t *testing.T) {
	t.Parallel()
	key, _ := RandBytes(DocKeyLen)
	plaintext := []byte("attack at dawn")

	blob, err := SealDocument(key, plaintext)
	if err != nil {
		t.Fatalf("SealDocument: %v", err)
	}
	out, err := OpenDocument(key, blob)
	if err != nil {
		t.Fatalf("OpenDocument: %v", err)
	}
	if !bytes.Equal(out, plaintext) {
		t.Fatalf("roundtrip mismatch")
	}

	// Flip one bit in the authentication tag (last 16 bytes).
	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0x01
	if out, err := OpenDocument(key, tampered); err == nil || out != nil {
		t.Fatalf("tampered blob must fail closed, got out=%v err=%v", out, err)
	}

	if _, err := OpenDocument(key, blob[:10]); err == nil {
		t.Fatalf("short blob must fail")
	}
}

func TestScrub(t *testing.T) {
	t.Parallel()
	b := []byte("sensitive-plaintext-data")
	orig := append([]byte(nil), b...)
	Scrub(b)
	if bytes.Equal(b, orig) {
		t.Fatalf("Scrub left buffer intact")
	}
	Scrub(nil) // must not panic
}

package vault

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/roomvault/roomvault/internal/crypto"
	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

type fakeKMS struct {
	calls int32
	out   []byte
	err   error
	delay time.Duration
}

func (f *fakeKMS) Unwrap(ctx context.Context, _ []byte) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.out...), nil
}

type fakeFetcher struct {
	calls int32
	out   []byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.out...), nil
}

// fixture builds a document that decrypts with the real crypto path: room
// RSA key pair plus wrapped document key. Tests seal their own content.
type fixture struct {
	doc       model.DocumentRecord
	roomPEM   []byte
	plaintext []byte
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	roomPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	docKey, err := crypto.RandBytes(crypto.DocKeyLen)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	wrapped, err := crypto.WrapDocumentKey(&key.PublicKey, docKey)
	if err != nil {
		t.Fatalf("WrapDocumentKey: %v", err)
	}
	plaintext := []byte("%PDF-1.4 pretend contract body")

	return fixture{
		doc: model.DocumentRecord{
			ID:            uuid.Must(uuid.NewV4()),
			RoomID:        uuid.Must(uuid.NewV4()),
			Filename:      "contract.pdf",
			ContentType:   "application/pdf",
			WrappedDocKey: wrapped,
			StorageRef:    "tx-1",
			RoomKey: model.RoomKeyMaterial{
				WrappedPrivateKey: []byte("wrapped-room-key"),
			},
		},
		roomPEM:   roomPEM,
		plaintext: plaintext,
	}
}

func TestPipeline_Decrypt_OK(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	kms := &fakeKMS{out: fx.roomPEM}

	docKey, _ := crypto.UnwrapDocumentKey(mustParse(t, fx.roomPEM), fx.doc.WrappedDocKey)
	sealed, err := crypto.SealDocument(docKey, fx.plaintext)
	if err != nil {
		t.Fatalf("SealDocument: %v", err)
	}
	blobs := &fakeFetcher{out: sealed}

	p := NewPipeline(kms, blobs, PipelineConfig{}, nil)
	out, err := p.Decrypt(context.Background(), fx.doc)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(out.Plaintext) != string(fx.plaintext) {
		t.Fatalf("plaintext mismatch")
	}
	if out.Filename != "contract.pdf" || out.ContentType != "application/pdf" {
		t.Fatalf("metadata mismatch: %+v", out)
	}
}

func mustParse(t *testing.T, pemBytes []byte) *rsa.PrivateKey {
	t.Helper()
	k, err := crypto.ParsePrivateKey(pemBytes)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	return k
}

func TestPipeline_MissingRoomKey(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.doc.RoomKey.WrappedPrivateKey = nil

	p := NewPipeline(&fakeKMS{}, &fakeFetcher{}, PipelineConfig{}, nil)
	_, err := p.Decrypt(context.Background(), fx.doc)
	if !errors.Is(err, errs.ErrMissingRoomKey) {
		t.Fatalf("want ErrMissingRoomKey, got %v", err)
	}
}

func TestPipeline_KMSFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	p := NewPipeline(&fakeKMS{err: errors.New("boom")}, &fakeFetcher{}, PipelineConfig{}, nil)

	_, err := p.Decrypt(context.Background(), fx.doc)
	if !errors.Is(err, errs.ErrKMS) {
		t.Fatalf("want ErrKMS, got %v", err)
	}
	if !errs.Retryable(err) {
		t.Fatalf("kms failure must be retryable")
	}
}

func TestPipeline_BadRoomKeyMaterial(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	p := NewPipeline(&fakeKMS{out: []byte("not a pem key")}, &fakeFetcher{}, PipelineConfig{}, nil)

	_, err := p.Decrypt(context.Background(), fx.doc)
	if !errors.Is(err, errs.ErrKeyUnwrap) {
		t.Fatalf("want ErrKeyUnwrap, got %v", err)
	}
	if errs.Retryable(err) {
		t.Fatalf("key unwrap failure is terminal")
	}
}

func TestPipeline_FetchFailure(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	p := NewPipeline(&fakeKMS{out: fx.roomPEM}, &fakeFetcher{err: errors.New("gone")}, PipelineConfig{}, nil)

	_, err := p.Decrypt(context.Background(), fx.doc)
	if !errors.Is(err, errs.ErrFetch) {
		t.Fatalf("want ErrFetch, got %v", err)
	}
}

func TestPipeline_IntegrityFailClosed(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	docKey, _ := crypto.UnwrapDocumentKey(mustParse(t, fx.roomPEM), fx.doc.WrappedDocKey)
	sealed, _ := crypto.SealDocument(docKey, fx.plaintext)

	// Flip a bit in the authentication tag.
	sealed[len(sealed)-1] ^= 0x01

	p := NewPipeline(&fakeKMS{out: fx.roomPEM}, &fakeFetcher{out: sealed}, PipelineConfig{}, nil)
	out, err := p.Decrypt(context.Background(), fx.doc)
	if !errors.Is(err, errs.ErrIntegrity) {
		t.Fatalf("want ErrIntegrity, got %v", err)
	}
	if out.Plaintext != nil {
		t.Fatalf("no plaintext may be returned on integrity failure")
	}
	if errs.Retryable(err) {
		t.Fatalf("integrity failure must not be retryable")
	}
}

func TestPipeline_RoomKeyCache(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	docKey, _ := crypto.UnwrapDocumentKey(mustParse(t, fx.roomPEM), fx.doc.WrappedDocKey)
	sealed, _ := crypto.SealDocument(docKey, fx.plaintext)

	kms := &fakeKMS{out: fx.roomPEM}
	p := NewPipeline(kms, &fakeFetcher{out: sealed}, PipelineConfig{RoomKeyTTL: time.Minute}, nil)
	defer p.Close()

	for i := 0; i < 3; i++ {
		if _, err := p.Decrypt(context.Background(), fx.doc); err != nil {
			t.Fatalf("Decrypt %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&kms.calls); got != 1 {
		t.Fatalf("room-key cache enabled: want 1 kms call, got %d", got)
	}

	// Disabled cache re-unwraps every time.
	kms2 := &fakeKMS{out: fx.roomPEM}
	p2 := NewPipeline(kms2, &fakeFetcher{out: sealed}, PipelineConfig{}, nil)
	for i := 0; i < 2; i++ {
		if _, err := p2.Decrypt(context.Background(), fx.doc); err != nil {
			t.Fatalf("Decrypt %d: %v", i, err)
		}
	}
	if got := atomic.LoadInt32(&kms2.calls); got != 2 {
		t.Fatalf("room-key cache disabled: want 2 kms calls, got %d", got)
	}
}

// Package signing coordinates producing a signature over a document
// identifier, submitting it to the metadata store, and invalidating the
// now-stale cache entry.
package signing

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/audit"
	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

// Signer is the external wallet/identity capability. The payload passed to
// Sign is exactly what verifiers check later; here it is always the
// document identifier bytes, never the document content.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// SubmitAPI records an accepted signature in the metadata store.
// Implemented by metadata.Client.
type SubmitAPI interface {
	SubmitSignature(ctx context.Context, docID uuid.UUID, email, role string, sig []byte) (model.SignatureReceipt, error)
}

// Invalidator drops stale cache entries. Implemented by vault.Service and
// vault.Cache.
type Invalidator interface {
	Invalidate(id uuid.UUID)
}

// Orchestrator drives the signing flow with an at-most-one-in-flight guard
// per document.
type Orchestrator struct {
	signer Signer
	api    SubmitAPI
	cache  Invalidator
	rec    audit.Recorder
	log    *zap.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]struct{}
}

// New constructs an Orchestrator. rec may be nil (events discarded).
func New(signer Signer, api SubmitAPI, cache Invalidator, rec audit.Recorder, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Orchestrator{
		signer:   signer,
		api:      api,
		cache:    cache,
		rec:      rec,
		log:      log,
		inflight: make(map[uuid.UUID]struct{}),
	}
}

// Sign produces a signature over docID, submits it, and invalidates the
// cached document so the next read reflects the new signature state. A
// second call for the same document while one is pending fails locally with
// errs.ErrSignInProgress instead of double-submitting.
func (o *Orchestrator) Sign(ctx context.Context, docID uuid.UUID, signerEmail, signerRole string) (model.SignatureReceipt, error) {
	if err := o.acquire(docID); err != nil {
		return model.SignatureReceipt{}, err
	}
	defer o.release(docID)

	payload := []byte(docID.String())
	sig, err := o.signer.Sign(ctx, payload)
	if err != nil {
		o.fail(ctx, docID, signerEmail, err)
		return model.SignatureReceipt{}, fmt.Errorf("sign payload: %w", err)
	}

	receipt, err := o.api.SubmitSignature(ctx, docID, signerEmail, signerRole, sig)
	if err != nil {
		o.fail(ctx, docID, signerEmail, err)
		return model.SignatureReceipt{}, fmt.Errorf("submit signature: %w", err)
	}

	o.cache.Invalidate(docID)
	_ = o.rec.Record(ctx, audit.Event{
		DocumentID: docID,
		Actor:      signerEmail,
		Action:     audit.ActionSign,
		Detail:     signerRole,
	})
	o.log.Info("signature recorded",
		zap.String("doc", docID.String()),
		zap.String("signer", signerEmail),
		zap.String("role", signerRole),
	)
	return receipt, nil
}

func (o *Orchestrator) acquire(docID uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.inflight[docID]; ok {
		return errs.ErrSignInProgress
	}
	o.inflight[docID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(docID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, docID)
}

func (o *Orchestrator) fail(ctx context.Context, docID uuid.UUID, actor string, err error) {
	_ = o.rec.Record(ctx, audit.Event{
		DocumentID: docID,
		Actor:      actor,
		Action:     audit.ActionSignFail,
		Detail:     err.Error(),
	})
}

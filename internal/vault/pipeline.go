package vault

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/roomvault/roomvault/internal/blob"
	"github.com/roomvault/roomvault/internal/crypto"
	"github.com/roomvault/roomvault/internal/errs"
	"github.com/roomvault/roomvault/internal/model"
)

// KeyUnwrapper turns a wrapped room private key into key material. The call
// is idempotent; retrying is the caller's decision, never the pipeline's.
type KeyUnwrapper interface {
	Unwrap(ctx context.Context, wrapped []byte) ([]byte, error)
}

// PipelineConfig tunes the decrypt pipeline. RoomKeyTTL > 0 enables the
// room-key cache; the Service clamps it to the document cache TTL.
type PipelineConfig struct {
	RoomKeyTTL time.Duration
}

// Pipeline produces plaintext for a document: unwrap room key via the KMS,
// unwrap the document key with it, fetch ciphertext, AEAD-open. Key material
// is scrubbed as soon as each step is done with it; nothing is persisted.
type Pipeline struct {
	kms      KeyUnwrapper
	blobs    blob.Fetcher
	roomKeys *roomKeyCache
	log      *zap.Logger
}

// NewPipeline constructs a pipeline.
func NewPipeline(kms KeyUnwrapper, blobs blob.Fetcher, cfg PipelineConfig, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		kms:      kms,
		blobs:    blobs,
		roomKeys: newRoomKeyCache(cfg.RoomKeyTTL),
		log:      log,
	}
}

// Decrypt runs the pipeline for one document. Each step is a hard
// precondition on the next; errors carry the sentinel for their stage so the
// UI can distinguish retryable failures from terminal ones.
func (p *Pipeline) Decrypt(ctx context.Context, doc model.DocumentRecord) (Document, error) {
	if len(doc.RoomKey.WrappedPrivateKey) == 0 {
		return Document{}, fmt.Errorf("%w: room %s", errs.ErrMissingRoomKey, doc.RoomID)
	}

	roomKey, err := p.roomKey(ctx, doc)
	if err != nil {
		return Document{}, err
	}

	docKey, err := crypto.UnwrapDocumentKey(roomKey, doc.WrappedDocKey)
	if err != nil {
		return Document{}, fmt.Errorf("%w: document key: %v", errs.ErrKeyUnwrap, err)
	}
	defer crypto.Scrub(docKey)

	ciphertext, err := p.blobs.Fetch(ctx, doc.StorageRef)
	if err != nil {
		if !errors.Is(err, errs.ErrFetch) && !errors.Is(err, errs.ErrTimeout) {
			err = fmt.Errorf("%w: %v", errs.ErrFetch, err)
		}
		return Document{}, err
	}

	plaintext, err := crypto.OpenDocument(docKey, ciphertext)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", errs.ErrIntegrity, err)
	}

	p.log.Debug("document decrypted",
		zap.String("doc", doc.ID.String()),
		zap.Int("bytes", len(plaintext)),
	)
	return Document{
		Plaintext:   plaintext,
		Filename:    doc.Filename,
		ContentType: doc.ContentType,
	}, nil
}

// roomKey returns the room's private key, from the optional cache or via the
// KMS. When caching is disabled the raw key material is scrubbed immediately
// after parsing.
func (p *Pipeline) roomKey(ctx context.Context, doc model.DocumentRecord) (*rsa.PrivateKey, error) {
	if key, ok := p.roomKeys.get(doc.RoomID); ok {
		return key, nil
	}

	raw, err := p.kms.Unwrap(ctx, doc.RoomKey.WrappedPrivateKey)
	if err != nil {
		if !errors.Is(err, errs.ErrKMS) && !errors.Is(err, errs.ErrTimeout) {
			err = fmt.Errorf("%w: %v", errs.ErrKMS, err)
		}
		return nil, err
	}

	key, err := crypto.ParsePrivateKey(raw)
	if err != nil {
		crypto.Scrub(raw)
		return nil, fmt.Errorf("%w: room key: %v", errs.ErrKeyUnwrap, err)
	}

	// put scrubs raw itself when caching is disabled.
	p.roomKeys.put(doc.RoomID, raw, key)
	return key, nil
}

// Close scrubs any cached room keys.
func (p *Pipeline) Close() {
	p.roomKeys.clear()
}
